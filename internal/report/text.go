package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// WriteText renders r as a plain-text document.
func WriteText(w io.Writer, r *Report) error {
	var buf bytes.Buffer

	buf.WriteString("ENHANCED LECTURER REPORT\n")
	buf.WriteString("Student Question Analysis & Insights\n")
	fmt.Fprintf(&buf, "Report Period: %s to %s\n\n", orNA(r.Range.Start), orNA(r.Range.End))

	buf.WriteString("Executive Summary\n")
	fmt.Fprintf(&buf, "  Total Questions Analyzed:     %d\n", r.Summary.TotalQuestions)
	fmt.Fprintf(&buf, "  Question Clusters Identified: %d\n", r.Summary.TotalClusters)
	fmt.Fprintf(&buf, "  Duplicate Reduction:          %d%%\n", r.Summary.ReductionPercent)
	fmt.Fprintf(&buf, "  Active Students:              %d\n\n", r.Summary.ActiveStudents)

	for _, chart := range r.Charts {
		if chart.Kind == ChartClusters {
			continue
		}
		heading(&buf, chart.Title)
		rows := make([][]string, 0, len(chart.Bars))
		for _, b := range chart.Bars {
			rows = append(rows, []string{b.Label, strconv.Itoa(b.Count)})
		}
		renderTable(&buf, []string{"Label", "Count"}, rows)
		buf.WriteString("\n")
	}

	if len(r.Clusters) > 0 {
		heading(&buf, "Question Clustering Analysis")
		fmt.Fprintf(&buf, "Total Question Clusters: %d\n", r.Stats.TotalClusters)
		fmt.Fprintf(&buf, "Duplicates Identified:   %d\n", r.Stats.DuplicatesFound)
		fmt.Fprintf(&buf, "Reduction Achieved:      %d%%\n\n", r.Stats.ReductionPercent)

		rows := make([][]string, 0, len(r.TopClusters))
		for _, c := range r.TopClusters {
			rows = append(rows, []string{
				strconv.Itoa(c.Rank),
				strconv.Itoa(c.TotalCount),
				c.Representative,
				strconv.Itoa(c.SimilarCount),
			})
		}
		renderTable(&buf, []string{"#", "Asked", "Representative question", "Similar"}, rows)
		buf.WriteString("\n")
	}

	if len(r.TopicSummaries) > 0 {
		heading(&buf, "Data Visualization Summary")
		for _, ts := range r.TopicSummaries {
			fmt.Fprintf(&buf, "%s - Topic Distribution:\n", ts.Course)
			for _, tc := range ts.Topics {
				fmt.Fprintf(&buf, "  %s: %d\n", tc.Topic, tc.Count)
			}
		}
		buf.WriteString("\n")
	}

	if len(r.InactiveUsers) > 0 {
		heading(&buf, "Inactive Students")
		for _, st := range r.InactiveUsers {
			fmt.Fprintf(&buf, "  %s (%d)\n", st.Label, st.Count)
		}
		buf.WriteString("\n")
	}

	if r.Recommendations != "" {
		heading(&buf, "Lecturer Recommendations")
		buf.WriteString(r.Recommendations)
		buf.WriteString("\n\n")
	}

	fmt.Fprintf(&buf, "Generated on %s\n", r.GeneratedAt.Format("2006-01-02 15:04 MST"))

	_, err := w.Write(buf.Bytes())
	return err
}

func heading(buf *bytes.Buffer, title string) {
	buf.WriteString(title)
	buf.WriteString("\n")
	buf.WriteString(strings.Repeat("-", len([]rune(title))))
	buf.WriteString("\n")
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(rows)
	table.Render()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
