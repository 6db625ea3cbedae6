// Package main provides an offline CLI that clusters question exports.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/lectern/internal/report"
	"github.com/thebtf/lectern/internal/reportsource"
	"github.com/thebtf/lectern/pkg/models"
	"github.com/thebtf/lectern/pkg/similarity"
)

// Output formats.
const (
	formatJSON = "json"
	formatText = "text"
)

// inputList collects repeated --input flags.
type inputList []string

func (l *inputList) String() string { return strings.Join(*l, ",") }

func (l *inputList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// fileResult is the JSON output for one input file.
type fileResult struct {
	File      string              `json:"file"`
	Threshold float64             `json:"threshold"`
	Clusters  []models.Cluster    `json:"clusters"`
	Stats     models.ClusterStats `json:"stats"`

	report *report.Report
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inputs inputList
	fs.Var(&inputs, "input", "Question export to cluster (repeatable; also accepted as arguments)")
	threshold := fs.Float64("threshold", similarity.DefaultThreshold, "Similarity threshold in [0, 1]")
	format := fs.String("format", formatText, "Output format: json or text")
	top := fs.Int("top", 5, "Clusters listed in the text summary")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	inputs = append(inputs, fs.Args()...)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: stderr, NoColor: true})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	switch {
	case len(inputs) == 0:
		fmt.Fprintln(stderr, "at least one --input is required")
		return 2
	case !similarity.ValidThreshold(*threshold):
		fmt.Fprintf(stderr, "threshold %v outside [0, 1]\n", *threshold)
		return 2
	case *format != formatJSON && *format != formatText:
		fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return 2
	}

	results, err := clusterFiles(context.Background(), inputs, *threshold, *top)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := write(stdout, *format, results); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// clusterFiles processes every file concurrently and returns results in input order.
func clusterFiles(ctx context.Context, paths []string, threshold float64, top int) ([]fileResult, error) {
	reports := report.NewService(nil, nil, threshold, top)
	results := make([]fileResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			payload, err := decodeInput(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			rep := reports.Build(ctx, report.Options{}, threshold, payload)
			results[i] = fileResult{
				File:      path,
				Threshold: threshold,
				Clusters:  rep.Clusters,
				Stats:     rep.Stats,
				report:    rep,
			}
			log.Debug().
				Str("file", path).
				Int("questions", rep.Stats.TotalOriginal).
				Int("clusters", rep.Stats.TotalClusters).
				Msg("Clustered")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// decodeInput accepts a bare array of question records or a report payload
// (optionally inside a proxy envelope).
func decodeInput(data []byte) (*reportsource.Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty input")
	}
	if trimmed[0] == '[' {
		var questions []models.QuestionRecord
		if err := json.Unmarshal(trimmed, &questions); err != nil {
			return nil, fmt.Errorf("decode question list: %w", err)
		}
		return &reportsource.Payload{FrequentQuestions: questions}, nil
	}
	return reportsource.DecodePayload(trimmed)
}

func write(w io.Writer, format string, results []fileResult) error {
	if format == formatJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "== %s (threshold %.2f) ==\n", res.File, res.Threshold)
		if err := report.WriteText(w, res.report); err != nil {
			return err
		}
	}
	return nil
}
