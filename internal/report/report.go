// Package report builds lecturer reports: it fetches the raw payload, clusters
// the frequent questions and shapes the result for charts and text output.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/lectern/internal/courses"
	"github.com/thebtf/lectern/internal/privacy"
	"github.com/thebtf/lectern/internal/reportsource"
	"github.com/thebtf/lectern/pkg/models"
	"github.com/thebtf/lectern/pkg/similarity"
)

// dateLayout is the calendar date format of report ranges.
const dateLayout = "2006-01-02"

// defaultTopicSummary is how many topics per course the distribution summary lists.
const defaultTopicSummary = 3

// Input validation errors.
var (
	ErrInvalidRange     = errors.New("invalid report range")
	ErrInvalidThreshold = errors.New("similarity threshold must be between 0 and 1")
)

// Chart kinds.
const (
	ChartStudents = "students"
	ChartTopics   = "topics"
	ChartClusters = "clusters"
)

// Options selects what a report covers. Threshold is optional; nil means the
// service default.
type Options struct {
	StartDate              string   `json:"startDate"`
	EndDate                string   `json:"endDate"`
	IncludeTop5            bool     `json:"includeTop5"`
	IncludeInactive        bool     `json:"includeInactive"`
	IncludeRecommendations bool     `json:"includeRecommendations"`
	Threshold              *float64 `json:"similarityThreshold,omitempty"`
}

// Summary is the executive summary block.
type Summary struct {
	TotalQuestions    int `json:"totalQuestions"`
	TotalClusters     int `json:"totalClusters"`
	ReductionPercent  int `json:"reductionPercent"`
	ActiveStudents    int `json:"activeStudents"`
	RedactedQuestions int `json:"redactedQuestions,omitempty"` // e-mail removed before clustering
}

// ClusterSummary is one entry of the top question clusters list.
type ClusterSummary struct {
	Rank           int    `json:"rank"`
	Representative string `json:"representative"`
	TotalCount     int    `json:"totalCount"`
	SimilarCount   int    `json:"similarCount"`
}

// Bar is a single labelled value of a bar chart.
type Bar struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// BarChart is a titled series ready for a chart renderer.
type BarChart struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Bars  []Bar  `json:"bars"`
}

// TopicSummary lists the leading topics of one course.
type TopicSummary struct {
	Course string                    `json:"course"`
	Topics []reportsource.TopicCount `json:"topics"`
}

// Student is a privacy-masked student entry.
type Student struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Report is a generated lecturer report.
type Report struct {
	ID              string              `json:"id"`
	Range           reportsource.Range  `json:"range"`
	Threshold       float64             `json:"threshold"`
	Summary         Summary             `json:"summary"`
	Clusters        []models.Cluster    `json:"clusters"`
	Stats           models.ClusterStats `json:"stats"`
	TopClusters     []ClusterSummary    `json:"topClusters"`
	Charts          []BarChart          `json:"charts"`
	TopicSummaries  []TopicSummary      `json:"topicSummaries"`
	InactiveUsers   []Student           `json:"inactiveUsers,omitempty"`
	Recommendations string              `json:"recommendations,omitempty"`
	Filename        string              `json:"filename"`
	GeneratedAt     time.Time           `json:"generatedAt"`
}

// CourseCatalog supplies course titles and display order.
type CourseCatalog interface {
	Title(course string) string
	TopicLimit(course string) int
	Order(courses []string) []string
}

// Service generates reports.
type Service struct {
	source      reportsource.Source
	courses     CourseCatalog
	threshold   float64
	topClusters int
	metrics     *Metrics
	now         func() time.Time
}

// NewService creates a report service. An invalid threshold or non-positive
// topClusters falls back to the package defaults; a nil catalog knows no courses.
func NewService(source reportsource.Source, catalog CourseCatalog, threshold float64, topClusters int) *Service {
	if catalog == nil {
		catalog = courses.NewRegistry(nil)
	}
	if !similarity.ValidThreshold(threshold) {
		threshold = similarity.DefaultThreshold
	}
	if topClusters <= 0 {
		topClusters = 5
	}
	return &Service{
		source:      source,
		courses:     catalog,
		threshold:   threshold,
		topClusters: topClusters,
		now:         time.Now,
	}
}

// WithMetrics attaches instruments recorded on every generated report.
func (s *Service) WithMetrics(m *Metrics) *Service {
	s.metrics = m
	return s
}

// Threshold returns the default similarity threshold.
func (s *Service) Threshold() float64 {
	return s.threshold
}

// Validate checks opts and resolves the effective threshold.
func (s *Service) Validate(opts Options) (float64, error) {
	if strings.TrimSpace(opts.StartDate) == "" || strings.TrimSpace(opts.EndDate) == "" {
		return 0, fmt.Errorf("%w: both startDate and endDate are required", ErrInvalidRange)
	}
	start, err := time.Parse(dateLayout, opts.StartDate)
	if err != nil {
		return 0, fmt.Errorf("%w: startDate %q is not YYYY-MM-DD", ErrInvalidRange, opts.StartDate)
	}
	end, err := time.Parse(dateLayout, opts.EndDate)
	if err != nil {
		return 0, fmt.Errorf("%w: endDate %q is not YYYY-MM-DD", ErrInvalidRange, opts.EndDate)
	}
	if start.After(end) {
		return 0, fmt.Errorf("%w: start date cannot be after end date", ErrInvalidRange)
	}

	threshold := s.threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
		if !similarity.ValidThreshold(threshold) {
			return 0, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
		}
	}
	return threshold, nil
}

// IsInvalidInput reports whether err comes from rejected Options.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrInvalidThreshold)
}

// Generate fetches the payload for opts and builds the report.
func (s *Service) Generate(ctx context.Context, opts Options) (*Report, error) {
	threshold, err := s.Validate(opts)
	if err != nil {
		return nil, err
	}

	payload, err := s.source.Fetch(ctx, reportsource.Request{
		StartDate:                 opts.StartDate,
		EndDate:                   opts.EndDate,
		IncludeTop5:               opts.IncludeTop5,
		IncludeInactive:           opts.IncludeInactive,
		IncludeRecommendations:    opts.IncludeRecommendations,
		IncludeQuestionClustering: true,
		SimilarityThreshold:       threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch report data: %w", err)
	}

	r := s.Build(ctx, opts, threshold, payload)

	log.Info().
		Str("id", r.ID).
		Str("start", r.Range.Start).
		Str("end", r.Range.End).
		Int("questions", r.Summary.TotalQuestions).
		Int("clusters", r.Summary.TotalClusters).
		Int("reduction", r.Summary.ReductionPercent).
		Msg("Report generated")

	return r, nil
}

// Build shapes a fetched payload into a report without any I/O.
func (s *Service) Build(ctx context.Context, opts Options, threshold float64, payload *reportsource.Payload) *Report {
	if payload == nil {
		payload = &reportsource.Payload{}
	}

	questions := make([]models.QuestionRecord, len(payload.FrequentQuestions))
	redacted := 0
	for i, q := range payload.FrequentQuestions {
		if privacy.ContainsEmail(q.Question) {
			redacted++
		}
		questions[i] = models.QuestionRecord{Question: privacy.Clean(q.Question), Count: q.Count}
	}

	clusters := make([]models.Cluster, 0)
	if len(questions) > 0 {
		start := time.Now()
		clusters = similarity.ClusterQuestions(questions, threshold)
		if s.metrics != nil {
			s.metrics.RecordClustering(ctx, len(questions), len(clusters), time.Since(start))
		}
	}
	stats := similarity.GetClusterStats(clusters)

	rng := payload.Range
	if rng.Start == "" {
		rng.Start = opts.StartDate
	}
	if rng.End == "" {
		rng.End = opts.EndDate
	}

	r := &Report{
		ID:        uuid.NewString(),
		Range:     rng,
		Threshold: threshold,
		Summary: Summary{
			TotalQuestions:    len(questions),
			TotalClusters:     len(clusters),
			ReductionPercent:  similarity.ReductionPercent(len(questions), len(clusters)),
			ActiveStudents:    len(payload.Top5),
			RedactedQuestions: redacted,
		},
		Clusters:        clusters,
		Stats:           stats,
		TopClusters:     topClusters(clusters, s.topClusters),
		TopicSummaries:  s.topicSummaries(payload.TopTopicsPerCourse),
		InactiveUsers:   students(payload.InactiveUsers),
		Recommendations: strings.TrimSpace(payload.Recommendations),
		Filename:        Filename(opts.StartDate, opts.EndDate),
		GeneratedAt:     s.now().UTC(),
	}
	r.Charts = s.charts(payload, r.TopClusters)

	if s.metrics != nil {
		s.metrics.RecordReport(ctx)
	}
	return r
}

// Filename is the name the rendered report is saved under.
func Filename(startDate, endDate string) string {
	return fmt.Sprintf("enhanced-lecturer-report-%s-%s.pdf", startDate, endDate)
}

func topClusters(clusters []models.Cluster, n int) []ClusterSummary {
	if n > len(clusters) {
		n = len(clusters)
	}
	result := make([]ClusterSummary, 0, n)
	for i, c := range clusters[:n] {
		result = append(result, ClusterSummary{
			Rank:           i + 1,
			Representative: c.Representative.Question,
			TotalCount:     c.TotalCount,
			SimilarCount:   c.Size() - 1,
		})
	}
	return result
}

func students(list []reportsource.StudentActivity) []Student {
	if len(list) == 0 {
		return nil
	}
	result := make([]Student, 0, len(list))
	for _, st := range list {
		result = append(result, Student{Label: privacy.StudentLabel(st.Name, st.Email), Count: st.Count})
	}
	return result
}

func (s *Service) courseOrder(topics map[string][]reportsource.TopicCount) []string {
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	return s.courses.Order(names)
}

func (s *Service) topicSummaries(topics map[string][]reportsource.TopicCount) []TopicSummary {
	result := make([]TopicSummary, 0, len(topics))
	for _, course := range s.courseOrder(topics) {
		limit := s.courses.TopicLimit(course)
		if limit <= 0 {
			limit = defaultTopicSummary
		}
		list := topics[course]
		if len(list) > limit {
			list = list[:limit]
		}
		result = append(result, TopicSummary{Course: course, Topics: list})
	}
	return result
}

func (s *Service) charts(payload *reportsource.Payload, top []ClusterSummary) []BarChart {
	charts := make([]BarChart, 0, 2+len(payload.TopTopicsPerCourse))

	if len(payload.Top5) > 0 {
		bars := make([]Bar, 0, len(payload.Top5))
		for _, st := range payload.Top5 {
			bars = append(bars, Bar{Label: privacy.StudentLabel(st.Name, st.Email), Count: st.Count})
		}
		charts = append(charts, BarChart{Kind: ChartStudents, Title: "Top 5 Most Active Students", Bars: bars})
	}

	for _, course := range s.courseOrder(payload.TopTopicsPerCourse) {
		topics := payload.TopTopicsPerCourse[course]
		if len(topics) == 0 {
			continue
		}
		bars := make([]Bar, 0, len(topics))
		for _, tc := range topics {
			bars = append(bars, Bar{Label: tc.Topic, Count: tc.Count})
		}
		charts = append(charts, BarChart{Kind: ChartTopics, Title: s.courses.Title(course), Bars: bars})
	}

	if len(top) > 0 {
		bars := make([]Bar, 0, len(top))
		for _, c := range top {
			bars = append(bars, Bar{Label: c.Representative, Count: c.TotalCount})
		}
		charts = append(charts, BarChart{Kind: ChartClusters, Title: "Top Question Clusters", Bars: bars})
	}
	return charts
}
