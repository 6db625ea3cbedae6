package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/lectern/internal/courses"
	"github.com/thebtf/lectern/internal/reportsource"
	"github.com/thebtf/lectern/pkg/models"
)

type fakeSource struct {
	payload *reportsource.Payload
	err     error
	got     []reportsource.Request
}

func (f *fakeSource) Fetch(_ context.Context, req reportsource.Request) (*reportsource.Payload, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func samplePayload() *reportsource.Payload {
	return &reportsource.Payload{
		Range: reportsource.Range{Start: "2025-03-01", End: "2025-03-31"},
		Top5: []reportsource.StudentActivity{
			{Email: "dana@uni.example.edu", Count: 12},
			{Email: "kim@uni.example.edu", Name: "Kim", Count: 7},
		},
		InactiveUsers: []reportsource.StudentActivity{{Email: "lee@uni.example.edu", Count: 2}},
		FrequentQuestions: []models.QuestionRecord{
			{Question: "What is TCP?", Count: 3},
			{Question: "What is TCP handshake?", Count: 2},
			{Question: "Explain OSI model", Count: 1},
		},
		TopTopicsPerCourse: map[string][]reportsource.TopicCount{
			"Databases":  {{Topic: "SQL", Count: 2}},
			"Networking": {{Topic: "TCP", Count: 9}, {Topic: "DNS", Count: 4}, {Topic: "UDP", Count: 3}, {Topic: "IP", Count: 1}},
			"C#":         {{Topic: "LINQ", Count: 6}},
		},
		Recommendations: "  Revisit the transport layer.\n",
	}
}

func sampleCatalog() *courses.Registry {
	return courses.NewRegistry([]courses.Course{
		{Name: "C#", Title: "Top Topics in C# Programming"},
		{Name: "Networking", Title: "Top Topics in Networking"},
	})
}

func threshold(v float64) *float64 {
	return &v
}

func newTestService(src reportsource.Source) *Service {
	svc := NewService(src, sampleCatalog(), 0.7, 5)
	svc.now = func() time.Time { return time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC) }
	return svc
}

func validOptions() Options {
	return Options{
		StartDate:              "2025-03-01",
		EndDate:                "2025-03-31",
		IncludeTop5:            true,
		IncludeInactive:        true,
		IncludeRecommendations: true,
		Threshold:              threshold(0.45),
	}
}

func TestGenerate(t *testing.T) {
	src := &fakeSource{payload: samplePayload()}
	svc := newTestService(src)

	r, err := svc.Generate(context.Background(), validOptions())
	require.NoError(t, err)

	require.Len(t, src.got, 1)
	assert.Equal(t, reportsource.Request{
		StartDate:                 "2025-03-01",
		EndDate:                   "2025-03-31",
		IncludeTop5:               true,
		IncludeInactive:           true,
		IncludeRecommendations:    true,
		IncludeQuestionClustering: true,
		SimilarityThreshold:       0.45,
	}, src.got[0])

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 0.45, r.Threshold)
	assert.Equal(t, Summary{TotalQuestions: 3, TotalClusters: 2, ReductionPercent: 33, ActiveStudents: 2}, r.Summary)
	assert.Equal(t, models.ClusterStats{TotalOriginal: 3, TotalClusters: 2, DuplicatesFound: 1, ReductionPercent: 33}, r.Stats)

	require.Len(t, r.Clusters, 2)
	assert.Equal(t, 5, r.Clusters[0].TotalCount)

	assert.Equal(t, []ClusterSummary{
		{Rank: 1, Representative: "What is TCP?", TotalCount: 5, SimilarCount: 1},
		{Rank: 2, Representative: "Explain OSI model", TotalCount: 1, SimilarCount: 0},
	}, r.TopClusters)

	assert.Equal(t, []Student{{Label: "lee", Count: 2}}, r.InactiveUsers)
	assert.Equal(t, "Revisit the transport layer.", r.Recommendations)
	assert.Equal(t, "enhanced-lecturer-report-2025-03-01-2025-03-31.pdf", r.Filename)
	assert.Equal(t, time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC), r.GeneratedAt)
}

func TestGenerate_Charts(t *testing.T) {
	svc := newTestService(&fakeSource{payload: samplePayload()})

	r, err := svc.Generate(context.Background(), validOptions())
	require.NoError(t, err)

	require.Len(t, r.Charts, 5)

	assert.Equal(t, BarChart{
		Kind:  ChartStudents,
		Title: "Top 5 Most Active Students",
		Bars:  []Bar{{Label: "dana", Count: 12}, {Label: "Kim", Count: 7}},
	}, r.Charts[0])

	assert.Equal(t, "Top Topics in C# Programming", r.Charts[1].Title)
	assert.Equal(t, "Top Topics in Networking", r.Charts[2].Title)
	assert.Len(t, r.Charts[2].Bars, 4)
	assert.Equal(t, "Top Topics in Databases", r.Charts[3].Title)

	assert.Equal(t, ChartClusters, r.Charts[4].Kind)
	assert.Equal(t, []Bar{{Label: "What is TCP?", Count: 5}, {Label: "Explain OSI model", Count: 1}}, r.Charts[4].Bars)

	require.Len(t, r.TopicSummaries, 3)
	assert.Equal(t, "C#", r.TopicSummaries[0].Course)
	assert.Equal(t, "Networking", r.TopicSummaries[1].Course)
	assert.Len(t, r.TopicSummaries[1].Topics, 3)
	assert.Equal(t, "Databases", r.TopicSummaries[2].Course)
}

func TestGenerate_DefaultThreshold(t *testing.T) {
	src := &fakeSource{payload: samplePayload()}
	svc := newTestService(src)

	opts := validOptions()
	opts.Threshold = nil
	r, err := svc.Generate(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 0.7, r.Threshold)
	assert.Equal(t, 0.7, src.got[0].SimilarityThreshold)
	assert.Len(t, r.Clusters, 3)
	assert.Equal(t, 0, r.Summary.ReductionPercent)
}

func TestGenerate_NoQuestions(t *testing.T) {
	svc := newTestService(&fakeSource{payload: &reportsource.Payload{}})

	r, err := svc.Generate(context.Background(), validOptions())
	require.NoError(t, err)

	require.NotNil(t, r.Clusters)
	assert.Empty(t, r.Clusters)
	assert.Empty(t, r.TopClusters)
	assert.Empty(t, r.Charts)
	assert.Equal(t, Summary{}, r.Summary)
	assert.Equal(t, models.ClusterStats{}, r.Stats)
	// Range falls back to the requested window
	assert.Equal(t, reportsource.Range{Start: "2025-03-01", End: "2025-03-31"}, r.Range)
}

func TestGenerate_TopClustersCapped(t *testing.T) {
	payload := &reportsource.Payload{FrequentQuestions: []models.QuestionRecord{
		{Question: "What is DNS?", Count: 6},
		{Question: "Explain recursion in programming", Count: 5},
		{Question: "How do I install Python packages?", Count: 4},
		{Question: "Explain TCP congestion control", Count: 3},
	}}
	svc := NewService(&fakeSource{payload: payload}, nil, 0.9, 2)

	opts := validOptions()
	opts.Threshold = nil
	r, err := svc.Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, r.Clusters, 4)
	require.Len(t, r.TopClusters, 2)
	assert.Equal(t, "What is DNS?", r.TopClusters[0].Representative)
}

func TestGenerate_RedactsQuestionText(t *testing.T) {
	payload := &reportsource.Payload{FrequentQuestions: []models.QuestionRecord{
		{Question: "Can <b>kim@example.com</b> explain sockets?", Count: 1},
	}}
	svc := newTestService(&fakeSource{payload: payload})

	r, err := svc.Generate(context.Background(), validOptions())
	require.NoError(t, err)
	assert.Equal(t, "Can [email] explain sockets?", r.Clusters[0].Representative.Question)
	assert.Equal(t, 1, r.Summary.RedactedQuestions)
}

func TestGenerate_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr error
	}{
		{"missing start", func(o *Options) { o.StartDate = "" }, ErrInvalidRange},
		{"missing end", func(o *Options) { o.EndDate = " " }, ErrInvalidRange},
		{"bad format", func(o *Options) { o.StartDate = "03/01/2025" }, ErrInvalidRange},
		{"start after end", func(o *Options) { o.StartDate = "2025-04-01" }, ErrInvalidRange},
		{"negative threshold", func(o *Options) { o.Threshold = threshold(-0.1) }, ErrInvalidThreshold},
		{"threshold above one", func(o *Options) { o.Threshold = threshold(1.2) }, ErrInvalidThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{payload: samplePayload()}
			opts := validOptions()
			tt.mutate(&opts)

			_, err := newTestService(src).Generate(context.Background(), opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsInvalidInput(err))
			assert.Empty(t, src.got)
		})
	}
}

func TestGenerate_SameDayAndBoundaryThresholds(t *testing.T) {
	svc := newTestService(&fakeSource{payload: samplePayload()})

	opts := validOptions()
	opts.EndDate = opts.StartDate
	for _, th := range []float64{0, 1} {
		opts.Threshold = threshold(th)
		_, err := svc.Generate(context.Background(), opts)
		assert.NoError(t, err, "threshold %v", th)
	}
}

func TestGenerate_SourceError(t *testing.T) {
	src := &fakeSource{err: &reportsource.StatusError{StatusCode: 500, Message: "DynamoDB error"}}

	_, err := newTestService(src).Generate(context.Background(), validOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, reportsource.ErrUpstream)
	assert.False(t, IsInvalidInput(err))
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(&fakeSource{}, nil, 3, 0)
	assert.Equal(t, 0.7, svc.Threshold())
	assert.Equal(t, 5, svc.topClusters)
}

func TestWriteText(t *testing.T) {
	svc := newTestService(&fakeSource{payload: samplePayload()})
	r, err := svc.Generate(context.Background(), validOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r))
	out := buf.String()

	assert.Contains(t, out, "ENHANCED LECTURER REPORT")
	assert.Contains(t, out, "Report Period: 2025-03-01 to 2025-03-31")
	assert.Contains(t, out, "Question Clusters Identified: 2")
	assert.Contains(t, out, "Duplicate Reduction:          33%")
	assert.Contains(t, out, "Top Topics in C# Programming")
	assert.Contains(t, out, "LINQ")
	assert.Contains(t, out, "What is TCP?")
	assert.Contains(t, out, "Networking - Topic Distribution:")
	assert.Contains(t, out, "  UDP: 3")
	assert.NotContains(t, out, "  IP: 1")
	assert.Contains(t, out, "lee (2)")
	assert.Contains(t, out, "Revisit the transport layer.")
	assert.Contains(t, out, "Generated on 2025-04-01 09:30 UTC")
}

func TestWriteText_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, &Report{}))
	out := buf.String()

	assert.Contains(t, out, "Report Period: N/A to N/A")
	assert.NotContains(t, out, "Question Clustering Analysis")
	assert.NotContains(t, out, "Lecturer Recommendations")
}
