package report

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName scopes the report instruments.
const MeterName = "github.com/thebtf/lectern/internal/report"

// Metrics records report generation through OpenTelemetry instruments and keeps
// running totals for the stats endpoint.
type Metrics struct {
	reports   metric.Int64Counter
	questions metric.Int64Counter
	duration  metric.Float64Histogram

	totalReports   atomic.Int64
	totalQuestions atomic.Int64
	totalClusters  atomic.Int64
	totalLatency   atomic.Int64 // Sum in microseconds
	clusterRuns    atomic.Int64
	startTime      time.Time
}

// Snapshot is a point-in-time copy of the running totals.
type Snapshot struct {
	ReportsGenerated   int64   `json:"reportsGenerated"`
	QuestionsClustered int64   `json:"questionsClustered"`
	ClustersFound      int64   `json:"clustersFound"`
	ClusterRuns        int64   `json:"clusterRuns"`
	AvgClusterLatency  float64 `json:"avgClusterLatencyMs"`
	UptimeSeconds      int64   `json:"uptimeSeconds"`
}

// NewMetrics creates the instruments on meter, or on the global provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	reports, err := meter.Int64Counter("lectern.reports.generated",
		metric.WithDescription("Lecturer reports generated"))
	if err != nil {
		return nil, fmt.Errorf("create reports counter: %w", err)
	}
	questions, err := meter.Int64Counter("lectern.questions.clustered",
		metric.WithDescription("Questions passed through clustering"))
	if err != nil {
		return nil, fmt.Errorf("create questions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("lectern.cluster.duration",
		metric.WithDescription("Time spent clustering one question list"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Metrics{
		reports:   reports,
		questions: questions,
		duration:  duration,
		startTime: time.Now(),
	}, nil
}

// NewPrometheusProvider returns a MeterProvider whose instruments are gathered
// by reg, so they are served next to the HTTP collectors.
func NewPrometheusProvider(reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}

// RecordReport counts one generated report.
func (m *Metrics) RecordReport(ctx context.Context) {
	m.reports.Add(ctx, 1)
	m.totalReports.Add(1)
}

// RecordClustering records one clustering pass.
func (m *Metrics) RecordClustering(ctx context.Context, questions, clusters int, took time.Duration) {
	m.questions.Add(ctx, int64(questions))
	m.duration.Record(ctx, float64(took.Microseconds())/1000)

	m.clusterRuns.Add(1)
	m.totalQuestions.Add(int64(questions))
	m.totalClusters.Add(int64(clusters))
	m.totalLatency.Add(took.Microseconds())
}

// GetSnapshot returns the current totals.
func (m *Metrics) GetSnapshot() Snapshot {
	runs := m.clusterRuns.Load()
	var avg float64
	if runs > 0 {
		avg = float64(m.totalLatency.Load()) / float64(runs) / 1000
	}
	return Snapshot{
		ReportsGenerated:   m.totalReports.Load(),
		QuestionsClustered: m.totalQuestions.Load(),
		ClustersFound:      m.totalClusters.Load(),
		ClusterRuns:        runs,
		AvgClusterLatency:  avg,
		UptimeSeconds:      int64(time.Since(m.startTime).Seconds()),
	}
}
