package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/lectern/internal/db/gorm"
	"github.com/thebtf/lectern/internal/report"
	"github.com/thebtf/lectern/internal/reportsource"
	"github.com/thebtf/lectern/internal/worker/sse"
	"github.com/thebtf/lectern/pkg/models"
	"github.com/thebtf/lectern/pkg/similarity"
)

// ClusterRequest is the body of POST /api/questions/cluster.
type ClusterRequest struct {
	Questions []models.QuestionRecord `json:"questions"`
	Threshold *float64                `json:"threshold,omitempty"`
}

// ClusterResponse is the result of an ad-hoc clustering pass.
type ClusterResponse struct {
	Threshold float64             `json:"threshold"`
	Clusters  []models.Cluster    `json:"clusters"`
	Stats     models.ClusterStats `json:"stats"`
}

// ReportList is one page of report history.
type ReportList struct {
	Reports []gorm.ReportRun `json:"reports"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
}

// StoredReport is a saved run in the shape POST /api/reports returns.
type StoredReport struct {
	ID              string              `json:"id"`
	Range           reportsource.Range  `json:"range"`
	Threshold       float64             `json:"threshold"`
	Clusters        []models.Cluster    `json:"clusters"`
	Stats           models.ClusterStats `json:"stats"`
	Recommendations string              `json:"recommendations,omitempty"`
	Filename        string              `json:"filename"`
	CreatedAt       string              `json:"createdAt"`
}

func newStoredReport(run *gorm.ReportRun) StoredReport {
	clusters := make([]models.Cluster, len(run.Clusters))
	for i, c := range run.Clusters {
		clusters[i] = c.Cluster()
	}
	return StoredReport{
		ID:              run.ID,
		Range:           reportsource.Range{Start: run.StartDate, End: run.EndDate},
		Threshold:       run.Threshold,
		Clusters:        clusters,
		Stats:           run.Stats(),
		Recommendations: run.Recommendations,
		Filename:        run.Filename,
		CreatedAt:       run.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case report.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, gorm.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, reportsource.ErrUpstream), errors.Is(err, reportsource.ErrNoEndpoint):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleClusterQuestions(w http.ResponseWriter, r *http.Request) {
	var req ClusterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	threshold := s.reports.Threshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if !similarity.ValidThreshold(threshold) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("threshold %v outside [0, 1]", threshold))
		return
	}

	start := time.Now()
	clusters, stats := similarity.NewAnalyzer(threshold).Analyze(req.Questions)
	if s.metrics != nil && len(req.Questions) > 0 {
		s.metrics.RecordClustering(r.Context(), len(req.Questions), len(clusters), time.Since(start))
	}

	writeJSON(w, http.StatusOK, ClusterResponse{
		Threshold: threshold,
		Clusters:  clusters,
		Stats:     stats,
	})
}

func (s *Service) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var opts report.Options
	if err := decodeBody(w, r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.reports.Generate(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.runStore.SaveReport(r.Context(), rep); err != nil {
		s.fail(w, r, err)
		return
	}

	s.sseBroadcaster.Broadcast(sse.Event{Type: sse.EventReport, ID: rep.ID, Stats: rep.Stats})

	writeJSON(w, http.StatusCreated, rep)
}

func (s *Service) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := gorm.ClampLimit(gorm.ParseLimitParam(r, DefaultHistoryLimit), MaxHistoryLimit)

	runs, err := s.runStore.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []gorm.ReportRun{}
	}

	total, err := s.runStore.CountRuns(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ReportList{Reports: runs, Total: total, Limit: limit})
}

func (s *Service) handleGetReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.runStore.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoredReport(run))
}

func (s *Service) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runStore.DeleteRun(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sseBroadcaster.Broadcast(sse.Event{Type: sse.EventReportDeleted, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams SSE until the client leaves or the service shuts down.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.sseBroadcaster.HandleSSE(w, r.WithContext(ctx))
}

// Stats is the body of GET /api/stats.
type Stats struct {
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptimeSeconds"`
	SSEClients    int              `json:"sseClients"`
	ReportsStored int64            `json:"reportsStored"`
	Threshold     float64          `json:"defaultThreshold"`
	Metrics       *report.Snapshot `json:"metrics,omitempty"`
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stored, err := s.runStore.CountRuns(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	stats := Stats{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		SSEClients:    s.sseBroadcaster.ClientCount(),
		ReportsStored: stored,
		Threshold:     s.reports.Threshold(),
	}
	if s.metrics != nil {
		snap := s.metrics.GetSnapshot()
		stats.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, stats)
}
