// Package worker provides the lectern HTTP service.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/lectern/internal/config"
	"github.com/thebtf/lectern/internal/db/gorm"
	"github.com/thebtf/lectern/internal/report"
	"github.com/thebtf/lectern/internal/worker/sse"
)

const (
	// DefaultHistoryLimit is the report history page size when none is requested.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps the report history page size.
	MaxHistoryLimit = 100
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 10 << 20
)

// Service is the lectern worker: report generation, history and live events over HTTP.
type Service struct {
	version        string
	config         *config.Config
	store          *gorm.Store
	runStore       *gorm.RunStore
	reports        *report.Service
	metrics        *report.Metrics
	httpMetrics    *httpMetrics
	sseBroadcaster *sse.Broadcaster
	router         *chi.Mux
	server         *http.Server
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time
	ready          atomic.Bool
}

// New wires a service. metrics may be nil. /metrics serves registry, or a
// private registry when it is nil.
func New(version string, cfg *config.Config, store *gorm.Store, reports *report.Service, metrics *report.Metrics, registry *prometheus.Registry) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		config:         cfg,
		store:          store,
		runStore:       gorm.NewRunStore(store),
		reports:        reports,
		metrics:        metrics,
		httpMetrics:    newHTTPMetrics(registry),
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	svc.setupRoutes()
	svc.server = &http.Server{
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.instrument)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", s.httpMetrics.handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/questions/cluster", s.handleClusterQuestions)

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", s.handleCreateReport)
			r.Get("/", s.handleListReports)
			r.Get("/{id}", s.handleGetReport)
			r.Delete("/{id}", s.handleDeleteReport)
		})

		r.Get("/events", s.handleEvents)
		r.Get("/stats", s.handleStats)
	})
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Broadcaster returns the service's SSE broadcaster.
func (s *Service) Broadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// SetReady marks the service ready or not for /ready.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Service) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. The service reports ready once it is listening.
func (s *Service) Serve(ln net.Listener) error {
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("version", s.version).
		Msg("Worker listening")

	s.ready.Store(true)
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends event streams and stops the HTTP server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	return s.server.Shutdown(ctx)
}
