// Package main provides the lectern worker entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/lectern/internal/config"
	"github.com/thebtf/lectern/internal/courses"
	"github.com/thebtf/lectern/internal/db/gorm"
	"github.com/thebtf/lectern/internal/report"
	"github.com/thebtf/lectern/internal/reportsource"
	"github.com/thebtf/lectern/internal/watcher"
	"github.com/thebtf/lectern/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	// Upstream report requests allowed per minute, and their burst.
	reportRatePerMinute = 30
	reportRateBurst     = 5

	memoryCacheSize = 256
	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run starts the worker and blocks until it stops. Deferred cleanup always runs
// before the exit code is returned.
func run(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")
	port := fs.Int("port", 0, "Listen port (overrides settings)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env is optional; it only exists in development checkouts
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env")
	}

	if err := config.EnsureAll(); err != nil {
		log.Error().Err(err).Msg("Failed to ensure data directory")
		return 1
	}

	// Copy, so the --port override stays out of the shared config.
	settings := *config.Get()
	cfg := &settings
	if *port > 0 {
		cfg.WorkerPort = *port
	}

	setLogLevel(cfg.LogLevel, *debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormLevel := logger.Silent
	if *debug {
		gormLevel = logger.Info
	}
	store, err := gorm.NewStore(gorm.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLevel,
	})
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open database")
		return 1
	}
	defer store.Close()

	catalog, err := courses.NewLive(cfg.CoursesFile)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.CoursesFile).Msg("Failed to load courses")
		return 1
	}
	log.Info().Int("courses", catalog.Current().Len()).Str("path", catalog.Path()).Msg("Courses loaded")

	source, closeSource := buildSource(ctx, cfg)
	defer closeSource()

	registry := prometheus.NewRegistry()
	provider, err := report.NewPrometheusProvider(registry)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create meter provider")
		return 1
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down meter provider")
		}
	}()

	metrics, err := report.NewMetrics(provider.Meter(report.MeterName))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create metrics")
		return 1
	}

	reports := report.NewService(source, catalog, cfg.SimilarityThreshold, cfg.TopClusters).WithMetrics(metrics)
	svc := worker.New(Version, cfg, store, reports, metrics, registry)

	stopWatchers := startWatchers(catalog, stop, *debug)
	defer stopWatchers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(svc.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
		return 1
	}
	log.Info().Msg("Worker stopped")
	return 0
}

func setLogLevel(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// buildSource returns the rate-limited report client behind a payload cache.
// Redis is used when configured and reachable, otherwise an in-process cache.
func buildSource(ctx context.Context, cfg *config.Config) (reportsource.Source, func()) {
	client := reportsource.NewClient(cfg.ReportEndpoint, cfg.ReportTimeout()).
		WithRateLimit(reportRatePerMinute, reportRateBurst)
	if cfg.ReportEndpoint == "" {
		log.Warn().Msg("No report endpoint configured; report generation will fail until LECTERN_REPORT_ENDPOINT is set")
	}

	if cfg.RedisURL != "" {
		rc := reportsource.NewRedisCache(cfg.RedisURL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info().Msg("Using Redis payload cache")
			return reportsource.NewCachingSource(client, rc, cfg.CacheTTL()), func() { _ = rc.Close() }
		}
		log.Warn().Err(err).Msg("Redis unavailable, using in-memory payload cache")
		_ = rc.Close()
	}

	mc := reportsource.NewMemoryCache(memoryCacheSize, cfg.CacheTTL())
	return reportsource.NewCachingSource(client, mc, cfg.CacheTTL()), func() {}
}

// startWatchers reloads the courses registry when its file changes. A settings.json
// change that only touches the log level is applied in place; any other change
// stops the worker so a supervisor restarts it with the new settings.
func startWatchers(catalog *courses.Live, restart context.CancelFunc, debug bool) func() {
	var started []*watcher.Watcher

	coursesWatcher, err := watcher.New(catalog.Path(), func(fsnotify.Op) {
		if err := catalog.Reload(); err != nil {
			log.Error().Err(err).Str("path", catalog.Path()).Msg("Failed to reload courses, keeping previous registry")
			return
		}
		log.Info().Int("courses", catalog.Current().Len()).Msg("Courses reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create courses watcher")
	} else if err := coursesWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start courses watcher")
	} else {
		started = append(started, coursesWatcher)
	}

	settingsPath := config.SettingsPath()
	settingsWatcher, err := watcher.New(settingsPath, func(fsnotify.Op) {
		current := config.Get()
		config.Reload()
		next := config.Get()
		if !current.NeedsRestart(next) {
			setLogLevel(next.LogLevel, debug)
			log.Info().Str("level", next.LogLevel).Msg("Settings reloaded")
			return
		}
		log.Warn().Str("path", settingsPath).Msg("Settings changed, stopping for restart")
		restart()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
	} else if err := settingsWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
	} else {
		started = append(started, settingsWatcher)
	}

	return func() {
		for _, w := range started {
			_ = w.Stop()
		}
	}
}
