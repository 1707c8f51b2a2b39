// ScamScore - Real-time UPI scam risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/scamscore/internal/api"
	"github.com/opensource-finance/scamscore/internal/assess"
	"github.com/opensource-finance/scamscore/internal/bus"
	"github.com/opensource-finance/scamscore/internal/cache"
	"github.com/opensource-finance/scamscore/internal/config"
	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/features"
	"github.com/opensource-finance/scamscore/internal/history"
	"github.com/opensource-finance/scamscore/internal/metrics"
	"github.com/opensource-finance/scamscore/internal/model"
	"github.com/opensource-finance/scamscore/internal/repository"
	"github.com/opensource-finance/scamscore/internal/traces"
	"github.com/opensource-finance/scamscore/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("scamscore stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("scamscore shutdown complete")
}

// run wires every component, serves until ctx is cancelled or the listener
// fails, then shuts down in reverse order.
func run(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting scamscore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"model_source", cfg.Model.Source,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"history", cfg.History.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)

	shutdownTracing, err := traces.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	if withDB, ok := repo.(interface{ DB() *sql.DB }); ok {
		go metrics.StartDBStatsCollector(ctx, withDB.DB(), 15*time.Second)
	}

	// One classifier instance serves every request read-only.
	m, err := loadModel(ctx, cfg.Model, repo)
	if err != nil {
		return fmt.Errorf("model from %s: %w", cfg.Model.Source, err)
	}
	metrics.SetModel(m.Version, string(m.Kind))
	slog.Info("model loaded", "kind", m.Kind, "version", m.Version, "columns", len(m.Columns))

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer busImpl.Close()

	var tracker *history.Tracker
	if cfg.History.Enabled {
		tracker = history.NewTracker(cacheImpl, cfg.History)
	}

	runner := assess.NewRunner(assess.NewService(features.NewExtractor(cfg.Model.ReferenceAvg), m), tracker, repo, busImpl)
	if cfg.Cache.ReplayTTL > 0 {
		runner.WithReplayCache(cacheImpl, cfg.Cache.ReplayTTL)
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.New(busImpl, runner, cfg.Worker)
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, runner, repo, cacheImpl, busImpl, Version)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	slog.Info("scamscore is ready", "addr", srv.Addr())
	printBanner(cfg, m, Version)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server: %w", err)
		}
	}

	// Stop consuming before the bus and the stores close.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}
	return runErr
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadModel reads the classifier from disk or from the model registry.
func loadModel(ctx context.Context, cfg domain.ModelConfig, repo domain.Repository) (*model.Model, error) {
	switch cfg.Source {
	case "repository":
		rec, err := repo.GetLatestModelRecord(ctx, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrModelUnavailable, cfg.Name, err)
		}
		return model.LoadRecord(rec)
	default:
		return model.Load(cfg.Path, cfg.ColumnsPath)
	}
}

func printBanner(cfg *domain.Config, m *model.Model, version string) {
	fmt.Println()
	fmt.Println("  ScamScore - UPI scam risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Model:    %s (%s)\n", m.Version, m.Kind)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assess            - Score a transaction")
	fmt.Println("    POST /assess/async      - Queue a transaction for scoring")
	fmt.Println("    GET  /assessments       - List assessments (?tier=&limit=)")
	fmt.Println("    GET  /assessments/{id}  - Get assessment by ID")
	fmt.Println("    GET  /model             - Loaded model details")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
