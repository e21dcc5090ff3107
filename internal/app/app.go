package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/sendry-ab/internal/abtest"
	"github.com/foxzi/sendry-ab/internal/config"
	"github.com/foxzi/sendry-ab/internal/db"
	"github.com/foxzi/sendry-ab/internal/dispatch"
	"github.com/foxzi/sendry-ab/internal/distribution"
	"github.com/foxzi/sendry-ab/internal/metrics"
	"github.com/foxzi/sendry-ab/internal/repository"
	"github.com/foxzi/sendry-ab/internal/stats"
	"github.com/foxzi/sendry-ab/internal/sweep"
)

// App wires the storage, the test service and the background workers
type App struct {
	config *config.Config
	logger *slog.Logger

	db      *db.DB
	Store   *repository.Store
	Outbox  *dispatch.Outbox
	Service *abtest.Service
	Sweeper *sweep.Sweeper

	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
}

// New opens the database and outbox and builds the test service.
// Background workers are only started by Run.
func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, setupLogger(cfg.Logging, os.Stdout))
}

// NewWithLogger is New with an explicit logger
func NewWithLogger(cfg *config.Config, logger *slog.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	outbox, err := dispatch.NewOutbox(cfg.Outbox.Path)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	store := repository.NewStore(database.DB)
	svc := abtest.New(store, store.Recipients, outbox, abtest.Options{
		Logger: logger,
		Rand:   distribution.NewRand(cfg.Distribution.Seed),
		PValue: PValueFunc(cfg.Statistics.PValue),
	})

	a := &App{
		config:  cfg,
		logger:  logger,
		db:      database,
		Store:   store,
		Outbox:  outbox,
		Service: svc,
		Sweeper: sweep.New(svc, store.Campaigns, sweep.Config{
			Interval:    cfg.Sweep.Interval,
			Concurrency: cfg.Sweep.Concurrency,
		}, logger),
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
		a.metricsServer = metrics.NewServerWithAllowedIPs(a.metrics, cfg.Metrics.ListenAddr,
			cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		a.collector = metrics.NewCollector(a.metrics, outboxStats{outbox}, cfg.Metrics.CollectInterval)
	}

	return a, nil
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Run starts the sweep and the metrics server and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting sendry-ab",
		"database", a.config.Database.Path,
		"outbox", a.config.Outbox.Path,
		"sweep_enabled", a.config.Sweep.Enabled,
		"metrics_enabled", a.config.Metrics.Enabled,
		"p_value", a.config.Statistics.PValue)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.config.Sweep.Enabled {
		a.Sweeper.Start(ctx)
	}

	errCh := make(chan error, 1)
	if a.metricsServer != nil {
		a.collector.Start(ctx)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown stops the workers and closes storage
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the sweep first so no selection runs against closed storage
	a.Sweeper.Stop()

	if a.metricsServer != nil {
		a.collector.Stop()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	err := a.Close()
	a.logger.Info("shutdown complete")
	return err
}

// Close closes the outbox and the database
func (a *App) Close() error {
	var errs []error
	if err := a.Outbox.Close(); err != nil {
		errs = append(errs, fmt.Errorf("outbox close: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}
	return errors.Join(errs...)
}

// PValueFunc maps the statistics.p_value setting to a p-value function
func PValueFunc(mode string) stats.PValueFunc {
	if mode == config.PValueExact {
		return stats.ExactPValue
	}
	return stats.TablePValue
}

// outboxStats exposes outbox counts to the metrics collector
type outboxStats struct {
	outbox *dispatch.Outbox
}

func (o outboxStats) OutboxStats(ctx context.Context) (*metrics.OutboxStats, error) {
	s, err := o.outbox.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.OutboxStats{Pending: s.Pending, Claimed: s.Claimed}, nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// SetupLogger creates a logger writing to w based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	return setupLogger(cfg, w)
}
