// Package app wires the notifier components together and runs them.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/usncompetitions/notifier/internal/api"
	"github.com/usncompetitions/notifier/internal/broadcast"
	"github.com/usncompetitions/notifier/internal/channel"
	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/db"
	"github.com/usncompetitions/notifier/internal/dkim"
	"github.com/usncompetitions/notifier/internal/metrics"
	"github.com/usncompetitions/notifier/internal/repository"
	"github.com/usncompetitions/notifier/internal/template"
)

// App is the main application
type App struct {
	config       *config.Config
	db           *db.DB
	logger       *slog.Logger
	metrics      *metrics.Metrics
	channels     channel.Registry
	orchestrator *broadcast.Orchestrator
	scheduler    *broadcast.Scheduler
	collector    *metrics.Collector
	apiServer    *api.Server
	metricsSrv   *metrics.Server
}

// New opens the database, applies migrations and builds every component
func New(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	channels, err := BuildChannels(cfg, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	renderer := template.NewRenderer()
	orchestrator := broadcast.New(database.DB, renderer, channels, m, logger)

	a := &App{
		config:       cfg,
		db:           database,
		logger:       logger,
		metrics:      m,
		channels:     channels,
		orchestrator: orchestrator,
	}

	if cfg.Broadcast.Scheduler {
		a.scheduler = broadcast.NewScheduler(orchestrator, cfg.Broadcast.PollInterval, logger)
	}

	// Metrics share the API listener unless a dedicated address is set
	var mounted *metrics.Server
	if m != nil {
		a.collector = metrics.NewCollector(m, repository.NewBroadcastRepository(database.DB),
			cfg.Database.Path, cfg.Metrics.FlushInterval, logger)
		srv := metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		if cfg.Metrics.ListenAddr != "" {
			a.metricsSrv = srv
		} else {
			mounted = srv
		}
	}

	a.apiServer = api.NewServer(cfg, api.Services{
		DB:            database.DB,
		Orchestrator:  orchestrator,
		Renderer:      renderer,
		Channels:      channels,
		Metrics:       m,
		MetricsServer: mounted,
		Version:       version,
	}, logger)

	return a, nil
}

// BuildChannels creates the enabled delivery channels. A channel that is
// enabled but misconfigured is still registered; executions skip it.
func BuildChannels(cfg *config.Config, logger *slog.Logger) (channel.Registry, error) {
	registry := channel.Registry{}

	if cfg.Telegram.Enabled {
		chat, err := channel.NewChatChannel(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(chat)
	}

	if cfg.Email.Enabled {
		signer, err := dkim.FromConfig(cfg.Email.DKIM)
		if err != nil {
			return nil, err
		}
		registry.Register(channel.NewEmailChannel(cfg.Email, signer, logger))
	}

	return registry, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting notifier",
		"api_addr", a.config.Server.ListenAddr,
		"channels", len(a.channels),
		"scheduler", a.scheduler != nil,
		"metrics", a.metrics != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Start()
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new work first
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

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

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
