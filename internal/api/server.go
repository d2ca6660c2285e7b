package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/usncompetitions/notifier/internal/broadcast"
	"github.com/usncompetitions/notifier/internal/channel"
	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/metrics"
	"github.com/usncompetitions/notifier/internal/recipient"
	"github.com/usncompetitions/notifier/internal/repository"
	"github.com/usncompetitions/notifier/internal/template"
)

// Services are the components exposed over HTTP
type Services struct {
	DB           *sql.DB
	Orchestrator *broadcast.Orchestrator
	Renderer     *template.Renderer
	Channels     channel.Registry
	Metrics      *metrics.Metrics
	// MetricsServer is mounted on the API router when set
	MetricsServer *metrics.Server
	Version       string
}

// Server is the admin HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	cfg        *config.Config
	logger     *slog.Logger
	startTime  time.Time
	version    string

	db           *sql.DB
	orchestrator *broadcast.Orchestrator
	renderer     *template.Renderer
	channels     channel.Registry
	metrics      *metrics.Metrics
	metricsSrv   *metrics.Server
	validate     *validator.Validate

	templates  *repository.TemplateRepository
	broadcasts *repository.BroadcastRepository
	ledger     *repository.LedgerRepository
	apiKeys    *repository.APIKeyRepository
	recipients *recipient.Filter

	// runs outlive their request and stop only on shutdown
	runCtx   context.Context
	stopRuns context.CancelFunc
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, svc Services, logger *slog.Logger) *Server {
	runCtx, stopRuns := context.WithCancel(context.Background())
	s := &Server{
		runCtx:       runCtx,
		stopRuns:     stopRuns,
		router:       chi.NewRouter(),
		cfg:          cfg,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		version:      svc.Version,
		db:           svc.DB,
		orchestrator: svc.Orchestrator,
		renderer:     svc.Renderer,
		channels:     svc.Channels,
		metrics:      svc.Metrics,
		metricsSrv:   svc.MetricsServer,
		validate:     validator.New(),
		templates:    repository.NewTemplateRepository(svc.DB),
		broadcasts:   repository.NewBroadcastRepository(svc.DB),
		ledger:       repository.NewLedgerRepository(svc.DB),
		apiKeys:      repository.NewAPIKeyRepository(svc.DB),
		recipients:   recipient.NewFilter(svc.DB),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.HTTPMiddleware)

	// Public
	s.router.Get("/health", s.handleHealth)
	if s.metricsSrv != nil {
		s.router.Handle(s.metricsSrv.Path(), s.metricsSrv.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/variables", s.handleTemplateVariables)
			r.Post("/validate", s.handleValidateTemplate)
			r.Post("/preview", s.handlePreviewTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
			r.Post("/{id}/deactivate", s.handleSetTemplateActive(false))
			r.Post("/{id}/activate", s.handleSetTemplateActive(true))
		})

		r.Route("/broadcasts", func(r chi.Router) {
			r.Get("/", s.handleListBroadcasts)
			r.Post("/", s.handleCreateBroadcast)
			r.Get("/{id}", s.handleGetBroadcast)
			r.Put("/{id}", s.handleUpdateBroadcast)
			r.Delete("/{id}", s.handleDeleteBroadcast)
			r.Get("/{id}/preview", s.handlePreviewBroadcast)
			r.Post("/{id}/execute", s.handleExecuteBroadcast)
			r.Post("/{id}/reset", s.handleResetBroadcast)
			r.Get("/{id}/recipients", s.handleBroadcastRecipients)
			r.Get("/{id}/stats", s.handleBroadcastStats)
		})

		r.Get("/recipients/filters", s.handleRecipientFilters)
		r.Post("/recipients/count", s.handleCountRecipients)
		r.Post("/recipients/search", s.handleSearchRecipients)

		r.Get("/channels", s.handleChannels)
	})
}

// ListenAndServe starts the HTTP server. Broadcast execution runs inside
// the request, so there is no write timeout.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.Server.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.cfg.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	defer s.stopRuns()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
