// Package server exposes report building over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/crm-report/pkg/metrics"
	"github.com/Sternrassler/crm-report/pkg/report"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ReportBuilder produces a report. *report.Orchestrator implements it.
type ReportBuilder interface {
	Build(ctx context.Context) *report.Report
}

// Pinger checks a backing service. Optional.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the routes.
type Dependencies struct {
	Reports ReportBuilder
	Redis   Pinger
}

// Config holds server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

// WebAPI is the HTTP surface of crm-report.
type WebAPI struct {
	router  *chi.Mux
	logger  *zerolog.Logger
	server  *http.Server
	timeout time.Duration
}

// NewRouter wires the routes. Exposed for tests.
func NewRouter(logger zerolog.Logger, deps Dependencies) *chi.Mux {
	h := &handler{reports: deps.Reports, redis: deps.Redis}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(requestLogger(&logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", h.health)
	router.Get("/ready", h.ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/report", h.report)
	})

	return router
}

// NewWebAPI creates the server.
func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	router := NewRouter(logger, config.Dependencies)

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebAPI{
		router:  router,
		logger:  &logger,
		timeout: timeout,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root handler.
func (w *WebAPI) Handler() http.Handler {
	return w.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		if err := w.server.Shutdown(shutdownCtx); err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			return w.server.Close()
		}
	}

	return nil
}
