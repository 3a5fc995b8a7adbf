// Package server assembles the chi router and the HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opencurate/ferry/internal/apperrors"
	"github.com/opencurate/ferry/internal/config"
	"github.com/opencurate/ferry/internal/server/handlers"
	"github.com/opencurate/ferry/internal/server/middleware"
	"github.com/opencurate/ferry/internal/version"
	"github.com/opencurate/ferry/pkg/dispatch"
	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/runner"
)

// Server owns the router and the underlying http.Server.
type Server struct {
	cfg    config.ServerConfig
	router chi.Router
	http   *http.Server
	log    *zap.Logger
}

// Deps carries the wired application components.
type Deps struct {
	Store      *jobstore.Store
	Dispatcher *dispatch.Dispatcher
	Runner     *runner.Runner
	Jobs       config.JobsConfig
	Log        *zap.Logger
}

// New builds a fully routed server. It does not listen yet.
func New(cfg config.ServerConfig, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recovery(log))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithCode(w, req, http.StatusNotFound,
			"NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithCode(w, req, http.StatusMethodNotAllowed,
			"METHOD_NOT_ALLOWED", "method not allowed for this route")
	})

	health := handlers.NewHealthManager(version.Version)
	health.RegisterChecker("jobstore", handlers.HealthCheckerFunc(func(ctx context.Context) error {
		return deps.Store.Ping()
	}))

	jobs := &handlers.JobsHandler{
		Store:      deps.Store,
		Dispatcher: deps.Dispatcher,
		Runner:     deps.Runner,
		DefaultTTL: deps.Jobs.DefaultTTL,
		Log:        log,
	}

	r.Get("/health", health.HealthHandler)
	r.Get("/health/live", health.LivenessHandler)
	r.Get("/health/ready", health.ReadinessHandler)
	r.Get("/version", handlers.VersionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/targets/{target}/resources/{id}/download", jobs.Download)
		r.Post("/targets/{target}/resources", jobs.Upload)
		r.Post("/transfers", jobs.Transfer)
		r.Get("/jobs/{action}", jobs.Status)
	})

	return &Server{
		cfg:    cfg,
		router: r,
		log:    log,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.cfg.Port
}

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
