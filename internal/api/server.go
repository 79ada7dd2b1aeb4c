// Package api serves the operator HTTP API: registry inspection, render
// status and cancellation, and a live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/events"
	"github.com/Nanoseb/BlenderRemoteRender/internal/registry"
)

// Renders is the part of the backend reachable over HTTP.
type Renders interface {
	Kind() backend.Kind
	Status(ctx context.Context, exportPath string) (*backend.StatusReport, error)
	CancelRender(ctx context.Context, exportPath string) error
	ListRenderedOutputs(exportPath string) ([]string, error)
}

// Registry is read access to the job registry and submission log.
type Registry interface {
	Load(ctx context.Context) (registry.Document, error)
	Submissions(ctx context.Context, exportPath string) ([]registry.Submission, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token. Empty leaves the API unauthenticated.
	APIKey string
}

type Server struct {
	config    Config
	renders   Renders
	registry  Registry
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, renders Renders, reg Registry, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		renders:   renders,
		registry:  reg,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/renders", s.handleListRenders)
		r.Route("/renders/{exportPath}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/cancel", s.handleCancel)
			r.Get("/outputs", s.handleOutputs)
			r.Get("/submissions", s.handleSubmissions)
		})
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
