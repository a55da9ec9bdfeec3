// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/orchestrator"
	"git.home.luguber.info/inful/exchangeset/internal/store"
)

// JobService is the part of the orchestrator the API drives.
type JobService interface {
	Accept(ctx context.Context, req orchestrator.Request) (string, error)
	Trigger(ctx context.Context) ([]string, error)
	TriggerStandards(ctx context.Context, dss []jobs.DataStandard) ([]string, error)
	Status(ctx context.Context, jobID string) (*orchestrator.Status, error)
	List(ctx context.Context, opts store.ListOptions) ([]*jobs.Job, error)
	Events(ctx context.Context, jobID string) ([]eventstore.TimelineEntry, error)
}

// Server represents the API server.
type Server struct {
	Addr        string
	router      *chi.Mux
	server      *http.Server
	jobs        JobService
	errors      *errors.HTTPErrorAdapter
	metrics     http.Handler
	metricsPath string
	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// WithCORS allows browser clients served from origins to call the API.
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// NewServer creates a new API server.
func NewServer(addr string, svc JobService, opts ...Option) *Server {
	s := &Server{
		Addr:   addr,
		router: chi.NewRouter(),
		jobs:   svc,
		errors: errors.NewHTTPErrorAdapter(nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			ExposedHeaders: []string{"Location"},
		})
		s.router.Use(c.Handler)
	}
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Post("/trigger", s.handleTrigger)
	})

	if s.metrics != nil && s.metricsPath != "" {
		s.router.Handle(s.metricsPath, s.metrics)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
		return errors.RuntimeError("http server failed").WithCause(err).WithContext("addr", s.Addr).Build()
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

// Error writes a classified error response.
func (s *Server) Error(w http.ResponseWriter, r *http.Request, err error) {
	s.errors.WriteErrorResponse(w, r, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
