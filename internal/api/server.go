// Package api exposes the HTTP surface for the caching service:
// health, Prometheus metrics, and a manual pass trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/doccache"
	"github.com/docstash/docstash/internal/metrics"
)

// PassRunner runs one caching pass on demand.
type PassRunner interface {
	RunPass(ctx context.Context) (doccache.PassSummary, error)
}

// Config controls the HTTP surface.
type Config struct {
	// PassTimeout bounds a manually triggered pass.
	PassTimeout time.Duration
}

// Server wires HTTP handlers to the pass runner.
type Server struct {
	router chi.Router
	runner PassRunner
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner PassRunner, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 5 * time.Minute
	}
	s := &Server{
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/cache/run", s.runPass)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runPass triggers one caching pass synchronously and returns its
// summary. Equivalent to the CLI's one-shot invocation.
func (s *Server) runPass(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PassTimeout)
	defer cancel()

	summary, err := s.runner.RunPass(ctx)
	if err != nil {
		s.logger.Error("Manual caching pass failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
