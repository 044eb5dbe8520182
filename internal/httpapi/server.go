// Package httpapi is the HTTP transport collaborator (spec.md §6): a thin
// JSON-over-HTTP/SSE front door onto a streammanager.Manager. It owns no
// state of its own beyond routing; every durable decision happens in the
// log underneath it.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/streammanager"
)

// Server wires a streammanager.Manager behind the routes in spec.md §6.
type Server struct {
	mgr    *streammanager.Manager
	logger *zap.Logger
}

// New builds a Server over mgr.
func New(mgr *streammanager.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{mgr: mgr, logger: logger}
}

// Router returns the http.Handler exposing every route in spec.md §6 plus
// the supplemented GET /agents and GET /healthz.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/agents", s.handleListAgents)
	r.Post("/agents/*", s.handlePostAgent)
	r.Get("/agents/*", s.handleGetAgent)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	paths, err := s.mgr.Paths(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}

// agentPath extracts the wildcard path segment mounted under /agents/*,
// which may itself contain slashes (spec.md §3, StreamPath is an opaque
// identifier such as "agent/session-123").
func agentPath(r *http.Request) eventlog.StreamPath {
	return eventlog.StreamPath(chi.URLParam(r, "*"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
