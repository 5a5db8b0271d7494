// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: thin wrappers over the supervisor
// plus diagnostics and the websocket upgrade.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/frontlogic/taqbridge/internal/cache"
	"github.com/frontlogic/taqbridge/internal/hub"
	"github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/store"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// Orchestrator is the command surface the handlers drive.
// *bridge.Supervisor satisfies it.
type Orchestrator interface {
	SendCommand(ctx context.Context, cmd worker.Command) (worker.Message, error)
	WorkerAlive() bool
}

// SessionLister provides the active session snapshot. *hub.Hub satisfies it.
type SessionLister interface {
	ListActive() []hub.SessionInfo
}

// Options carries the server collaborators.
type Options struct {
	Orchestrator   Orchestrator
	Sessions       SessionLister
	Runs           store.RunStore // optional
	Cache          cache.Cache    // optional
	WSHandler      http.Handler   // optional
	UploadDir      string
	CacheTTL       time.Duration
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	logger zerolog.Logger
}

// NewServer builds the API server.
func NewServer(opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Server{
		opts:   opts,
		logger: log.WithComponent("api"),
	}
}

// Routes assembles the router with the canonical middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(CORS(s.opts.AllowedOrigins))
	r.Use(AccessLog)
	r.Use(RateLimit(s.opts.RateLimit, s.opts.RateWindow))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/fill/login", s.handleLogin)
		r.Post("/fill/report", s.handleReport)
		r.Post("/fill/assets", s.handleAssets)
		r.Post("/fill/check", s.handleCheck)
		r.Post("/fill/{reportId}/pause", s.handleControl(worker.ActionPause))
		r.Post("/fill/{reportId}/resume", s.handleControl(worker.ActionResume))
		r.Post("/fill/{reportId}/stop", s.handleControl(worker.ActionStop))
		r.Get("/sessions", s.handleSessions)
		r.Get("/reports/{reportId}/runs", s.handleRuns)
	})

	if s.opts.WSHandler != nil {
		r.Get("/ws", s.opts.WSHandler.ServeHTTP)
	}
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports component readiness. The worker spawns lazily, so a
// dead worker is reported but does not fail readiness.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":       "ok",
		"workerAlive":  s.opts.Orchestrator.WorkerAlive(),
		"runStore":     s.opts.Runs != nil,
		"cacheEnabled": s.opts.Cache != nil,
	}
	if hc, ok := s.opts.Cache.(interface{ HealthCheck(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			out["status"] = "degraded"
			out["cacheError"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, out)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}
