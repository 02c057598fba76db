package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STATUS SERVER - read-only HTTP view of Engine.GetStatus
// ═══════════════════════════════════════════════════════════════════════════════

// StatusServer exposes the Engine's StatusSnapshot as JSON over HTTP. It is
// the Go realization of distilled §6's getStatus() as an outward-facing
// endpoint rather than an internal call -- a dashboard or alerting sidecar
// can poll it instead of being wired into the process directly.
type StatusServer struct {
	engine *Engine
	srv    *http.Server
}

// NewStatusServer builds a StatusServer listening on addr (e.g. ":8090").
// Routes: GET /status returns the full snapshot, GET /healthz is a plain
// liveness probe that never depends on engine state.
func NewStatusServer(engine *Engine, addr string) *StatusServer {
	mux := http.NewServeMux()

	s := &StatusServer{engine: engine}

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Start blocks until the server errors or Shutdown is called.
func (s *StatusServer) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("📡 status server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("status server: failed to encode snapshot")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
