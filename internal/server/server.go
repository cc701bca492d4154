// Package server implements ControlServer, the local HTTP API SDK clients
// talk to (spec §4.6). Grounded directly on the teacher's server.Server
// (net/http.ServeMux, writeJSON/writeError helpers, method-prefixed route
// patterns), extended with permissive CORS headers and a static-asset
// endpoint the teacher has no equivalent of.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/percyio/percy-core/internal/assets"
	"github.com/percyio/percy-core/internal/core"
	"github.com/percyio/percy-core/internal/percy"
)

// Server holds the dependencies shared across HTTP handlers and serves
// PercyCore's control API on a local port.
type Server struct {
	core *core.Core
	log  zerolog.Logger
	mux  *http.ServeMux

	httpSrv *http.Server
}

// New creates a Server wired to c. Call ListenAndServe to start accepting
// connections.
func New(c *core.Core, log zerolog.Logger) *Server {
	s := &Server{
		core: c,
		log:  log.With().Str("component", "server").Logger(),
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /percy/healthcheck", s.withCORS(s.handleHealthcheck))
	s.mux.HandleFunc("GET /percy/dom.js", s.withCORS(s.handleDOMScript))
	s.mux.HandleFunc("GET /percy/idle", s.withCORS(s.handleIdle))
	s.mux.HandleFunc("POST /percy/snapshot", s.withCORS(s.handleSnapshot))
	s.mux.HandleFunc("POST /percy/stop", s.withCORS(s.handleStop))
	s.mux.HandleFunc("/", s.withCORS(s.handleNotFound))

	return s
}

// ListenAndServe starts the HTTP server on addr (e.g. ":5338").
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Close shuts down the underlying HTTP server, if started. Satisfies the
// closer interface core.Core.SetServer expects.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		defer s.recoverHandler(w)
		next(w, r)
	}
}

// recoverHandler catches panics from a handler and converts them into the
// 500 JSON error contract, mirroring spec §4.6's "all handlers catch thrown
// errors" requirement.
func (s *Server) recoverHandler(w http.ResponseWriter) {
	if rec := recover(); rec != nil {
		s.log.Error().Interface("panic", rec).Msg("handler panicked")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type healthcheckResponse struct {
	Success  bool   `json:"success"`
	LogLevel string `json:"loglevel"`
	Config   any    `json:"config"`
	Build    any    `json:"build"`
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	cfg := s.core.Config()
	writeJSON(w, http.StatusOK, healthcheckResponse{
		Success:  true,
		LogLevel: cfg.LogLevel,
		Config:   cfg,
		Build:    s.core.Build(),
	})
}

func (s *Server) handleDOMScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(assets.DOMScript)
}

func (s *Server) handleIdle(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Idle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req percy.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "invalid request body: "+err.Error())
		return
	}

	handle, err := s.core.Snapshot(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !req.IsConcurrent() {
		if _, err := handle.Wait(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
