// Package api is the operational HTTP surface: session introspection,
// active rules, recently archived records, and Prometheus metrics. It
// never touches the feed itself.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ifebuche/twifesh/internal/archive"
	"github.com/ifebuche/twifesh/internal/batcher"
	"github.com/ifebuche/twifesh/internal/rules"
	"github.com/ifebuche/twifesh/internal/session"
)

// SnapshotFunc returns the current session view.
type SnapshotFunc func() session.Snapshot

type Server struct {
	store    archive.RecordStore
	batcher  *batcher.Batcher
	rules    *rules.Client
	snapshot SnapshotFunc
	router   chi.Router
	port     int
}

// NewServer wires the ops API. store and batcher may be nil when
// archiving is disabled; metricsHandler may be nil when metrics are off.
func NewServer(s archive.RecordStore, b *batcher.Batcher, rc *rules.Client, snap SnapshotFunc, metricsHandler http.Handler, port int) *Server {
	srv := &Server{
		store:    s,
		batcher:  b,
		rules:    rc,
		snapshot: snap,
		port:     port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/session", srv.handleSession)
		r.Get("/rules", srv.handleRules)
		r.Get("/records/recent", srv.handleRecentRecords)
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "twifesh",
	}
	if s.batcher != nil {
		body["buffer_size"] = s.batcher.BufferLen()
	}
	if s.snapshot != nil {
		body["session_state"] = s.snapshot().State
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session running"})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.rules.Fetch(r.Context())
	if err != nil {
		slog.Error("fetch rules failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "rule endpoint unavailable"})
		return
	}
	if active == nil {
		active = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive disabled"})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.store.QueryRecent(r.Context(), limit)
	if err != nil {
		slog.Error("query recent records failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
