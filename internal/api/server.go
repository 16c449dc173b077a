// Package api serves the read-only operational surface: health, source
// status, corpus stats, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/metrics"
	"github.com/vetcorpus/crawler/internal/provenance"
	"github.com/vetcorpus/crawler/internal/sources"
)

// Server exposes pipeline state over HTTP. It never mutates anything.
type Server struct {
	tracker  *provenance.Tracker
	registry *sources.Registry
	logger   *zap.Logger
}

// New builds a Server.
func New(tracker *provenance.Tracker, registry *sources.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tracker: tracker, registry: registry, logger: logger}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", s.handleSources)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sourceStatus joins registry membership with persisted health. Registered
// sources that have never been crawled still appear.
type sourceStatus struct {
	corpus.SourceHealth
	Registered bool `json:"registered"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	records, err := s.tracker.Health(r.Context())
	if err != nil {
		s.writeError(w, r.Context(), err)
		return
	}
	byName := make(map[string]corpus.SourceHealth, len(records))
	for _, record := range records {
		byName[record.Source] = record
	}

	var out []sourceStatus
	seen := make(map[string]bool)
	for _, name := range s.registry.Names() {
		seen[name] = true
		health, ok := byName[name]
		if !ok {
			health = corpus.SourceHealth{Source: name, Enabled: true}
		}
		out = append(out, sourceStatus{SourceHealth: health, Registered: true})
	}
	for _, record := range records {
		if !seen[record.Source] {
			out = append(out, sourceStatus{SourceHealth: record})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.Stats(r.Context())
	if err != nil {
		s.writeError(w, r.Context(), err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, ctx context.Context, err error) {
	s.logger.Error("request failed",
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.Error(err),
	)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
