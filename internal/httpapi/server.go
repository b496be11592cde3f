// Package httpapi exposes the reconciler's monitoring surface: health,
// cumulative stats, the latest tick result, and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/driftguard/internal/domain"
	"github.com/sawpanic/driftguard/internal/recon"
)

// StatusSource is the read-only view of the reconciler the HTTP surface
// needs.
type StatusSource interface {
	Stats() recon.Stats
	LastResult() (domain.ReconciliationResult, bool)
}

// Server serves the monitoring endpoints.
type Server struct {
	source  StatusSource
	metrics http.Handler
	router  *mux.Router
}

// NewServer builds the HTTP surface. metrics may be nil.
func NewServer(source StatusSource, metrics http.Handler) *Server {
	s := &Server{source: source, metrics: metrics}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/result", s.handleResult).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe blocks serving the monitoring surface.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("monitoring endpoints listening")
	return srv.ListenAndServe()
}

type healthResponse struct {
	Status    string    `json:"status"`
	IsRunning bool      `json:"is_running"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.source.Stats()
	status := "ok"
	if !stats.IsRunning {
		status = "stopped"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		IsRunning: stats.IsRunning,
		Timestamp: time.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func (s *Server) handleResult(w http.ResponseWriter, _ *http.Request) {
	result, ok := s.source.LastResult()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reconciliation has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
