// Package ops exposes the operational HTTP surface: health, resumable scan
// listing and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamnq/durascan/internal/state"
)

// Server serves the ops endpoints on its own port.
type Server struct {
	store  *state.Store
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the ops server over the given state store.
func NewServer(store *state.Store, port int) *Server {
	s := &Server{
		store:  store,
		logger: slog.Default().With("component", "ops"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/scans", s.handleScans)
	r.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops server failed", "error", err)
		}
	}()
	s.logger.Info("ops server listening", "addr", s.server.Addr)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	// Summary is a copied snapshot; the live record belongs to the scan
	// goroutine.
	if sum, ok := s.store.Summary(); ok {
		resp["scan_id"] = sum.ScanID
		resp["scan_status"] = sum.Status
		resp["completed_files"] = sum.CompletedFiles
		resp["total_files"] = sum.TotalFiles
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListResumable())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
