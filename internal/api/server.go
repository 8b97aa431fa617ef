// Package api exposes the oracle over HTTP: key discovery, snapshot file
// exchange with the ingestion daemon, daily weather summaries, and the DLC
// event lifecycle.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycommit/skycommit/internal/oracle"
	"github.com/skycommit/skycommit/internal/snapshot"
	"github.com/skycommit/skycommit/internal/store"
)

type Server struct {
	oracle    *oracle.Oracle
	snapshots *snapshot.Store
	store     *store.Store
	addr      string
}

func NewServer(o *oracle.Oracle, snapshots *snapshot.Store, st *store.Store, addr string) *Server {
	return &Server{oracle: o, snapshots: snapshots, store: st, addr: addr}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /oracle/pubkey", s.handlePubkey)

	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("GET /file/{name}", s.handleDownloadFile)
	mux.HandleFunc("POST /file/{name}", s.handleUploadFile)

	mux.HandleFunc("GET /stations", s.handleStations)
	mux.HandleFunc("GET /stations/daily-observations", s.handleDailyObservations)
	mux.HandleFunc("GET /stations/forecasts", s.handleDailyForecasts)

	mux.HandleFunc("POST /events", s.handleCreateEvent)
	mux.HandleFunc("GET /events", s.handleListEvents)
	mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	mux.HandleFunc("POST /events/{id}/entries", s.handleSubmitEntry)
	mux.HandleFunc("GET /events/{id}/entries/{entry_id}", s.handleGetEntry)
	mux.HandleFunc("POST /events/{id}/sign", s.handleSignEvent)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on %s", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, oracle.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, oracle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrDataUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("api: internal error: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
