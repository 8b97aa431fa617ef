package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/skycommit/skycommit/internal/metrics"
	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/snapshot"
)

// maxUploadBytes bounds a single snapshot upload.
const maxUploadBytes = 256 << 20

func (s *Server) handlePubkey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"key": base64.StdEncoding.EncodeToString(s.oracle.Pubkey()),
	})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return t.UTC(), nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	query := r.URL.Query()
	wantObservations := query.Get("observations") != "false"
	wantForecasts := query.Get("forecasts") != "false"

	names := []string{}
	if wantObservations {
		obs, err := s.snapshots.List(models.KindObservations, start, end)
		if err != nil {
			writeError(w, err)
			return
		}
		names = append(names, obs...)
	}
	if wantForecasts {
		fc, err := s.snapshots.List(models.KindForecasts, start, end)
		if err != nil {
			writeError(w, err)
			return
		}
		names = append(names, fc...)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"file_names": names})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f, err := s.snapshots.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		// Too late for a status change; the client sees a truncated body.
		return
	}
}

// handleUploadFile accepts a multipart snapshot upload from the daemon and
// places it into the store atomically. Duplicate names conflict; the upload
// is idempotent only in the sense that the stored bytes never change.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, _, err := snapshot.ParseName(name); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("multipart file field required: %v", err)})
		return
	}
	defer file.Close()

	if err := s.snapshots.Insert(name, file); err != nil {
		if errors.Is(err, snapshot.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}

	kind, _, _ := snapshot.ParseName(name)
	metrics.SnapshotsReceived.WithLabelValues(string(kind)).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"file_name": name})
}
