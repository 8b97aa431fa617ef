package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/parquet-go/parquet-go"
	_ "modernc.org/sqlite"

	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/oracle"
	"github.com/skycommit/skycommit/internal/snapshot"
	"github.com/skycommit/skycommit/internal/store"
)

func setupServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	snapshots, err := snapshot.New(t.TempDir(), 30)
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	engine, err := oracle.New(t.Context(), st, snapshots, priv)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	return NewServer(engine, snapshots, st, ":0")
}

func TestPubkeyEndpoint(t *testing.T) {
	server := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/oracle/pubkey", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["key"] == "" {
		t.Fatal("response has no key")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := setupServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func uploadSnapshot(t *testing.T, server *Server, name string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(payload)
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/file/"+name, &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	server := setupServer(t)
	name := snapshot.FileName(models.KindObservations, time.Date(2030, 1, 1, 6, 0, 0, 0, time.UTC))

	rec := uploadSnapshot(t, server, name, []byte("columnar-bytes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body)
	}

	// Duplicate upload conflicts.
	rec = uploadSnapshot(t, server, name, []byte("other-bytes"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate upload status = %d, want 409", rec.Code)
	}

	// Invalid names are rejected before touching the store.
	rec = uploadSnapshot(t, server, "notes.txt", []byte("x"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad name status = %d, want 400", rec.Code)
	}

	dl := httptest.NewRecorder()
	server.Handler().ServeHTTP(dl, httptest.NewRequest(http.MethodGet, "/file/"+name, nil))
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if dl.Body.String() != "columnar-bytes" {
		t.Fatalf("download body = %q", dl.Body.String())
	}

	missing := snapshot.FileName(models.KindObservations, time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	dl404 := httptest.NewRecorder()
	server.Handler().ServeHTTP(dl404, httptest.NewRequest(http.MethodGet, "/file/"+missing, nil))
	if dl404.Code != http.StatusNotFound {
		t.Fatalf("missing download status = %d, want 404", dl404.Code)
	}
}

func TestListFiles(t *testing.T) {
	server := setupServer(t)
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	obsName := snapshot.FileName(models.KindObservations, base)
	fcName := snapshot.FileName(models.KindForecasts, base.Add(time.Hour))
	for _, name := range []string{obsName, fcName} {
		if rec := uploadSnapshot(t, server, name, []byte("x")); rec.Code != http.StatusOK {
			t.Fatalf("upload %s: %d", name, rec.Code)
		}
	}

	url := fmt.Sprintf("/files?start=%s&end=%s&forecasts=false",
		base.Format(time.RFC3339), base.Add(2*time.Hour).Format(time.RFC3339))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body["file_names"]) != 1 || body["file_names"][0] != obsName {
		t.Fatalf("file_names = %v, want only %s", body["file_names"], obsName)
	}
}

func seedObservations(t *testing.T, server *Server) {
	t.Helper()
	generatedAt := time.Date(2030, 1, 1, 6, 0, 0, 0, time.UTC)
	temp := 12.0
	name := "Chicago O'Hare"
	rows := []models.ObservationRow{{
		StationID:           "KORD",
		GeneratedAt:         generatedAt,
		TemperatureValue:    &temp,
		TemperatureUnitCode: "C",
		StationName:         &name,
	}}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[models.ObservationRow](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close parquet: %v", err)
	}
	rec := uploadSnapshot(t, server, snapshot.FileName(models.KindObservations, generatedAt), buf.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("seed upload: %d", rec.Code)
	}
}

func TestStationsEndpoint(t *testing.T) {
	server := setupServer(t)
	seedObservations(t, server)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stations []models.Station
	if err := json.Unmarshal(rec.Body.Bytes(), &stations); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stations) != 1 || stations[0].StationID != "KORD" {
		t.Fatalf("stations = %+v", stations)
	}
}

func TestDailyObservationsEndpoint(t *testing.T) {
	server := setupServer(t)
	seedObservations(t, server)

	url := "/stations/daily-observations?station_ids=KORD&start=2030-01-01T00:00:00Z&end=2030-01-02T00:00:00Z"
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var daily []models.DailyObservation
	if err := json.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(daily) != 1 || daily[0].TempHigh == nil || *daily[0].TempHigh != 12.0 {
		t.Fatalf("daily = %+v", daily)
	}
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	server := setupServer(t)

	spec := map[string]any{
		"total_allowed_entries":  4,
		"number_of_places_win":   1,
		"signing_date":           "2100-01-02T00:00:00Z",
		"start_observation_date": "2100-01-01T00:00:00Z",
		"end_observation_date":   "2100-01-01T23:59:59Z",
		"locations":              []string{"KORD"},
		"scoring_fields":         []string{"temp_high"},
	}
	body, _ := json.Marshal(spec)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}

	var created struct {
		ID           string          `json:"id"`
		Status       string          `json:"status"`
		Announcement json.RawMessage `json:"event_announcement"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" || len(created.Announcement) == 0 {
		t.Fatalf("created = %+v", created)
	}

	entry := map[string]any{
		"expected_observations": []map[string]any{{"station_id": "KORD", "temp_high": "over"}},
	}
	entryBody, _ := json.Marshal(entry)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/"+created.ID+"/entries", bytes.NewReader(entryBody)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("entry status = %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Signing before the signing date is invalid input.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/"+created.ID+"/sign", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("premature sign status = %d, want 400", rec.Code)
	}
}

func TestSubmitEntryOverCapacityConflicts(t *testing.T) {
	server := setupServer(t)

	// Fill an event capped at two entries; the third entry is a conflict.
	spec := map[string]any{
		"total_allowed_entries":  2,
		"number_of_places_win":   1,
		"signing_date":           "2100-01-02T00:00:00Z",
		"start_observation_date": "2100-01-01T00:00:00Z",
		"end_observation_date":   "2100-01-01T23:59:59Z",
		"locations":              []string{"KORD"},
		"scoring_fields":         []string{"temp_high"},
	}
	body, _ := json.Marshal(spec)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)

	entryBody, _ := json.Marshal(map[string]any{
		"expected_observations": []map[string]any{{"station_id": "KORD", "temp_high": "under"}},
	})
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/"+created.ID+"/entries", bytes.NewReader(entryBody)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("entry %d status = %d", i, rec.Code)
		}
	}
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/"+created.ID+"/entries", bytes.NewReader(entryBody)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("over-capacity entry status = %d, want 409", rec.Code)
	}
}
