package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skycommit/skycommit/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dir(d models.Direction) *models.Direction { return &d }

func testEvent(t *testing.T) *EventRecord {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	signing := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	return &EventRecord{
		Event: models.Event{
			ID:                     id,
			TotalAllowedEntries:    4,
			NumberOfPlacesWin:      1,
			NumberOfValuesPerEntry: 1,
			SigningDate:            signing,
			StartObservationDate:   signing.Add(-24 * time.Hour),
			EndObservationDate:     signing.Add(-time.Second),
			Locations:              []string{"KORD"},
			ScoringFields:          []models.ScoringField{models.FieldTempHigh},
			Announcement:           []byte(`{"nonce_point":"test"}`),
			CreatedAt:              time.Now().UTC(),
		},
		SealedNonce: []byte("sealed"),
	}
}

func TestInsertAndGetEvent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent(t)
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.ID != ev.ID {
		t.Errorf("ID = %s, want %s", got.ID, ev.ID)
	}
	if got.TotalAllowedEntries != 4 || got.NumberOfPlacesWin != 1 {
		t.Errorf("entries/places = %d/%d", got.TotalAllowedEntries, got.NumberOfPlacesWin)
	}
	if len(got.Locations) != 1 || got.Locations[0] != "KORD" {
		t.Errorf("Locations = %v", got.Locations)
	}
	if len(got.ScoringFields) != 1 || got.ScoringFields[0] != models.FieldTempHigh {
		t.Errorf("ScoringFields = %v", got.ScoringFields)
	}
	if string(got.SealedNonce) != "sealed" {
		t.Errorf("SealedNonce = %q", got.SealedNonce)
	}
	if got.Attestation != nil {
		t.Errorf("Attestation = %v, want nil", got.Attestation)
	}
	if !got.SigningDate.UTC().Equal(ev.SigningDate) {
		t.Errorf("SigningDate = %v, want %v", got.SigningDate, ev.SigningDate)
	}
}

func TestGetEventNotFound(t *testing.T) {
	s := setupTestStore(t)
	id, _ := uuid.NewV7()
	if _, err := s.GetEvent(context.Background(), id); !errors.Is(err, ErrNoRows) {
		t.Fatalf("err = %v, want ErrNoRows", err)
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent(t)
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	entryID, _ := uuid.NewV7()
	entry := &models.Entry{
		ID:        entryID,
		EventID:   ev.ID,
		CreatedAt: time.Now().UTC(),
		Expected: []models.ExpectedObservation{
			{StationID: "KORD", TempHigh: dir(models.Over)},
		},
	}
	if err := s.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("insert entry: %v", err)
	}

	count, err := s.CountEntries(ctx, ev.ID)
	if err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	entries, err := s.GetEntries(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.ID != entryID {
		t.Errorf("ID = %s, want %s", got.ID, entryID)
	}
	if len(got.Expected) != 1 || got.Expected[0].StationID != "KORD" {
		t.Fatalf("Expected = %+v", got.Expected)
	}
	if got.Expected[0].TempHigh == nil || *got.Expected[0].TempHigh != models.Over {
		t.Errorf("TempHigh = %v, want over", got.Expected[0].TempHigh)
	}
	if got.Expected[0].TempLow != nil {
		t.Errorf("TempLow = %v, want nil", got.Expected[0].TempLow)
	}
}

func TestUpdateEntryScores(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent(t)
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	entryID, _ := uuid.NewV7()
	entry := &models.Entry{ID: entryID, EventID: ev.ID, CreatedAt: time.Now().UTC()}
	if err := s.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("insert entry: %v", err)
	}

	if err := s.UpdateEntryScores(ctx, map[uuid.UUID][2]int64{entryID: {3, 3}}); err != nil {
		t.Fatalf("update scores: %v", err)
	}
	entries, err := s.GetEntries(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if entries[0].Score != 3 || entries[0].BaseScore != 3 {
		t.Errorf("score = %d/%d, want 3/3", entries[0].Score, entries[0].BaseScore)
	}
}

func TestSetAttestationWriteOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent(t)
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	if err := s.SetAttestation(ctx, ev.ID, []byte("sig-1")); err != nil {
		t.Fatalf("first attestation: %v", err)
	}
	err := s.SetAttestation(ctx, ev.ID, []byte("sig-2"))
	if !errors.Is(err, ErrAlreadyAttested) {
		t.Fatalf("second attestation err = %v, want ErrAlreadyAttested", err)
	}

	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if string(got.Attestation) != "sig-1" {
		t.Errorf("Attestation = %q, want sig-1", got.Attestation)
	}
}

func TestWeatherReadingsImmutable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent(t)
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	date := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	high := 12.0
	first := models.WeatherReading{
		EventID:      ev.ID,
		StationID:    "KORD",
		ObservedDate: date,
		Observed:     &models.DailyObservation{StationID: "KORD", Date: date, TempHigh: &high},
	}
	if err := s.InsertWeatherReadings(ctx, []models.WeatherReading{first}); err != nil {
		t.Fatalf("insert readings: %v", err)
	}

	// A second freeze for the same key must not overwrite the first.
	changed := 99.0
	second := first
	second.Observed = &models.DailyObservation{StationID: "KORD", Date: date, TempHigh: &changed}
	if err := s.InsertWeatherReadings(ctx, []models.WeatherReading{second}); err != nil {
		t.Fatalf("re-insert readings: %v", err)
	}

	readings, err := s.GetWeatherReadings(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get readings: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("len(readings) = %d, want 1", len(readings))
	}
	if *readings[0].Observed.TempHigh != 12.0 {
		t.Errorf("TempHigh = %v, want the original 12.0", *readings[0].Observed.TempHigh)
	}
}

func TestWriterSerializesConcurrentWrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent(t)
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := uuid.NewV7()
			entry := &models.Entry{ID: id, EventID: ev.ID, CreatedAt: time.Now().UTC()}
			if err := s.InsertEntry(ctx, entry); err != nil {
				t.Errorf("insert entry: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := s.CountEntries(ctx, ev.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8 {
		t.Errorf("count = %d, want 8", count)
	}
}

func TestEnsureOracleIdentity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	pubkey := []byte{0x02, 0xaa, 0xbb}
	if err := s.EnsureOracleIdentity(ctx, pubkey); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureOracleIdentity(ctx, pubkey); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	identity, err := s.GetOracleIdentity(ctx)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if identity.Name != OracleName {
		t.Errorf("Name = %q, want %q", identity.Name, OracleName)
	}

	if err := s.EnsureOracleIdentity(ctx, []byte{0x03, 0x01}); err == nil {
		t.Fatal("mismatched pubkey should be rejected")
	}
}
