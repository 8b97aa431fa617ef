package oracle

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/parquet-go/parquet-go"
	_ "modernc.org/sqlite"

	"github.com/skycommit/skycommit/internal/dlc"
	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/snapshot"
	"github.com/skycommit/skycommit/internal/store"
)

type fixture struct {
	oracle    *Oracle
	store     *store.Store
	snapshots *snapshot.Store
	clock     *clockwork.FakeClock
	priv      *secp256k1.PrivateKey
}

func setup(t *testing.T, now time.Time) *fixture {
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

	clock := clockwork.NewFakeClockAt(now)
	o, err := NewWithClock(context.Background(), st, snapshots, priv, clock)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	return &fixture{oracle: o, store: st, snapshots: snapshots, clock: clock, priv: priv}
}

var (
	obsWindowStart = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	obsWindowEnd   = time.Date(2030, 1, 1, 23, 59, 59, 0, time.UTC)
	signingDate    = time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	createTime     = time.Date(2029, 12, 30, 0, 0, 0, 0, time.UTC)
)

func basicSpec() *CreateEventSpec {
	return &CreateEventSpec{
		TotalAllowedEntries:  4,
		NumberOfPlacesWin:    1,
		SigningDate:          signingDate,
		StartObservationDate: obsWindowStart,
		EndObservationDate:   obsWindowEnd,
		Locations:            []string{"KORD"},
		ScoringFields:        []models.ScoringField{models.FieldTempHigh},
	}
}

func TestCreateEvent(t *testing.T) {
	fx := setup(t, createTime)
	ev, err := fx.oracle.CreateEvent(context.Background(), basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	if ev.ID.Version() != 7 {
		t.Errorf("event id version = %d, want 7", ev.ID.Version())
	}
	if ev.NumberOfValuesPerEntry != 1 {
		t.Errorf("NumberOfValuesPerEntry = %d, want 1", ev.NumberOfValuesPerEntry)
	}
	if ev.Status != models.StatusCreated {
		t.Errorf("Status = %s, want CREATED", ev.Status)
	}

	announcement, err := dlc.ParseAnnouncement(ev.Announcement)
	if err != nil {
		t.Fatalf("parse announcement: %v", err)
	}
	// 4 ordered 1-of-4 rankings plus the refund-all outcome.
	if len(announcement.LockingPoints) != 5 {
		t.Errorf("locking points = %d, want 5", len(announcement.LockingPoints))
	}
	if len(announcement.NoncePoint) != 33 {
		t.Errorf("nonce point = %d bytes, want 33", len(announcement.NoncePoint))
	}
	if !bytes.Equal(announcement.OraclePubkey, fx.oracle.Pubkey()) {
		t.Error("announcement pubkey does not match oracle pubkey")
	}
}

func TestCreateEventValidation(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateEventSpec)
	}{
		{name: "too few entries", mutate: func(s *CreateEventSpec) { s.TotalAllowedEntries = 1 }},
		{name: "too many entries", mutate: func(s *CreateEventSpec) { s.TotalAllowedEntries = 26 }},
		{name: "places zero", mutate: func(s *CreateEventSpec) { s.NumberOfPlacesWin = 0 }},
		{name: "places equals entries", mutate: func(s *CreateEventSpec) { s.NumberOfPlacesWin = 4 }},
		{name: "signing in past", mutate: func(s *CreateEventSpec) { s.SigningDate = createTime.Add(-time.Hour) }},
		{name: "window inverted", mutate: func(s *CreateEventSpec) {
			s.StartObservationDate, s.EndObservationDate = s.EndObservationDate, s.StartObservationDate
		}},
		{name: "window past signing", mutate: func(s *CreateEventSpec) { s.EndObservationDate = s.SigningDate.Add(time.Hour) }},
		{name: "no locations", mutate: func(s *CreateEventSpec) { s.Locations = nil }},
		{name: "duplicate locations", mutate: func(s *CreateEventSpec) { s.Locations = []string{"KORD", "KORD"} }},
		{name: "no fields", mutate: func(s *CreateEventSpec) { s.ScoringFields = nil }},
		{name: "unknown field", mutate: func(s *CreateEventSpec) { s.ScoringFields = []models.ScoringField{"vibes"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := basicSpec()
			tt.mutate(spec)
			if _, err := fx.oracle.CreateEvent(ctx, spec); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func over() *models.Direction  { d := models.Over; return &d }
func under() *models.Direction { d := models.Under; return &d }
func par() *models.Direction   { d := models.Par; return &d }

func TestSubmitEntry(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	entry, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{
		{StationID: "KORD", TempHigh: over()},
	})
	if err != nil {
		t.Fatalf("submit entry: %v", err)
	}
	if entry.ID.Version() != 7 {
		t.Errorf("entry id version = %d, want 7", entry.ID.Version())
	}
}

func TestSubmitEntryShapeValidation(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	tests := []struct {
		name     string
		expected []models.ExpectedObservation
	}{
		{name: "wrong station", expected: []models.ExpectedObservation{{StationID: "KSEA", TempHigh: over()}}},
		{name: "missing scored field", expected: []models.ExpectedObservation{{StationID: "KORD"}}},
		{name: "extra unscored field", expected: []models.ExpectedObservation{{StationID: "KORD", TempHigh: over(), WindSpeed: over()}}},
		{name: "no stations", expected: nil},
		{name: "duplicate station", expected: []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}, {StationID: "KORD", TempHigh: under()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, tt.expected); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestSubmitEntryAfterCutoff(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	fx.clock.Advance(obsWindowEnd.Sub(createTime) + time.Minute)
	_, err = fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestSubmitEntryCapacity(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	spec := basicSpec()
	spec.TotalAllowedEntries = 2
	ev, err := fx.oracle.CreateEvent(ctx, spec)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	_, err = fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

// seedWeather writes one observations file and one forecasts file covering
// the standard window with temp_high observed 12.0 against a forecast of 10.0.
func seedWeather(t *testing.T, fx *fixture) {
	t.Helper()
	writeSnapshotFile(t, fx, models.KindObservations, obsWindowStart.Add(6*time.Hour), []models.ObservationRow{
		obsTemp("KORD", obsWindowStart.Add(3*time.Hour), 5.0),
		obsTemp("KORD", obsWindowStart.Add(14*time.Hour), 12.0),
	})
	writeSnapshotFile(t, fx, models.KindForecasts, obsWindowStart.Add(1*time.Hour), []models.ForecastRow{
		fcHigh("KORD", obsWindowStart.Add(1*time.Hour), obsWindowStart, 10.0),
	})
}

func obsTemp(station string, at time.Time, temp float64) models.ObservationRow {
	return models.ObservationRow{StationID: station, GeneratedAt: at, TemperatureValue: &temp, TemperatureUnitCode: "C"}
}

func fcHigh(station string, generated, begin time.Time, high float64) models.ForecastRow {
	return models.ForecastRow{
		StationID: station, GeneratedAt: generated,
		BeginTime: begin, EndTime: begin.Add(24 * time.Hour),
		MaxTemp: &high, TemperatureUnitCode: "C",
	}
}

func writeSnapshotFile[T any](t *testing.T, fx *fixture, kind models.SnapshotKind, generatedAt time.Time, rows []T) {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := fx.snapshots.Insert(snapshot.FileName(kind, generatedAt), &buf); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
}

func TestSignFullLifecycle(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	// A predicts over, B under, C par. Observed 12.0 vs par 10.0: A wins.
	entryA, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}})
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: under()}}); err != nil {
		t.Fatalf("submit B: %v", err)
	}
	if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: par()}}); err != nil {
		t.Fatalf("submit C: %v", err)
	}

	seedWeather(t, fx)

	// Too early to sign.
	if _, err := fx.oracle.Sign(ctx, ev.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("premature sign err = %v, want ErrInvalidInput", err)
	}

	fx.clock.Advance(signingDate.Sub(createTime) + time.Minute)
	attestation, err := fx.oracle.Sign(ctx, ev.ID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(attestation) != 32 {
		t.Fatalf("attestation = %d bytes, want 32", len(attestation))
	}

	signed, err := fx.oracle.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if signed.Status != models.StatusSigned {
		t.Errorf("Status = %s, want SIGNED", signed.Status)
	}

	// Entry A was submitted first: lowest UUIDv7, position 0 in the
	// ID-sorted order. Winning outcome is the 1-tuple (0), label index 0.
	var winner *models.Entry
	for i := range signed.Entries {
		if signed.Entries[i].ID == entryA.ID {
			winner = &signed.Entries[i]
		}
	}
	if winner == nil || winner.Score != 1 {
		t.Fatalf("entry A score = %+v, want 1", winner)
	}

	announcement, err := dlc.ParseAnnouncement(signed.Announcement)
	if err != nil {
		t.Fatalf("parse announcement: %v", err)
	}
	lockingPoint, err := secp256k1.ParsePubKey(announcement.LockingPoints[0])
	if err != nil {
		t.Fatalf("parse locking point: %v", err)
	}
	if !dlc.VerifyAttestation(lockingPoint, attestation) {
		t.Fatal("attestation does not verify against the announced locking point")
	}
}

func TestSignIdempotent(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	seedWeather(t, fx)
	fx.clock.Advance(signingDate.Sub(createTime) + time.Minute)

	first, err := fx.oracle.Sign(ctx, ev.ID)
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	second, err := fx.oracle.Sign(ctx, ev.ID)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("repeated sign returned different attestations")
	}
}

func TestSignDataUnavailable(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	fx.clock.Advance(signingDate.Sub(createTime) + time.Minute)

	_, err = fx.oracle.Sign(ctx, ev.ID)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}

	// Event stays unsigned; signing succeeds once data arrives.
	seedWeather(t, fx)
	if _, err := fx.oracle.Sign(ctx, ev.ID); err != nil {
		t.Fatalf("sign after data arrival: %v", err)
	}
}

func TestSignAllZeroScoresRefundsAll(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	// Both entries predict under; observed is over. Nobody scores.
	for i := 0; i < 2; i++ {
		if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: under()}}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	seedWeather(t, fx)
	fx.clock.Advance(signingDate.Sub(createTime) + time.Minute)

	attestation, err := fx.oracle.Sign(ctx, ev.ID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	signed, err := fx.oracle.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	announcement, err := dlc.ParseAnnouncement(signed.Announcement)
	if err != nil {
		t.Fatalf("parse announcement: %v", err)
	}
	// The refund-all outcome is always the last label.
	refundPoint, err := secp256k1.ParsePubKey(announcement.LockingPoints[len(announcement.LockingPoints)-1])
	if err != nil {
		t.Fatalf("parse locking point: %v", err)
	}
	if !dlc.VerifyAttestation(refundPoint, attestation) {
		t.Fatal("attestation does not match the refund-all outcome")
	}
}

func TestRefreshActiveEventsSignsDueEvents(t *testing.T) {
	fx := setup(t, createTime)
	ctx := context.Background()
	ev, err := fx.oracle.CreateEvent(ctx, basicSpec())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := fx.oracle.SubmitEntry(ctx, ev.ID, []models.ExpectedObservation{{StationID: "KORD", TempHigh: over()}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	seedWeather(t, fx)
	fx.clock.Advance(signingDate.Sub(createTime) + time.Minute)

	fx.oracle.RefreshActiveEvents(ctx)

	signed, err := fx.oracle.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if signed.Status != models.StatusSigned {
		t.Fatalf("Status = %s, want SIGNED after refresh", signed.Status)
	}
}

func TestGetEventNotFound(t *testing.T) {
	fx := setup(t, createTime)
	id, _ := uuid.NewV7()
	if _, err := fx.oracle.GetEvent(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
