// Package oracle drives the DLC event lifecycle: create with a pre-committed
// nonce, collect entries, freeze weather at signing time, score, rank, and
// reveal the attestation scalar for the winning outcome.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/skycommit/skycommit/internal/dlc"
	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/store"
)

// Caps carried over from the deployed oracle: each extra entry slot and
// winning place multiplies the outcome set the announcement must commit to.
const (
	MaxAllowedEntries = 25
	MaxPlacesWin      = 5
)

// SnapshotSource is the slice of the snapshot store the engine needs.
type SnapshotSource interface {
	ReadObservations(start, end time.Time, stationIDs []string) ([]models.ObservationRow, error)
	ReadForecasts(start, end time.Time, stationIDs []string) ([]models.ForecastRow, error)
	List(kind models.SnapshotKind, start, end time.Time) ([]string, error)
	Pin(names []string) func()
}

type Oracle struct {
	store     *store.Store
	snapshots SnapshotSource
	priv      *secp256k1.PrivateKey
	clock     clockwork.Clock
}

// New wires the engine and verifies the oracle identity row against the
// signing key.
func New(ctx context.Context, st *store.Store, snapshots SnapshotSource, priv *secp256k1.PrivateKey) (*Oracle, error) {
	return NewWithClock(ctx, st, snapshots, priv, clockwork.NewRealClock())
}

func NewWithClock(ctx context.Context, st *store.Store, snapshots SnapshotSource, priv *secp256k1.PrivateKey, clock clockwork.Clock) (*Oracle, error) {
	if err := st.EnsureOracleIdentity(ctx, dlc.PubkeyBytes(priv)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	return &Oracle{store: st, snapshots: snapshots, priv: priv, clock: clock}, nil
}

// Pubkey returns the oracle's compressed public key.
func (o *Oracle) Pubkey() []byte {
	return dlc.PubkeyBytes(o.priv)
}

// CreateEventSpec is the caller-supplied shape of a new event.
type CreateEventSpec struct {
	TotalAllowedEntries  int                   `json:"total_allowed_entries"`
	NumberOfPlacesWin    int                   `json:"number_of_places_win"`
	SigningDate          time.Time             `json:"signing_date"`
	StartObservationDate time.Time             `json:"start_observation_date"`
	EndObservationDate   time.Time             `json:"end_observation_date"`
	Locations            []string              `json:"locations"`
	ScoringFields        []models.ScoringField `json:"scoring_fields"`
	CoordinatorPubkey    string                `json:"coordinator_pubkey,omitempty"`
}

func (o *Oracle) validateSpec(spec *CreateEventSpec, now time.Time) error {
	if spec.TotalAllowedEntries < 2 {
		return invalidf("total_allowed_entries must be at least 2, got %d", spec.TotalAllowedEntries)
	}
	if spec.TotalAllowedEntries > MaxAllowedEntries {
		return invalidf("total_allowed_entries may not exceed %d, got %d", MaxAllowedEntries, spec.TotalAllowedEntries)
	}
	if spec.NumberOfPlacesWin < 1 || spec.NumberOfPlacesWin >= spec.TotalAllowedEntries {
		return invalidf("number_of_places_win must satisfy 1 <= k < %d, got %d", spec.TotalAllowedEntries, spec.NumberOfPlacesWin)
	}
	if spec.NumberOfPlacesWin > MaxPlacesWin {
		return invalidf("number_of_places_win may not exceed %d, got %d", MaxPlacesWin, spec.NumberOfPlacesWin)
	}
	if !spec.SigningDate.After(now) {
		return invalidf("signing_date %s is not in the future", spec.SigningDate.Format(time.RFC3339))
	}
	if !spec.StartObservationDate.Before(spec.EndObservationDate) {
		return invalidf("start_observation_date must be before end_observation_date")
	}
	if spec.EndObservationDate.After(spec.SigningDate) {
		return invalidf("end_observation_date must not be after signing_date")
	}
	if len(spec.Locations) == 0 {
		return invalidf("at least one location is required")
	}
	seen := make(map[string]bool)
	for _, loc := range spec.Locations {
		if loc == "" {
			return invalidf("empty station id in locations")
		}
		if seen[loc] {
			return invalidf("duplicate station id %q in locations", loc)
		}
		seen[loc] = true
	}
	if len(spec.ScoringFields) == 0 {
		return invalidf("at least one scoring field is required")
	}
	seenFields := make(map[models.ScoringField]bool)
	for _, field := range spec.ScoringFields {
		if !field.Valid() {
			return invalidf("unknown scoring field %q", field)
		}
		if seenFields[field] {
			return invalidf("duplicate scoring field %q", field)
		}
		seenFields[field] = true
	}
	return nil
}

// CreateEvent validates the request, draws a fresh nonce, derives the
// announcement committing to every outcome, and persists the event. The
// plaintext nonce is zeroized before returning; only the sealed copy and
// the nonce point survive.
func (o *Oracle) CreateEvent(ctx context.Context, spec *CreateEventSpec) (*models.Event, error) {
	now := o.clock.Now().UTC()
	if err := o.validateSpec(spec, now); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%w: generate event id: %v", ErrFatal, err)
	}

	nonce, err := dlc.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	defer dlc.Zeroize(nonce)

	fieldNames := make([]string, len(spec.ScoringFields))
	for i, f := range spec.ScoringFields {
		fieldNames[i] = string(f)
	}
	announcement, err := dlc.NewAnnouncement(o.priv.PubKey(), nonce, spec.SigningDate,
		spec.Locations, fieldNames, spec.TotalAllowedEntries, spec.NumberOfPlacesWin)
	if err != nil {
		return nil, fmt.Errorf("%w: build announcement: %v", ErrFatal, err)
	}
	announcementBytes, err := announcement.Serialize()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize announcement: %v", ErrFatal, err)
	}

	sealed, err := dlc.SealNonce(o.priv, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: seal nonce: %v", ErrFatal, err)
	}

	record := &store.EventRecord{
		Event: models.Event{
			ID:                     id,
			TotalAllowedEntries:    spec.TotalAllowedEntries,
			NumberOfPlacesWin:      spec.NumberOfPlacesWin,
			NumberOfValuesPerEntry: len(spec.Locations) * len(spec.ScoringFields),
			SigningDate:            spec.SigningDate.UTC(),
			StartObservationDate:   spec.StartObservationDate.UTC(),
			EndObservationDate:     spec.EndObservationDate.UTC(),
			Locations:              spec.Locations,
			ScoringFields:          spec.ScoringFields,
			Announcement:           announcementBytes,
			CoordinatorPubkey:      spec.CoordinatorPubkey,
			CreatedAt:              now,
		},
		SealedNonce: sealed,
	}
	if err := o.retryWrite(func() error { return o.store.InsertEvent(ctx, record) }); err != nil {
		return nil, fmt.Errorf("%w: persist event: %v", ErrTransient, err)
	}

	ev := record.Event
	ev.Status = ev.DeriveStatus(now)
	log.Printf("oracle: created event %s with %d outcome labels", ev.ID, len(announcement.LockingPoints))
	return &ev, nil
}

// GetEvent returns an event with its entries and, once frozen, readings.
func (o *Oracle) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	record, err := o.store.GetEvent(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("event %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	ev := record.Event
	if ev.Entries, err = o.store.GetEntries(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if ev.Readings, err = o.store.GetWeatherReadings(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	ev.Status = ev.DeriveStatus(o.clock.Now().UTC())
	return &ev, nil
}

// ListEvents returns recent events without entry detail.
func (o *Oracle) ListEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	records, err := o.store.ListEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	now := o.clock.Now().UTC()
	events := make([]*models.Event, len(records))
	for i, record := range records {
		ev := record.Event
		ev.Status = ev.DeriveStatus(now)
		events[i] = &ev
	}
	return events, nil
}

// GetEntry returns one entry of an event.
func (o *Oracle) GetEntry(ctx context.Context, eventID, entryID uuid.UUID) (*models.Entry, error) {
	entry, err := o.store.GetEntry(ctx, eventID, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("entry %s in event %s", entryID, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return entry, nil
}

// SubmitEntry validates and persists a new entry for an event.
func (o *Oracle) SubmitEntry(ctx context.Context, eventID uuid.UUID, expected []models.ExpectedObservation) (*models.Entry, error) {
	record, err := o.store.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("event %s", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	now := o.clock.Now().UTC()
	if len(record.Attestation) > 0 {
		return nil, conflictf("event %s is already signed", eventID)
	}
	if !now.Before(record.EndObservationDate) {
		return nil, conflictf("entries for event %s closed at %s", eventID, record.EndObservationDate.Format(time.RFC3339))
	}
	count, err := o.store.CountEntries(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if count >= record.TotalAllowedEntries {
		return nil, conflictf("event %s already has %d entries", eventID, count)
	}
	if err := validateEntryShape(&record.Event, expected); err != nil {
		return nil, err
	}

	entryID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%w: generate entry id: %v", ErrFatal, err)
	}
	entry := &models.Entry{
		ID:        entryID,
		EventID:   eventID,
		Expected:  expected,
		CreatedAt: now,
	}
	if err := o.retryWrite(func() error { return o.store.InsertEntry(ctx, entry) }); err != nil {
		return nil, fmt.Errorf("%w: persist entry: %v", ErrTransient, err)
	}
	return entry, nil
}

// validateEntryShape checks an entry covers exactly the event's locations
// and scoring fields: one expected observation per station, one direction
// per scoring field, nothing else.
func validateEntryShape(ev *models.Event, expected []models.ExpectedObservation) error {
	if len(expected) != len(ev.Locations) {
		return invalidf("entry must cover %d locations, got %d", len(ev.Locations), len(expected))
	}
	allowed := make(map[string]bool, len(ev.Locations))
	for _, loc := range ev.Locations {
		allowed[loc] = true
	}
	scored := make(map[models.ScoringField]bool, len(ev.ScoringFields))
	for _, f := range ev.ScoringFields {
		scored[f] = true
	}

	seen := make(map[string]bool, len(expected))
	for _, exp := range expected {
		if !allowed[exp.StationID] {
			return invalidf("station %q is not part of this event", exp.StationID)
		}
		if seen[exp.StationID] {
			return invalidf("duplicate predictions for station %q", exp.StationID)
		}
		seen[exp.StationID] = true

		for _, field := range models.AllScoringFields {
			prediction := exp.Prediction(field)
			if scored[field] {
				if prediction == nil {
					return invalidf("station %q is missing a %s prediction", exp.StationID, field)
				}
				if !prediction.Valid() {
					return invalidf("station %q has invalid %s prediction %q", exp.StationID, field, *prediction)
				}
			} else if prediction != nil {
				return invalidf("station %q predicts %s, which this event does not score", exp.StationID, field)
			}
		}
	}
	return nil
}

// retryWrite retries transient store failures with bounded exponential
// backoff before surfacing them.
func (o *Oracle) retryWrite(fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrAlreadyAttested) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}
