package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skycommit/skycommit/internal/models"
)

// ErrNoRows is returned when a lookup finds nothing.
var ErrNoRows = sql.ErrNoRows

// ErrAlreadyAttested is returned when a second attestation write is
// attempted for an event.
var ErrAlreadyAttested = errors.New("event already has an attestation")

// EventRecord is the persisted event row, including the sealed nonce the
// engine needs at signing time.
type EventRecord struct {
	models.Event
	SealedNonce []byte
}

func marshalStrings(vals []string) (string, error) {
	b, err := json.Marshal(vals)
	return string(b), err
}

// InsertEvent persists a freshly created event.
func (s *Store) InsertEvent(ctx context.Context, ev *EventRecord) error {
	locations, err := marshalStrings(ev.Locations)
	if err != nil {
		return fmt.Errorf("marshal locations: %w", err)
	}
	fields := make([]string, len(ev.ScoringFields))
	for i, f := range ev.ScoringFields {
		fields[i] = string(f)
	}
	scoringFields, err := marshalStrings(fields)
	if err != nil {
		return fmt.Errorf("marshal scoring fields: %w", err)
	}

	return s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO events (
				id, total_allowed_entries, number_of_places_win, number_of_values_per_entry,
				signing_date, start_observation_date, end_observation_date,
				locations, scoring_fields, sealed_nonce, event_announcement,
				coordinator_pubkey, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID.String(), ev.TotalAllowedEntries, ev.NumberOfPlacesWin, ev.NumberOfValuesPerEntry,
			ev.SigningDate.UTC(), ev.StartObservationDate.UTC(), ev.EndObservationDate.UTC(),
			locations, scoringFields, ev.SealedNonce, ev.Announcement,
			nullString(ev.CoordinatorPubkey), ev.CreatedAt.UTC())
		return err
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const eventColumns = `
	id, total_allowed_entries, number_of_places_win, number_of_values_per_entry,
	signing_date, start_observation_date, end_observation_date,
	locations, scoring_fields, sealed_nonce, event_announcement,
	coordinator_pubkey, attestation_signature, created_at
`

func scanEvent(row interface{ Scan(...any) error }) (*EventRecord, error) {
	var (
		ev            EventRecord
		id            string
		locations     string
		scoringFields string
		coordinator   sql.NullString
	)
	err := row.Scan(&id, &ev.TotalAllowedEntries, &ev.NumberOfPlacesWin, &ev.NumberOfValuesPerEntry,
		&ev.SigningDate, &ev.StartObservationDate, &ev.EndObservationDate,
		&locations, &scoringFields, &ev.SealedNonce, &ev.Announcement,
		&coordinator, &ev.Attestation, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}

	ev.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(locations), &ev.Locations); err != nil {
		return nil, fmt.Errorf("unmarshal locations: %w", err)
	}
	var fields []string
	if err := json.Unmarshal([]byte(scoringFields), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal scoring fields: %w", err)
	}
	ev.ScoringFields = make([]models.ScoringField, len(fields))
	for i, f := range fields {
		ev.ScoringFields[i] = models.ScoringField(f)
	}
	ev.CoordinatorPubkey = coordinator.String
	return &ev, nil
}

// GetEvent loads a single event row. Returns ErrNoRows when absent.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*EventRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id.String())
	return scanEvent(row)
}

// ListEvents returns events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]*EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListUnsignedEvents returns events without an attestation whose signing
// window is relevant to the background refresh tick.
func (s *Store) ListUnsignedEvents(ctx context.Context) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE attestation_signature IS NULL ORDER BY signing_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEntries returns the number of entries accepted for an event.
func (s *Store) CountEntries(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE event_id = ?`, eventID.String()).Scan(&count)
	return count, err
}

// InsertEntry persists an entry together with its expected observations in
// one transaction.
func (s *Store) InsertEntry(ctx context.Context, entry *models.Entry) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO entries (id, event_id, score, base_score, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, entry.ID.String(), entry.EventID.String(), entry.Score, entry.BaseScore, entry.CreatedAt.UTC()); err != nil {
			return err
		}
		for _, exp := range entry.Expected {
			if _, err := tx.Exec(`
				INSERT INTO expected_observations (entry_id, station_id, temp_low, temp_high, wind_speed, wind_direction, rain_amt, snow_amt, humidity)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, entry.ID.String(), exp.StationID,
				dirValue(exp.TempLow), dirValue(exp.TempHigh), dirValue(exp.WindSpeed), dirValue(exp.WindDirection),
				dirValue(exp.RainAmt), dirValue(exp.SnowAmt), dirValue(exp.Humidity)); err != nil {
				return err
			}
		}
		return nil
	})
}

func dirValue(d *models.Direction) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*d), Valid: true}
}

func dirPtr(v sql.NullString) *models.Direction {
	if !v.Valid {
		return nil
	}
	d := models.Direction(v.String)
	return &d
}

// GetEntries loads all entries for an event with their predictions, ordered
// by entry ID so callers see a stable order.
func (s *Store) GetEntries(ctx context.Context, eventID uuid.UUID) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, score, base_score, created_at
		FROM entries WHERE event_id = ? ORDER BY id ASC
	`, eventID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	index := make(map[string]int)
	for rows.Next() {
		var (
			entry       models.Entry
			id, eventID string
		)
		if err := rows.Scan(&id, &eventID, &entry.Score, &entry.BaseScore, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse entry id %q: %w", id, err)
		}
		if entry.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", eventID, err)
		}
		index[id] = len(entries)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	expRows, err := s.db.QueryContext(ctx, `
		SELECT eo.entry_id, eo.station_id, eo.temp_low, eo.temp_high, eo.wind_speed, eo.wind_direction, eo.rain_amt, eo.snow_amt, eo.humidity
		FROM expected_observations eo
		JOIN entries e ON e.id = eo.entry_id
		WHERE e.event_id = ?
		ORDER BY eo.entry_id, eo.station_id
	`, eventID.String())
	if err != nil {
		return nil, err
	}
	defer expRows.Close()

	for expRows.Next() {
		var (
			entryID, stationID                                          string
			tempLow, tempHigh, windSpeed, windDir, rain, snow, humidity sql.NullString
		)
		if err := expRows.Scan(&entryID, &stationID, &tempLow, &tempHigh, &windSpeed, &windDir, &rain, &snow, &humidity); err != nil {
			return nil, err
		}
		i, ok := index[entryID]
		if !ok {
			continue
		}
		entries[i].Expected = append(entries[i].Expected, models.ExpectedObservation{
			StationID:     stationID,
			TempLow:       dirPtr(tempLow),
			TempHigh:      dirPtr(tempHigh),
			WindSpeed:     dirPtr(windSpeed),
			WindDirection: dirPtr(windDir),
			RainAmt:       dirPtr(rain),
			SnowAmt:       dirPtr(snow),
			Humidity:      dirPtr(humidity),
		})
	}
	return entries, expRows.Err()
}

// GetEntry loads one entry with its predictions.
func (s *Store) GetEntry(ctx context.Context, eventID, entryID uuid.UUID) (*models.Entry, error) {
	entries, err := s.GetEntries(ctx, eventID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == entryID {
			return &entries[i], nil
		}
	}
	return nil, ErrNoRows
}

// UpdateEntryScores writes computed scores for an event's entries.
func (s *Store) UpdateEntryScores(ctx context.Context, scores map[uuid.UUID][2]int64) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		for id, pair := range scores {
			if _, err := tx.Exec(`UPDATE entries SET score = ?, base_score = ? WHERE id = ?`,
				pair[0], pair[1], id.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetAttestation records the attestation signature. The write succeeds only
// on the null -> value transition; a second write returns ErrAlreadyAttested.
func (s *Store) SetAttestation(ctx context.Context, eventID uuid.UUID, attestation []byte) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE events SET attestation_signature = ?
			WHERE id = ? AND attestation_signature IS NULL
		`, attestation, eventID.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyAttested
		}
		return nil
	})
}

// InsertWeatherReadings freezes the weather snapshot an event will be
// scored against. Existing readings are kept untouched so retried signings
// score the same inputs.
func (s *Store) InsertWeatherReadings(ctx context.Context, readings []models.WeatherReading) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		for _, r := range readings {
			observed, err := marshalNullable(r.Observed)
			if err != nil {
				return fmt.Errorf("marshal observed: %w", err)
			}
			forecasted, err := marshalNullable(r.Forecasted)
			if err != nil {
				return fmt.Errorf("marshal forecasted: %w", err)
			}
			if _, err := tx.Exec(`
				INSERT INTO weather_readings (event_id, station_id, observed_date, observed_json, forecasted_json)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(event_id, station_id, observed_date) DO NOTHING
			`, r.EventID.String(), r.StationID, r.ObservedDate.UTC().Format("2006-01-02"), observed, forecasted); err != nil {
				return err
			}
		}
		return nil
	})
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case *models.DailyObservation:
		if val == nil {
			return sql.NullString{}, nil
		}
	case *models.DailyForecast:
		if val == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// GetWeatherReadings loads an event's frozen readings.
func (s *Store) GetWeatherReadings(ctx context.Context, eventID uuid.UUID) ([]models.WeatherReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, station_id, observed_date, observed_json, forecasted_json
		FROM weather_readings WHERE event_id = ?
		ORDER BY station_id, observed_date
	`, eventID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.WeatherReading
	for rows.Next() {
		var (
			r                    models.WeatherReading
			id, observedDate     string
			observed, forecasted sql.NullString
		)
		if err := rows.Scan(&id, &r.StationID, &observedDate, &observed, &forecasted); err != nil {
			return nil, err
		}
		if r.EventID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		if r.ObservedDate, err = time.ParseInLocation(time.RFC3339, observedDate, time.UTC); err != nil {
			if r.ObservedDate, err = time.ParseInLocation("2006-01-02", observedDate, time.UTC); err != nil {
				return nil, fmt.Errorf("parse observed date %q: %w", observedDate, err)
			}
		}
		if observed.Valid {
			var o models.DailyObservation
			if err := json.Unmarshal([]byte(observed.String), &o); err != nil {
				return nil, fmt.Errorf("unmarshal observed: %w", err)
			}
			r.Observed = &o
		}
		if forecasted.Valid {
			var f models.DailyForecast
			if err := json.Unmarshal([]byte(forecasted.String), &f); err != nil {
				return nil, fmt.Errorf("unmarshal forecasted: %w", err)
			}
			r.Forecasted = &f
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
