package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/skycommit/skycommit/internal/aggregate"
	"github.com/skycommit/skycommit/internal/dlc"
	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/scoring"
	"github.com/skycommit/skycommit/internal/store"
)

// Sign produces (or returns) the attestation for an event. The first
// successful call freezes weather readings, scores and ranks entries,
// resolves the winning outcome label, and reveals the attestation scalar.
// Later calls return the stored signature without recomputation.
func (o *Oracle) Sign(ctx context.Context, eventID uuid.UUID) ([]byte, error) {
	record, err := o.store.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("event %s", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(record.Attestation) > 0 {
		return record.Attestation, nil
	}

	now := o.clock.Now().UTC()
	if now.Before(record.SigningDate) {
		return nil, invalidf("event %s signs at %s", eventID, record.SigningDate.Format(time.RFC3339))
	}

	// Step 1: freeze. Weather readings persisted here survive a failed
	// signing attempt; the remaining steps are pure over them, so a retry
	// reproduces the same outcome.
	readings, err := o.freezeWeather(ctx, record)
	if err != nil {
		return nil, err
	}

	entries, err := o.store.GetEntries(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	// Steps 2-3: score and rank.
	scores := make(map[uuid.UUID][2]int64, len(entries))
	for i := range entries {
		score := scoring.Score(entries[i].Expected, readings, record.ScoringFields)
		entries[i].Score = score
		entries[i].BaseScore = score
		scores[entries[i].ID] = [2]int64{score, score}
	}
	if err := o.retryWrite(func() error { return o.store.UpdateEntryScores(ctx, scores) }); err != nil {
		return nil, fmt.Errorf("%w: persist scores: %v", ErrTransient, err)
	}

	// Step 4: the winning outcome. Winner positions are indices into the
	// ID-sorted entry list, the same order the announcement's labels were
	// generated against. When nobody scored, the refund-all outcome wins.
	winners := winningRanking(entries, record.NumberOfPlacesWin, record.TotalAllowedEntries)

	outcomes := dlc.RankingPermutations(record.TotalAllowedEntries, record.NumberOfPlacesWin)
	outcomeIndex := dlc.OutcomeIndex(outcomes, winners)
	if outcomeIndex < 0 {
		return nil, fmt.Errorf("%w: ranking %v not in the committed outcome set of event %s", ErrFatal, winners, eventID)
	}

	// Step 5: reveal the attestation under the precommitted nonce.
	nonce, err := dlc.OpenNonce(o.priv, record.SealedNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: open sealed nonce: %v", ErrFatal, err)
	}
	attestation := dlc.AttestationSecret(o.priv, nonce, dlc.OutcomeMessage(winners))
	dlc.Zeroize(nonce)

	// Step 6: persist, write-once. Losing the race to a concurrent signer
	// is fine; both computed the same bytes over the same frozen inputs.
	err = o.retryWrite(func() error { return o.store.SetAttestation(ctx, eventID, attestation[:]) })
	if errors.Is(err, store.ErrAlreadyAttested) {
		stored, getErr := o.store.GetEvent(ctx, eventID)
		if getErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, getErr)
		}
		return stored.Attestation, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: persist attestation: %v", ErrTransient, err)
	}

	log.Printf("sign: event %s attested outcome %d (ranking %v)", eventID, outcomeIndex, winners)
	return attestation[:], nil
}

// winningRanking picks the top-k entry positions. Positions refer to the
// ID-sorted entry order fixed at announcement time. An event where every
// entry scored zero resolves to the refund-all outcome.
func winningRanking(entries []models.Entry, places, totalAllowed int) []int {
	if len(entries) > 0 {
		allZero := true
		for _, e := range entries {
			if e.BaseScore != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			refund := make([]int, totalAllowed)
			for i := range refund {
				refund[i] = i
			}
			return refund
		}
	} else {
		refund := make([]int, totalAllowed)
		for i := range refund {
			refund[i] = i
		}
		return refund
	}

	position := make(map[uuid.UUID]int, len(entries))
	for i, e := range entries {
		position[e.ID] = i
	}

	ranked := scoring.Rank(entries)
	if places > len(ranked) {
		places = len(ranked)
	}
	winners := make([]int, 0, places)
	for _, e := range ranked[:places] {
		winners = append(winners, position[e.ID])
	}
	return winners
}

// freezeWeather materializes and persists the event's weather readings, or
// returns the already-frozen set. Every station must have an observation
// summary for every day of the window; otherwise the data is not yet
// available and the event stays unsigned.
func (o *Oracle) freezeWeather(ctx context.Context, record *store.EventRecord) ([]models.WeatherReading, error) {
	existing, err := o.store.GetWeatherReadings(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	readings, err := o.materializeWeather(record)
	if err != nil {
		return nil, err
	}
	if err := o.retryWrite(func() error { return o.store.InsertWeatherReadings(ctx, readings) }); err != nil {
		return nil, fmt.Errorf("%w: persist weather readings: %v", ErrTransient, err)
	}
	return readings, nil
}

// materializeWeather runs the aggregation engine over the snapshot files
// covering the observation window. Files are pinned so the retention
// sweeper cannot remove them mid-query.
func (o *Oracle) materializeWeather(record *store.EventRecord) ([]models.WeatherReading, error) {
	start, end := record.StartObservationDate, record.EndObservationDate

	pinStart := start.Add(-24 * time.Hour)
	obsFiles, err := o.snapshots.List(models.KindObservations, pinStart, end)
	if err != nil {
		return nil, fmt.Errorf("%w: list observation snapshots: %v", ErrTransient, err)
	}
	fcFiles, err := o.snapshots.List(models.KindForecasts, pinStart, end)
	if err != nil {
		return nil, fmt.Errorf("%w: list forecast snapshots: %v", ErrTransient, err)
	}
	release := o.snapshots.Pin(append(append([]string{}, obsFiles...), fcFiles...))
	defer release()

	obsRows, err := o.snapshots.ReadObservations(start, end, record.Locations)
	if err != nil {
		return nil, fmt.Errorf("%w: read observations: %v", ErrTransient, err)
	}
	fcRows, err := o.snapshots.ReadForecasts(start, end, record.Locations)
	if err != nil {
		return nil, fmt.Errorf("%w: read forecasts: %v", ErrTransient, err)
	}

	dailyObs := aggregate.DailyObservations(obsRows)
	dailyFc := aggregate.DailyForecasts(fcRows)

	type key struct {
		station string
		date    time.Time
	}
	obsByKey := make(map[key]*models.DailyObservation)
	for i := range dailyObs {
		d := dailyObs[i]
		obsByKey[key{d.StationID, d.Date}] = &dailyObs[i]
	}
	fcByKey := make(map[key]*models.DailyForecast)
	for i := range dailyFc {
		d := dailyFc[i]
		fcByKey[key{d.StationID, d.Date}] = &dailyFc[i]
	}

	var readings []models.WeatherReading
	for _, station := range record.Locations {
		for day := dateOf(start); day.Before(end); day = day.Add(24 * time.Hour) {
			k := key{station, day}
			observed, ok := obsByKey[k]
			if !ok {
				return nil, unavailablef("no observations for station %s on %s", station, day.Format("2006-01-02"))
			}
			readings = append(readings, models.WeatherReading{
				EventID:      record.ID,
				StationID:    station,
				ObservedDate: day,
				Observed:     observed,
				Forecasted:   fcByKey[k],
			})
		}
	}
	return readings, nil
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// RefreshActiveEvents is the periodic tick that signs unsigned events whose
// signing date has passed. Events before their signing date are skipped;
// their scores are not computed until they are signed. Failures on one
// event never block the others.
func (o *Oracle) RefreshActiveEvents(ctx context.Context) {
	records, err := o.store.ListUnsignedEvents(ctx)
	if err != nil {
		log.Printf("refresh: list unsigned events: %v", err)
		return
	}
	now := o.clock.Now().UTC()
	for _, record := range records {
		if now.Before(record.SigningDate) {
			continue
		}
		if _, err := o.Sign(ctx, record.ID); err != nil {
			if errors.Is(err, ErrDataUnavailable) {
				log.Printf("refresh: event %s waiting for data: %v", record.ID, err)
			} else {
				log.Printf("refresh: sign event %s: %v", record.ID, err)
			}
		}
	}
}
