package snapshot

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/skycommit/skycommit/internal/models"
)

// The analytical reader loads the selected files into memory per query.
// Schemas are reconciled by column name: optional columns absent from older
// files decode as null. Rows are additionally filtered by generated_at and
// station, since a file named for one fetch second can carry observations
// timestamped earlier.

// ReadObservations returns all observation rows for the given stations with
// generated_at in [start, end]. An empty station list means all stations.
// File selection looks back one day before start so readings that landed in
// an earlier fetch's file are still found.
func (s *Store) ReadObservations(start, end time.Time, stationIDs []string) ([]models.ObservationRow, error) {
	fileStart := start
	if !fileStart.IsZero() {
		fileStart = fileStart.Add(-24 * time.Hour)
	}
	names, err := s.List(models.KindObservations, fileStart, end)
	if err != nil {
		return nil, err
	}

	wanted := stationSet(stationIDs)
	var rows []models.ObservationRow
	for _, name := range names {
		fileRows, err := parquet.ReadFile[models.ObservationRow](filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, row := range fileRows {
			if wanted != nil && !wanted[row.StationID] {
				continue
			}
			if !start.IsZero() && row.GeneratedAt.Before(start) {
				continue
			}
			if !end.IsZero() && row.GeneratedAt.After(end) {
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ReadForecasts returns all forecast rows from files generated in
// [start-1d, end] whose begin_time lies within [start, end]. A period that
// begins before start is not returned, even if it ends inside the range.
func (s *Store) ReadForecasts(start, end time.Time, stationIDs []string) ([]models.ForecastRow, error) {
	fileStart := start
	if !fileStart.IsZero() {
		fileStart = fileStart.Add(-24 * time.Hour)
	}
	names, err := s.List(models.KindForecasts, fileStart, end)
	if err != nil {
		return nil, err
	}

	wanted := stationSet(stationIDs)
	var rows []models.ForecastRow
	for _, name := range names {
		fileRows, err := parquet.ReadFile[models.ForecastRow](filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, row := range fileRows {
			if wanted != nil && !wanted[row.StationID] {
				continue
			}
			if !start.IsZero() && row.BeginTime.Before(start) {
				continue
			}
			if !end.IsZero() && row.BeginTime.After(end) {
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Stations lists the stations present in the most recent observations file.
func (s *Store) Stations() ([]models.Station, error) {
	latest, err := s.Latest(models.KindObservations)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}

	rows, err := parquet.ReadFile[models.ObservationRow](filepath.Join(s.dir, latest))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", latest, err)
	}

	seen := make(map[string]bool)
	var stations []models.Station
	for _, row := range rows {
		if seen[row.StationID] {
			continue
		}
		seen[row.StationID] = true
		st := models.Station{
			StationID:  row.StationID,
			ElevationM: row.ElevationM,
			Latitude:   row.Latitude,
			Longitude:  row.Longitude,
		}
		if row.StationName != nil {
			st.Name = *row.StationName
		}
		if row.State != nil {
			st.State = *row.State
		}
		if row.IataID != nil {
			st.IataID = *row.IataID
		}
		stations = append(stations, st)
	}
	return stations, nil
}

func stationSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
