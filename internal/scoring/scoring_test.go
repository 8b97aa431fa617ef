package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skycommit/skycommit/internal/models"
)

func f64(v float64) *float64 { return &v }

func dir(d models.Direction) *models.Direction { return &d }

func reading(station string, observedHigh, parHigh float64) models.WeatherReading {
	date := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.WeatherReading{
		StationID:    station,
		ObservedDate: date,
		Observed:     &models.DailyObservation{StationID: station, Date: date, TempHigh: f64(observedHigh)},
		Forecasted:   &models.DailyForecast{StationID: station, Date: date, TempHigh: f64(parHigh)},
	}
}

func TestScoreDirections(t *testing.T) {
	readings := []models.WeatherReading{reading("KORD", 12.0, 10.0)}
	fields := []models.ScoringField{models.FieldTempHigh}

	tests := []struct {
		name string
		pick models.Direction
		want int64
	}{
		{name: "over wins when observed above par", pick: models.Over, want: 1},
		{name: "under loses when observed above par", pick: models.Under, want: 0},
		{name: "par loses when observed above par", pick: models.Par, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expected := []models.ExpectedObservation{{StationID: "KORD", TempHigh: dir(tt.pick)}}
			if got := Score(expected, readings, fields); got != tt.want {
				t.Errorf("Score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreParExactMatch(t *testing.T) {
	readings := []models.WeatherReading{reading("KORD", 10.0, 10.0)}
	expected := []models.ExpectedObservation{{StationID: "KORD", TempHigh: dir(models.Par)}}
	if got := Score(expected, readings, []models.ScoringField{models.FieldTempHigh}); got != 1 {
		t.Errorf("Score = %d, want 1", got)
	}
}

func TestScoreMissingObservation(t *testing.T) {
	date := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []models.WeatherReading{{
		StationID:    "KORD",
		ObservedDate: date,
		Forecasted:   &models.DailyForecast{StationID: "KORD", Date: date, TempHigh: f64(10)},
	}}
	expected := []models.ExpectedObservation{{StationID: "KORD", TempHigh: dir(models.Over)}}
	if got := Score(expected, readings, []models.ScoringField{models.FieldTempHigh}); got != 0 {
		t.Errorf("Score = %d, want 0 for missing observation", got)
	}
}

func TestScorePureAndFieldOrderIndependent(t *testing.T) {
	date := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []models.WeatherReading{{
		StationID:    "KSEA",
		ObservedDate: date,
		Observed: &models.DailyObservation{
			StationID: "KSEA", Date: date,
			TempLow: f64(2), TempHigh: f64(9), WindSpeed: f64(22),
		},
		Forecasted: &models.DailyForecast{
			StationID: "KSEA", Date: date,
			TempLow: f64(4), TempHigh: f64(9), WindSpeed: f64(15),
		},
	}}
	expected := []models.ExpectedObservation{{
		StationID: "KSEA",
		TempLow:   dir(models.Under),
		TempHigh:  dir(models.Par),
		WindSpeed: dir(models.Over),
	}}

	fields := []models.ScoringField{models.FieldTempLow, models.FieldTempHigh, models.FieldWindSpeed}
	reversed := []models.ScoringField{models.FieldWindSpeed, models.FieldTempHigh, models.FieldTempLow}

	first := Score(expected, readings, fields)
	if first != 3 {
		t.Fatalf("Score = %d, want 3", first)
	}
	for i := 0; i < 5; i++ {
		if got := Score(expected, readings, fields); got != first {
			t.Fatalf("repeat invocation %d: Score = %d, want %d", i, got, first)
		}
	}
	if got := Score(expected, readings, reversed); got != first {
		t.Errorf("field order changed the score: %d vs %d", got, first)
	}
}

func TestRankTieBreakByEntryID(t *testing.T) {
	low := uuid.MustParse("018fa000-0000-7000-8000-000000000001")
	high := uuid.MustParse("018fa000-0000-7000-8000-000000000002")

	entries := []models.Entry{
		{ID: high, Score: 5},
		{ID: low, Score: 5},
		{ID: uuid.MustParse("018fa000-0000-7000-8000-000000000003"), Score: 9},
	}
	ranked := Rank(entries)
	if ranked[0].Score != 9 {
		t.Fatalf("top score = %d, want 9", ranked[0].Score)
	}
	if ranked[1].ID != low {
		t.Errorf("tie break: got %s first, want %s", ranked[1].ID, low)
	}
	if ranked[2].ID != high {
		t.Errorf("tie break: got %s last, want %s", ranked[2].ID, high)
	}
}
