// Package scoring is the pure kernel that turns an entry's categorical
// predictions and an event's frozen weather readings into an integer score.
// It performs no I/O and never consults the clock.
package scoring

import (
	"sort"

	"github.com/skycommit/skycommit/internal/models"
)

// Score compares each station x field prediction against the outcome
// direction relative to par. Par is the forecast value captured in the
// frozen reading; the observed value decides over/par/under. A matching
// direction adds one point; a missing observation or forecast contributes
// nothing.
func Score(expected []models.ExpectedObservation, readings []models.WeatherReading, fields []models.ScoringField) int64 {
	byStation := make(map[string]models.WeatherReading, len(readings))
	for _, r := range readings {
		byStation[r.StationID] = r
	}

	var total int64
	for _, choice := range expected {
		reading, ok := byStation[choice.StationID]
		if !ok {
			continue
		}
		for _, field := range fields {
			prediction := choice.Prediction(field)
			if prediction == nil {
				continue
			}
			outcome, ok := outcomeDirection(reading, field)
			if !ok {
				continue
			}
			if *prediction == outcome {
				total++
			}
		}
	}
	return total
}

// outcomeDirection resolves the realized direction for one field: over when
// observed exceeds par, under when below, par on exact match.
func outcomeDirection(r models.WeatherReading, field models.ScoringField) (models.Direction, bool) {
	if r.Observed == nil || r.Forecasted == nil {
		return "", false
	}
	observed := observedValue(r.Observed, field)
	par := parValue(r.Forecasted, field)
	if observed == nil || par == nil {
		return "", false
	}
	switch {
	case *observed > *par:
		return models.Over, true
	case *observed < *par:
		return models.Under, true
	default:
		return models.Par, true
	}
}

func observedValue(o *models.DailyObservation, field models.ScoringField) *float64 {
	switch field {
	case models.FieldTempLow:
		return o.TempLow
	case models.FieldTempHigh:
		return o.TempHigh
	case models.FieldWindSpeed:
		return o.WindSpeed
	case models.FieldWindDirection:
		return o.WindDirection
	case models.FieldRainAmt:
		return o.RainAmt
	case models.FieldSnowAmt:
		return o.SnowAmt
	case models.FieldHumidity:
		if o.Humidity == nil {
			return nil
		}
		v := float64(*o.Humidity)
		return &v
	}
	return nil
}

func parValue(f *models.DailyForecast, field models.ScoringField) *float64 {
	switch field {
	case models.FieldTempLow:
		return f.TempLow
	case models.FieldTempHigh:
		return f.TempHigh
	case models.FieldWindSpeed:
		return f.WindSpeed
	case models.FieldWindDirection:
		return f.WindDirection
	case models.FieldRainAmt:
		return f.RainAmt
	case models.FieldSnowAmt:
		return f.SnowAmt
	case models.FieldHumidity:
		// Par humidity is the midpoint of the forecast band.
		if f.HumidityMin == nil || f.HumidityMax == nil {
			return nil
		}
		v := (*f.HumidityMin + *f.HumidityMax) / 2
		return &v
	}
	return nil
}

// Rank orders entries by score descending, breaking ties by lexicographic
// entry ID so the result is deterministic across invocations.
func Rank(entries []models.Entry) []models.Entry {
	ranked := make([]models.Entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID.String() < ranked[j].ID.String()
	})
	return ranked
}
