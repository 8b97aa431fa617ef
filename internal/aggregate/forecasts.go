package aggregate

import (
	"sort"
	"time"

	"github.com/skycommit/skycommit/internal/models"
)

// dedupeForecasts keeps, for each (station, begin, end) window, the row with
// the largest generated_at. Later fetches supersede earlier ones.
func dedupeForecasts(rows []models.ForecastRow) []models.ForecastRow {
	type key struct {
		station    string
		begin, end time.Time
	}
	latest := make(map[key]models.ForecastRow)
	for _, row := range rows {
		k := key{station: row.StationID, begin: row.BeginTime.UTC(), end: row.EndTime.UTC()}
		if have, ok := latest[k]; !ok || row.GeneratedAt.After(have.GeneratedAt) {
			latest[k] = row
		}
	}
	out := make([]models.ForecastRow, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	return out
}

type fcAccumulator struct {
	stationID string
	date      time.Time

	tempLow  *float64
	tempHigh *float64
	windMax  *float64
	dirMax   *float64

	humidityMin  *float64
	humidityMax  *float64
	precipChance *float64
	unitCode     string

	qpf      float64
	hasQPF   bool
	snow     float64
	hasSnow  bool
	ice      float64
	hasIce   bool
	ratioSum float64
	ratioN   int
}

// DailyForecasts de-duplicates overlapping forecast periods (latest
// generated_at wins), then groups by (station, UTC day of begin_time) and
// reduces each group. Rain is derived from total liquid precipitation minus
// the snow and ice shares.
func DailyForecasts(rows []models.ForecastRow) []models.DailyForecast {
	deduped := dedupeForecasts(rows)

	type key struct {
		station string
		date    time.Time
	}
	groups := make(map[key]*fcAccumulator)

	for _, row := range deduped {
		k := key{station: row.StationID, date: dateUTC(row.BeginTime)}
		acc, ok := groups[k]
		if !ok {
			acc = &fcAccumulator{stationID: k.station, date: k.date}
			groups[k] = acc
		}

		if row.MinTemp != nil && *row.MinTemp >= -200 && *row.MinTemp <= 200 {
			v := *row.MinTemp
			if acc.tempLow == nil || v < *acc.tempLow {
				acc.tempLow = &v
			}
		}
		if row.MaxTemp != nil && *row.MaxTemp >= -200 && *row.MaxTemp <= 200 {
			v := *row.MaxTemp
			if acc.tempHigh == nil || v > *acc.tempHigh {
				acc.tempHigh = &v
			}
		}
		if row.WindSpeed != nil && *row.WindSpeed >= 0 && *row.WindSpeed <= 500 {
			v := *row.WindSpeed
			if acc.windMax == nil || v > *acc.windMax {
				acc.windMax = &v
			}
		}
		if row.WindDirection != nil && *row.WindDirection >= 0 && *row.WindDirection <= 360 {
			v := *row.WindDirection
			if acc.dirMax == nil || v > *acc.dirMax {
				acc.dirMax = &v
			}
		}
		if row.RelativeHumidityMin != nil && *row.RelativeHumidityMin >= 0 && *row.RelativeHumidityMin <= 100 {
			v := *row.RelativeHumidityMin
			if acc.humidityMin == nil || v < *acc.humidityMin {
				acc.humidityMin = &v
			}
		}
		if row.RelativeHumidityMax != nil && *row.RelativeHumidityMax >= 0 && *row.RelativeHumidityMax <= 100 {
			v := *row.RelativeHumidityMax
			if acc.humidityMax == nil || v > *acc.humidityMax {
				acc.humidityMax = &v
			}
		}
		if row.PrecipChance12h != nil {
			v := *row.PrecipChance12h
			if acc.precipChance == nil || v > *acc.precipChance {
				acc.precipChance = &v
			}
		}
		if row.TemperatureUnitCode > acc.unitCode {
			acc.unitCode = row.TemperatureUnitCode
		}
		if row.LiquidPrecipAmt != nil && *row.LiquidPrecipAmt >= 0 {
			acc.qpf += *row.LiquidPrecipAmt
			acc.hasQPF = true
		}
		if row.SnowAmt != nil && *row.SnowAmt >= 0 {
			acc.snow += *row.SnowAmt
			acc.hasSnow = true
		}
		if row.IceAmt != nil && *row.IceAmt >= 0 {
			acc.ice += *row.IceAmt
			acc.hasIce = true
		}
		if row.SnowRatio != nil && *row.SnowRatio > 0 {
			acc.ratioSum += *row.SnowRatio
			acc.ratioN++
		}
	}

	out := make([]models.DailyForecast, 0, len(groups))
	for _, acc := range groups {
		d := models.DailyForecast{
			StationID:           acc.stationID,
			Date:                acc.date,
			TempLow:             acc.tempLow,
			TempHigh:            acc.tempHigh,
			WindSpeed:           acc.windMax,
			WindDirection:       acc.dirMax,
			HumidityMin:         acc.humidityMin,
			HumidityMax:         acc.humidityMax,
			PrecipChance:        acc.precipChance,
			TemperatureUnitCode: acc.unitCode,
		}
		if acc.hasSnow {
			v := acc.snow
			d.SnowAmt = &v
		}
		if acc.hasIce {
			v := acc.ice
			d.IceAmt = &v
		}
		if acc.hasQPF {
			rain := acc.qpf
			if acc.hasSnow && acc.ratioN > 0 {
				rain -= acc.snow / (acc.ratioSum / float64(acc.ratioN))
			}
			if acc.hasIce {
				rain -= acc.ice
			}
			if rain < 0 {
				rain = 0
			}
			d.RainAmt = &rain
		}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
