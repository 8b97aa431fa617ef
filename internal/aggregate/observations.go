// Package aggregate materializes per-station daily summaries from snapshot
// rows. Everything here is a pure transform over already-loaded data:
// deterministic, commutative over input order, and idempotent.
package aggregate

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/skycommit/skycommit/internal/models"
)

// METAR wx_string token classes. Tokens must stand alone in the string, so
// SN matches but BLSNX does not.
var (
	snowRe = regexp.MustCompile(`(^|\s)(SN|BLSN|DRSN)(\s|$)`)
	iceRe  = regexp.MustCompile(`(^|\s)(FZRA|FZDZ|PL|GR|GS|IC)(\s|$)`)
)

// Liquid-equivalent to snow depth when the feed gives no ratio.
const defaultSnowRatio = 10.0

type precipClass int

const (
	precipRain precipClass = iota
	precipSnow
	precipIce
)

// classifyPrecip decides rain/snow/ice for one observation row. METAR codes
// win when present; otherwise temperature at or below 2 degC means snow.
func classifyPrecip(wx *string, temp *float64) precipClass {
	if wx != nil && *wx != "" {
		switch {
		case snowRe.MatchString(*wx):
			return precipSnow
		case iceRe.MatchString(*wx):
			return precipIce
		default:
			return precipRain
		}
	}
	if temp != nil && *temp <= 2.0 {
		return precipSnow
	}
	return precipRain
}

// magnusRH computes relative humidity percent from temperature and dewpoint
// in degC using the Magnus approximation.
func magnusRH(temp, dewpoint float64) float64 {
	return 100.0 * math.Exp((17.625*dewpoint)/(243.04+dewpoint)) /
		math.Exp((17.625*temp)/(243.04+temp))
}

func dateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

type obsAccumulator struct {
	stationID string
	date      time.Time

	tempLow  *float64
	tempHigh *float64
	windMax  *float64
	dirMax   *float64
	unitCode string

	rhSum   float64
	rhCount int

	rain, snow, ice          float64
	hasRain, hasSnow, hasIce bool
}

// DailyObservations groups observation rows by (station, UTC day) and
// reduces each group to the summary entries are scored against. Humidity is
// computed per row via the Magnus formula, then averaged over the day.
func DailyObservations(rows []models.ObservationRow) []models.DailyObservation {
	type key struct {
		station string
		date    time.Time
	}
	groups := make(map[key]*obsAccumulator)

	for i := range rows {
		row := &rows[i]
		k := key{station: row.StationID, date: dateUTC(row.GeneratedAt)}
		acc, ok := groups[k]
		if !ok {
			acc = &obsAccumulator{stationID: k.station, date: k.date}
			groups[k] = acc
		}

		if row.TemperatureValue != nil {
			v := *row.TemperatureValue
			if acc.tempLow == nil || v < *acc.tempLow {
				acc.tempLow = &v
			}
			if acc.tempHigh == nil || v > *acc.tempHigh {
				hv := v
				acc.tempHigh = &hv
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
		if row.TemperatureUnitCode > acc.unitCode {
			acc.unitCode = row.TemperatureUnitCode
		}
		if row.TemperatureValue != nil && row.DewpointValue != nil {
			acc.rhSum += magnusRH(*row.TemperatureValue, *row.DewpointValue)
			acc.rhCount++
		}
		if row.PrecipIn != nil && *row.PrecipIn >= 0 {
			switch classifyPrecip(row.WxString, row.TemperatureValue) {
			case precipSnow:
				acc.snow += *row.PrecipIn * defaultSnowRatio
				acc.hasSnow = true
			case precipIce:
				acc.ice += *row.PrecipIn
				acc.hasIce = true
			default:
				acc.rain += *row.PrecipIn
				acc.hasRain = true
			}
		}
	}

	out := make([]models.DailyObservation, 0, len(groups))
	for _, acc := range groups {
		d := models.DailyObservation{
			StationID:           acc.stationID,
			Date:                acc.date,
			TempLow:             acc.tempLow,
			TempHigh:            acc.tempHigh,
			WindSpeed:           acc.windMax,
			WindDirection:       acc.dirMax,
			TemperatureUnitCode: acc.unitCode,
		}
		if acc.rhCount > 0 {
			h := int64(math.Round(acc.rhSum / float64(acc.rhCount)))
			d.Humidity = &h
		}
		if acc.hasRain {
			v := acc.rain
			d.RainAmt = &v
		}
		if acc.hasSnow {
			v := acc.snow
			d.SnowAmt = &v
		}
		if acc.hasIce {
			v := acc.ice
			d.IceAmt = &v
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
