package models

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotKind identifies the two snapshot file families the daemon produces.
type SnapshotKind string

const (
	KindObservations SnapshotKind = "observations"
	KindForecasts    SnapshotKind = "forecasts"
)

func (k SnapshotKind) Valid() bool {
	return k == KindObservations || k == KindForecasts
}

// Direction is a categorical prediction relative to the par (forecast) value.
type Direction string

const (
	Over  Direction = "over"
	Par   Direction = "par"
	Under Direction = "under"
)

func (d Direction) Valid() bool {
	return d == Over || d == Par || d == Under
}

// EventStatus is derived from an event's timestamps, entries, and attestation.
type EventStatus string

const (
	StatusCreated      EventStatus = "CREATED"
	StatusOpen         EventStatus = "OPEN"
	StatusAwaitingSign EventStatus = "AWAITING_SIGN"
	StatusSigned       EventStatus = "SIGNED"
)

// ScoringField names a daily-summary value an entry can predict against.
type ScoringField string

const (
	FieldTempLow       ScoringField = "temp_low"
	FieldTempHigh      ScoringField = "temp_high"
	FieldWindSpeed     ScoringField = "wind_speed"
	FieldWindDirection ScoringField = "wind_direction"
	FieldRainAmt       ScoringField = "rain_amt"
	FieldSnowAmt       ScoringField = "snow_amt"
	FieldHumidity      ScoringField = "humidity"
)

var AllScoringFields = []ScoringField{
	FieldTempLow, FieldTempHigh, FieldWindSpeed, FieldWindDirection,
	FieldRainAmt, FieldSnowAmt, FieldHumidity,
}

func (f ScoringField) Valid() bool {
	for _, known := range AllScoringFields {
		if f == known {
			return true
		}
	}
	return false
}

// ObservationRow is one station's hourly METAR-derived reading inside an
// observations snapshot file. Optional columns may be absent in older files;
// readers fill them with null.
type ObservationRow struct {
	StationID           string    `parquet:"station_id" json:"station_id"`
	GeneratedAt         time.Time `parquet:"generated_at,timestamp(millisecond)" json:"generated_at"`
	TemperatureValue    *float64  `parquet:"temperature_value,optional" json:"temperature_value"`
	TemperatureUnitCode string    `parquet:"temperature_unit_code" json:"temperature_unit_code"`
	DewpointValue       *float64  `parquet:"dewpoint_value,optional" json:"dewpoint_value,omitempty"`
	WindSpeed           *float64  `parquet:"wind_speed,optional" json:"wind_speed,omitempty"`
	WindDirection       *float64  `parquet:"wind_direction,optional" json:"wind_direction,omitempty"`
	PrecipIn            *float64  `parquet:"precip_in,optional" json:"precip_in,omitempty"`
	WxString            *string   `parquet:"wx_string,optional" json:"wx_string,omitempty"`

	// Station metadata columns, present when the feed supplies them.
	StationName *string  `parquet:"station_name,optional" json:"station_name,omitempty"`
	State       *string  `parquet:"state,optional" json:"state,omitempty"`
	IataID      *string  `parquet:"iata_id,optional" json:"iata_id,omitempty"`
	ElevationM  *float64 `parquet:"elevation_m,optional" json:"elevation_m,omitempty"`
	Latitude    *float64 `parquet:"latitude,optional" json:"latitude,omitempty"`
	Longitude   *float64 `parquet:"longitude,optional" json:"longitude,omitempty"`
}

// ForecastRow is one station's forecast period inside a forecasts snapshot
// file. Periods from successive fetches overlap; de-duplication keeps the
// latest GeneratedAt per (station, begin, end).
type ForecastRow struct {
	StationID           string    `parquet:"station_id" json:"station_id"`
	GeneratedAt         time.Time `parquet:"generated_at,timestamp(millisecond)" json:"generated_at"`
	BeginTime           time.Time `parquet:"begin_time,timestamp(millisecond)" json:"begin_time"`
	EndTime             time.Time `parquet:"end_time,timestamp(millisecond)" json:"end_time"`
	MinTemp             *float64  `parquet:"min_temp,optional" json:"min_temp,omitempty"`
	MaxTemp             *float64  `parquet:"max_temp,optional" json:"max_temp,omitempty"`
	WindSpeed           *float64  `parquet:"wind_speed,optional" json:"wind_speed,omitempty"`
	WindDirection       *float64  `parquet:"wind_direction,optional" json:"wind_direction,omitempty"`
	RelativeHumidityMin *float64  `parquet:"relative_humidity_min,optional" json:"relative_humidity_min,omitempty"`
	RelativeHumidityMax *float64  `parquet:"relative_humidity_max,optional" json:"relative_humidity_max,omitempty"`
	PrecipChance12h     *float64  `parquet:"twelve_hour_probability_of_precipitation,optional" json:"twelve_hour_probability_of_precipitation,omitempty"`
	LiquidPrecipAmt     *float64  `parquet:"liquid_precipitation_amt,optional" json:"liquid_precipitation_amt,omitempty"`
	SnowAmt             *float64  `parquet:"snow_amt,optional" json:"snow_amt,omitempty"`
	SnowRatio           *float64  `parquet:"snow_ratio,optional" json:"snow_ratio,omitempty"`
	IceAmt              *float64  `parquet:"ice_amt,optional" json:"ice_amt,omitempty"`
	TemperatureUnitCode string    `parquet:"temperature_unit_code" json:"temperature_unit_code"`
}

// DailyObservation is the per-station, per-UTC-day materialization of
// observation snapshots that entries are scored against.
type DailyObservation struct {
	StationID           string    `json:"station_id"`
	Date                time.Time `json:"date"`
	TempLow             *float64  `json:"temp_low"`
	TempHigh            *float64  `json:"temp_high"`
	WindSpeed           *float64  `json:"wind_speed"`
	WindDirection       *float64  `json:"wind_direction"`
	Humidity            *int64    `json:"humidity"`
	RainAmt             *float64  `json:"rain_amt"`
	SnowAmt             *float64  `json:"snow_amt"`
	IceAmt              *float64  `json:"ice_amt"`
	TemperatureUnitCode string    `json:"temperature_unit_code"`
}

// DailyForecast is the per-station, per-UTC-day forecast materialization.
type DailyForecast struct {
	StationID           string    `json:"station_id"`
	Date                time.Time `json:"date"`
	TempLow             *float64  `json:"temp_low"`
	TempHigh            *float64  `json:"temp_high"`
	WindSpeed           *float64  `json:"wind_speed"`
	WindDirection       *float64  `json:"wind_direction"`
	HumidityMin         *float64  `json:"humidity_min"`
	HumidityMax         *float64  `json:"humidity_max"`
	PrecipChance        *float64  `json:"precip_chance"`
	RainAmt             *float64  `json:"rain_amt"`
	SnowAmt             *float64  `json:"snow_amt"`
	IceAmt              *float64  `json:"ice_amt"`
	TemperatureUnitCode string    `json:"temperature_unit_code"`
}

// Station is the metadata surfaced by GET /stations, taken from the most
// recent observations snapshot.
type Station struct {
	StationID  string   `json:"station_id"`
	Name       string   `json:"name,omitempty"`
	State      string   `json:"state,omitempty"`
	IataID     string   `json:"iata_id,omitempty"`
	ElevationM *float64 `json:"elevation_m,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// ExpectedObservation holds one station's categorical predictions for an
// entry. Only the fields named in the event's scoring_fields may be set.
type ExpectedObservation struct {
	StationID     string     `json:"station_id"`
	TempLow       *Direction `json:"temp_low,omitempty"`
	TempHigh      *Direction `json:"temp_high,omitempty"`
	WindSpeed     *Direction `json:"wind_speed,omitempty"`
	WindDirection *Direction `json:"wind_direction,omitempty"`
	RainAmt       *Direction `json:"rain_amt,omitempty"`
	SnowAmt       *Direction `json:"snow_amt,omitempty"`
	Humidity      *Direction `json:"humidity,omitempty"`
}

// Prediction returns the direction chosen for a field, or nil.
func (e *ExpectedObservation) Prediction(field ScoringField) *Direction {
	switch field {
	case FieldTempLow:
		return e.TempLow
	case FieldTempHigh:
		return e.TempHigh
	case FieldWindSpeed:
		return e.WindSpeed
	case FieldWindDirection:
		return e.WindDirection
	case FieldRainAmt:
		return e.RainAmt
	case FieldSnowAmt:
		return e.SnowAmt
	case FieldHumidity:
		return e.Humidity
	}
	return nil
}

// SetPrediction assigns the direction for a field.
func (e *ExpectedObservation) SetPrediction(field ScoringField, d Direction) {
	v := d
	switch field {
	case FieldTempLow:
		e.TempLow = &v
	case FieldTempHigh:
		e.TempHigh = &v
	case FieldWindSpeed:
		e.WindSpeed = &v
	case FieldWindDirection:
		e.WindDirection = &v
	case FieldRainAmt:
		e.RainAmt = &v
	case FieldSnowAmt:
		e.SnowAmt = &v
	case FieldHumidity:
		e.Humidity = &v
	}
}

// Entry is a single contestant's prediction vector for an event.
type Entry struct {
	ID        uuid.UUID             `json:"id"`
	EventID   uuid.UUID             `json:"event_id"`
	Score     int64                 `json:"score"`
	BaseScore int64                 `json:"base_score"`
	Expected  []ExpectedObservation `json:"expected_observations"`
	CreatedAt time.Time             `json:"created_at"`
}

// WeatherReading is the frozen per-station weather snapshot an event is
// scored against. Written once at signing (or by the refresh tick) and
// never mutated afterwards.
type WeatherReading struct {
	EventID      uuid.UUID         `json:"event_id"`
	StationID    string            `json:"station_id"`
	ObservedDate time.Time         `json:"observed_date"`
	Observed     *DailyObservation `json:"observed,omitempty"`
	Forecasted   *DailyForecast    `json:"forecasted,omitempty"`
}

// Event binds entries, an observation window, a fixed signing time, and the
// pre-committed nonce commitment.
type Event struct {
	ID                     uuid.UUID      `json:"id"`
	TotalAllowedEntries    int            `json:"total_allowed_entries"`
	NumberOfPlacesWin      int            `json:"number_of_places_win"`
	NumberOfValuesPerEntry int            `json:"number_of_values_per_entry"`
	SigningDate            time.Time      `json:"signing_date"`
	StartObservationDate   time.Time      `json:"start_observation_date"`
	EndObservationDate     time.Time      `json:"end_observation_date"`
	Locations              []string       `json:"locations"`
	ScoringFields          []ScoringField `json:"scoring_fields"`
	Announcement           []byte         `json:"event_announcement"`
	CoordinatorPubkey      string         `json:"coordinator_pubkey,omitempty"`
	Attestation            []byte         `json:"attestation_signature,omitempty"`
	Status                 EventStatus    `json:"status"`
	CreatedAt              time.Time      `json:"created_at"`

	Entries  []Entry          `json:"entries,omitempty"`
	Readings []WeatherReading `json:"weather,omitempty"`
}

// DeriveStatus computes the lifecycle state from stored fields.
func (ev *Event) DeriveStatus(now time.Time) EventStatus {
	switch {
	case len(ev.Attestation) > 0:
		return StatusSigned
	case !now.Before(ev.EndObservationDate):
		return StatusAwaitingSign
	case len(ev.Entries) > 0:
		return StatusOpen
	default:
		return StatusCreated
	}
}

// OracleIdentity is the singleton row identifying this oracle.
type OracleIdentity struct {
	Pubkey    []byte    `json:"pubkey"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
