// Package ingest is the daemon core: it pulls the remote observation and
// forecast feeds on a schedule, normalizes units, writes immutable columnar
// snapshot files named by generation time, and uploads them to the oracle.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skycommit/skycommit/internal/httputil"
	"github.com/skycommit/skycommit/internal/metrics"
	"github.com/skycommit/skycommit/internal/models"
)

// ObservationFeed pulls METAR-style current conditions.
type ObservationFeed struct {
	endpoint string
	client   *http.Client
}

func NewObservationFeed(endpoint string) *ObservationFeed {
	return &ObservationFeed{endpoint: endpoint, client: httputil.NewClient()}
}

// metarReport mirrors the observation feed's JSON rows.
type metarReport struct {
	StationID   string   `json:"icaoId"`
	ReportTime  string   `json:"reportTime"`
	TempC       *float64 `json:"temp"`
	DewpointC   *float64 `json:"dewp"`
	WindDirDeg  *float64 `json:"wdir"`
	WindSpeedKt *float64 `json:"wspd"`
	PrecipIn    *float64 `json:"precip"`
	WxString    *string  `json:"wxString"`
	Name        *string  `json:"name"`
	State       *string  `json:"state"`
	IataID      *string  `json:"iataId"`
	ElevM       *float64 `json:"elev"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

// Fetch downloads and normalizes the observation feed. All rows share the
// fetch's generated_at so the snapshot file and its rows agree.
func (f *ObservationFeed) Fetch(ctx context.Context, generatedAt time.Time) ([]models.ObservationRow, error) {
	body, err := fetchWithRetry(ctx, f.client, f.endpoint, "observations")
	if err != nil {
		return nil, err
	}

	var reports []metarReport
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, fmt.Errorf("unmarshal observations feed: %w", err)
	}

	rows := make([]models.ObservationRow, 0, len(reports))
	for _, report := range reports {
		if report.StationID == "" {
			continue
		}
		row := models.ObservationRow{
			StationID:           report.StationID,
			GeneratedAt:         generatedAt.UTC(),
			TemperatureValue:    report.TempC,
			TemperatureUnitCode: unitCelsius,
			DewpointValue:       report.DewpointC,
			WindDirection:       report.WindDirDeg,
			WindSpeed:           knotsToMph(report.WindSpeedKt),
			PrecipIn:            report.PrecipIn,
			WxString:            report.WxString,
			StationName:         report.Name,
			State:               report.State,
			IataID:              report.IataID,
			ElevationM:          report.ElevM,
			Latitude:            report.Lat,
			Longitude:           report.Lon,
		}
		if flags := ValidateObservation(&row); len(flags) > 0 {
			// Keep the row; scrub only the fields that failed validation.
			scrubObservation(&row, flags)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ForecastFeed pulls period forecasts.
type ForecastFeed struct {
	endpoint string
	client   *http.Client
}

func NewForecastFeed(endpoint string) *ForecastFeed {
	return &ForecastFeed{endpoint: endpoint, client: httputil.NewClient()}
}

// forecastReport mirrors the forecast feed's JSON rows: one row per
// station and forecast period.
type forecastReport struct {
	StationID    string   `json:"stationId"`
	BeginTime    string   `json:"beginTime"`
	EndTime      string   `json:"endTime"`
	MinTemp      *float64 `json:"minTemp"`
	MaxTemp      *float64 `json:"maxTemp"`
	TempUnit     string   `json:"tempUnit"`
	WindSpeedMph *float64 `json:"windSpeed"`
	WindDirDeg   *float64 `json:"windDirection"`
	HumidityMin  *float64 `json:"relativeHumidityMin"`
	HumidityMax  *float64 `json:"relativeHumidityMax"`
	PrecipChance *float64 `json:"probabilityOfPrecipitation12Hour"`
	LiquidPrecip *float64 `json:"liquidPrecipitationIn"`
	SnowAmountIn *float64 `json:"snowAmountIn"`
	SnowRatio    *float64 `json:"snowRatio"`
	IceAmountIn  *float64 `json:"iceAmountIn"`
}

func (f *ForecastFeed) Fetch(ctx context.Context, generatedAt time.Time) ([]models.ForecastRow, error) {
	body, err := fetchWithRetry(ctx, f.client, f.endpoint, "forecasts")
	if err != nil {
		return nil, err
	}

	var reports []forecastReport
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, fmt.Errorf("unmarshal forecasts feed: %w", err)
	}

	rows := make([]models.ForecastRow, 0, len(reports))
	for _, report := range reports {
		if report.StationID == "" {
			continue
		}
		begin, err := time.Parse(time.RFC3339, report.BeginTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, report.EndTime)
		if err != nil {
			continue
		}
		rows = append(rows, models.ForecastRow{
			StationID:           report.StationID,
			GeneratedAt:         generatedAt.UTC(),
			BeginTime:           begin.UTC(),
			EndTime:             end.UTC(),
			MinTemp:             normalizeTemp(report.MinTemp, report.TempUnit),
			MaxTemp:             normalizeTemp(report.MaxTemp, report.TempUnit),
			WindSpeed:           report.WindSpeedMph,
			WindDirection:       report.WindDirDeg,
			RelativeHumidityMin: report.HumidityMin,
			RelativeHumidityMax: report.HumidityMax,
			PrecipChance12h:     report.PrecipChance,
			LiquidPrecipAmt:     report.LiquidPrecip,
			SnowAmt:             report.SnowAmountIn,
			SnowRatio:           report.SnowRatio,
			IceAmt:              report.IceAmountIn,
			TemperatureUnitCode: unitCelsius,
		})
	}
	return rows, nil
}

// fetchWithRetry GETs a feed with exponential backoff. Client errors are
// permanent; rate limiting and server errors retry.
func fetchWithRetry(ctx context.Context, client *http.Client, url, source string) ([]byte, error) {
	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			metrics.FeedFetchesTotal.WithLabelValues(source, "error").Inc()
			return fmt.Errorf("fetch %s: %w", source, err)
		}
		defer resp.Body.Close()
		metrics.FeedFetchLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			metrics.FeedFetchesTotal.WithLabelValues(source, fmt.Sprint(resp.StatusCode)).Inc()
			return fmt.Errorf("fetch %s: status %d", source, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			metrics.FeedFetchesTotal.WithLabelValues(source, fmt.Sprint(resp.StatusCode)).Inc()
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", source, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read %s body: %w", source, err))
		}
		metrics.FeedFetchesTotal.WithLabelValues(source, "200").Inc()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
