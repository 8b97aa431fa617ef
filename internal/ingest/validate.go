package ingest

import "github.com/skycommit/skycommit/internal/models"

const (
	FlagTempOutOfRange   = "temp_out_of_range"
	FlagDewpointInvalid  = "dewpoint_invalid"
	FlagWindDirInvalid   = "wind_dir_invalid"
	FlagWindSpeedInvalid = "wind_speed_invalid"
	FlagPrecipNegative   = "precip_negative"
)

// ValidateObservation flags physically implausible feed values so they can
// be scrubbed before landing in a snapshot file.
func ValidateObservation(row *models.ObservationRow) []string {
	var flags []string

	if row.TemperatureValue != nil {
		if *row.TemperatureValue < -90 || *row.TemperatureValue > 60 {
			flags = append(flags, FlagTempOutOfRange)
		}
	}
	if row.DewpointValue != nil {
		if *row.DewpointValue < -90 || *row.DewpointValue > 45 {
			flags = append(flags, FlagDewpointInvalid)
		}
	}
	if row.WindDirection != nil {
		if *row.WindDirection < 0 || *row.WindDirection > 360 {
			flags = append(flags, FlagWindDirInvalid)
		}
	}
	if row.WindSpeed != nil {
		if *row.WindSpeed < 0 || *row.WindSpeed > 500 {
			flags = append(flags, FlagWindSpeedInvalid)
		}
	}
	if row.PrecipIn != nil && *row.PrecipIn < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	return flags
}

// scrubObservation nulls the fields named by validation flags, keeping the
// rest of the row.
func scrubObservation(row *models.ObservationRow, flags []string) {
	for _, flag := range flags {
		switch flag {
		case FlagTempOutOfRange:
			row.TemperatureValue = nil
		case FlagDewpointInvalid:
			row.DewpointValue = nil
		case FlagWindDirInvalid:
			row.WindDirection = nil
		case FlagWindSpeedInvalid:
			row.WindSpeed = nil
		case FlagPrecipNegative:
			row.PrecipIn = nil
		}
	}
}
