package oracle

import (
	"errors"
	"fmt"
)

// The closed error taxonomy of the oracle. HTTP handlers map these onto
// status codes. The ingestion daemon does not use it; it logs the raw error
// under the source name.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrDataUnavailable = errors.New("data unavailable")
	ErrTransient       = errors.New("transient failure")
	ErrFatal           = errors.New("fatal")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataUnavailable, fmt.Sprintf(format, args...))
}
