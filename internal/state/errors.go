package state

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("waypoint not found")
)

// ValidationError reports input that failed validation. Fields names every
// offending field so callers can echo them back to the submitter.
type ValidationError struct {
	Fields []string
	Msg    string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Msg
	}
	return e.Msg + " (" + strings.Join(e.Fields, ", ") + ")"
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
