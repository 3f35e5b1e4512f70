package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced reminder, todo or config no longer exists.
var ErrNotFound = errors.New("not found")

// ErrInvalidDate is returned when a month-day does not exist in the year it is resolved against.
var ErrInvalidDate = errors.New("date does not exist in year")

// ValidationError reports malformed user input. It is returned before any state changes.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
