package router

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when removing a route whose path was never registered.
var ErrNotFound = errors.New("404 not found")

// ValidationError reports an invalid argument to a registration call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
