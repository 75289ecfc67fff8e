package service

import (
	"errors"
	"fmt"
)

// ErrTokenNotFound is returned for symbols outside the configured token set.
var ErrTokenNotFound = errors.New("token not supported")

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
