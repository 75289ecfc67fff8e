package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateKey is returned when a plain insert hits a unique constraint.
	ErrDuplicateKey = errors.New("storage: duplicate key")
	// ErrAlertNotPending is returned when a transition targets an alert that already left pending.
	ErrAlertNotPending = errors.New("storage: alert is not pending")
	// ErrInvalidInput is returned for records that violate the data model.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStoreFailure matches any *StoreError.
	ErrStoreFailure = errors.New("storage: store failure")
)

// StoreError wraps a backend failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes every StoreError match ErrStoreFailure.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// Fail wraps err as a StoreError unless it is nil or already a domain sentinel.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrAlertNotPending) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
