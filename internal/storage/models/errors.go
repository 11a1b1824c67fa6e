package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when feedback references an unknown or
	// expired response id.
	ErrNotFound = errors.New("not found")

	// ErrRecoverable marks external adapter failures that the routing
	// engine absorbs by falling through to the next source.
	ErrRecoverable = errors.New("recoverable")

	// ErrCorruptIndex is fatal: the process must refuse to serve queries
	// rather than answer from a corrupted index.
	ErrCorruptIndex = errors.New("knowledge index corrupted")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRecoverable, err)
}
