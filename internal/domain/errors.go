// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain-level errors reused by higher layers.
var (
	ErrPostNotFound       = errors.New("post not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotStory           = errors.New("post is not a story")
)

// ErrCounterFloor is returned when a decrement would take a counter below zero.
var ErrCounterFloor = fmt.Errorf("%w: counter would drop below zero", ErrPreconditionFailed)

// ErrStatusConflict is returned when the stored post status no longer matches the caller's copy.
var ErrStatusConflict = fmt.Errorf("%w: post status changed", ErrPreconditionFailed)

// InvalidInput wraps a message as an ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
