package store

import (
	"errors"
	"fmt"
)

// Common store operation errors.
var (
	// ErrCollectionNotFound is returned when a collection was never written
	ErrCollectionNotFound = errors.New("store: collection not found")

	// ErrInvalidCollection is returned for empty, oversized or malformed collection names
	ErrInvalidCollection = errors.New("store: invalid collection")

	// ErrUnavailable is returned when the backend cannot be reached or fails mid-operation
	ErrUnavailable = errors.New("store: unavailable")

	// ErrConflict is returned when an optimistic update kept losing to concurrent writers
	ErrConflict = fmt.Errorf("%w: update conflict", ErrUnavailable)

	// ErrTimeout is returned when a store operation exceeds its deadline
	ErrTimeout = fmt.Errorf("%w: operation timeout", ErrUnavailable)

	// ErrCircuitOpen is returned when the circuit breaker rejects the call
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
)

// IsNotFound checks if the given error indicates a missing collection.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound)
}

// IsUnavailable checks if the given error indicates the store could not serve the call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ClassifyError returns a string classification of the error type for metrics.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrCollectionNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCollection):
		return "invalid_collection"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// WrapError adds backend and operation context to err.
func WrapError(err error, backend string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store %s %s: %w", backend, operation, err)
}

// Unavailable marks a backend failure as ErrUnavailable while keeping the cause.
func Unavailable(backend, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrUnavailable) {
		return WrapError(cause, backend, operation)
	}
	return fmt.Errorf("store %s %s: %w: %w", backend, operation, ErrUnavailable, cause)
}
