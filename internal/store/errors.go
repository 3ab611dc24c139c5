package store

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means every attempt of an operation failed on the transport
	ErrBackendUnavailable = errors.New("store: backend unavailable")

	// ErrRequest means the backend rejected the request itself; the connection is healthy
	ErrRequest = errors.New("store: request rejected")
)

// RequestError wraps a request-specific rejection with the operation and key
func RequestError(op, key string, cause error) error {
	if key == "" {
		return fmt.Errorf("%w: %s: %w", ErrRequest, op, cause)
	}
	return fmt.Errorf("%w: %s %q: %w", ErrRequest, op, key, cause)
}

// UnavailableError wraps the last transport failure of an exhausted operation
func UnavailableError(op string, attempts int, cause error) error {
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrBackendUnavailable, op, attempts, cause)
}

// ValidateKey rejects keys no backend can store
func ValidateKey(op, key string) error {
	if key == "" {
		return RequestError(op, key, errors.New("empty key"))
	}
	return nil
}
