package store

import (
	"context"
	"time"
)

// Backend is the capability set every cache backend implements.
// Values are opaque bytes; serialization belongs to the caller.
type Backend interface {
	// Get returns the value for key and whether it was found
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. ttl <= 0 means the backend's own default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetMulti returns the found subset of keys
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMulti stores every item with the same ttl
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// DeleteMulti removes every key
	DeleteMulti(ctx context.Context, keys []string) error

	// Close releases backend resources
	Close() error
}

// Incrementer is implemented by backends with an atomic counter primitive
type Incrementer interface {
	// Incr adds delta to the integer stored at key, creating it at zero
	Incr(ctx context.Context, key string, delta int64) (int64, error)
}

// StatsReporter is implemented by backends that keep their own counters
type StatsReporter interface {
	BackendStats() BackendStats
}

// BackendStats are the counters a backend may report
type BackendStats struct {
	// Name identifies the backend kind ("redis", "memory", ...)
	Name string `json:"name"`

	// Entries is the number of stored entries, -1 if unknown
	Entries int64 `json:"entries"`

	// Retries counts operations re-issued after a transport failure
	Retries int64 `json:"retries,omitempty"`

	// TransportFailures counts attempts that failed on the transport
	TransportFailures int64 `json:"transportFailures,omitempty"`

	// RequestErrors counts requests rejected by the backend
	RequestErrors int64 `json:"requestErrors,omitempty"`

	// Unavailable counts operations that exhausted every attempt
	Unavailable int64 `json:"unavailable,omitempty"`

	// Evictions counts entries dropped for capacity or expiry
	Evictions int64 `json:"evictions,omitempty"`
}
