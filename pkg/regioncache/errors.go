package regioncache

import (
	"errors"

	"github.com/vnykmshr/regioncache-go/internal/pool"
	"github.com/vnykmshr/regioncache-go/internal/singleflight"
	"github.com/vnykmshr/regioncache-go/internal/store"
	redisstore "github.com/vnykmshr/regioncache-go/internal/store/redis"
)

var (
	// ErrConfiguration is returned for invalid region configuration
	ErrConfiguration = errors.New("regioncache: invalid configuration")

	// ErrNotSupported is returned when the backend lacks the capability an operation needs
	ErrNotSupported = errors.New("regioncache: operation not supported by backend")

	// ErrClosed is returned by operations on a closed region
	ErrClosed = errors.New("regioncache: region closed")

	// ErrEncoding is returned when a value cannot be serialized or a stored
	// payload cannot be decoded
	ErrEncoding = errors.New("regioncache: value encoding failed")
)

// Errors surfaced from the backend and its connection pool
var (
	ErrPoolExhausted      = pool.ErrPoolExhausted
	ErrPoolClosed         = pool.ErrPoolClosed
	ErrConnection         = pool.ErrConnection
	ErrBackendUnavailable = store.ErrBackendUnavailable
	ErrRequest            = store.ErrRequest
	ErrValueTooLarge      = redisstore.ErrValueTooLarge
)

// PanicError is returned to every GetOrCreate caller when the creator panics
type PanicError = singleflight.PanicError
