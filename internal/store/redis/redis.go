// Package redis is the pooled Redis backend. Every pooled connection owns
// its own go-redis session; a transport failure discards that session and
// the operation is retried on a fresh one.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/regioncache-go/internal/pool"
	"github.com/vnykmshr/regioncache-go/internal/store"
	"github.com/vnykmshr/regioncache-go/pkg/logging"
)

// BatchRetryMode selects what a multi-key operation re-sends after a transport failure
type BatchRetryMode int

const (
	// BatchRetryWhole re-sends the whole batch
	BatchRetryWhole BatchRetryMode = iota

	// BatchRetryRemaining re-sends only the keys whose command did not complete
	BatchRetryRemaining
)

// Config holds Redis backend configuration
type Config struct {
	// Addrs lists server addresses. More than one shards keys over a ring.
	Addrs []string

	Username  string
	Password  string
	DB        int
	TLSConfig *tls.Config

	// KeyPrefix is prepended to every key sent to the server
	KeyPrefix string

	// DefaultTTL applies when an operation passes ttl <= 0. Zero means no expiry.
	DefaultTTL time.Duration

	// SocketTimeout bounds dialing and each single attempt
	SocketTimeout time.Duration

	// Pool sizes the connection pool. Pool.DialTimeout defaults to SocketTimeout.
	Pool pool.Config

	// RetryAttempts is how many times an operation is re-issued after a
	// transport failure. Zero fails on the first transport error.
	RetryAttempts int

	BatchRetry BatchRetryMode

	// MaxValueSize rejects larger values before they are sent. Zero disables the check.
	MaxValueSize int

	// DeadRetry is how long dialing fails fast after the server refused a session
	DeadRetry time.Duration

	// FlushOnReconnect issues FLUSHDB on the first session opened after a transport failure
	FlushOnReconnect bool

	// HealthCheck pings idle sessions before handing them out
	HealthCheck bool

	// Hooks are installed on every session
	Hooks []redis.Hook

	Logger logging.Logger
}

// DefaultConfig returns the backend defaults for addr
func DefaultConfig(addr string) Config {
	return Config{
		Addrs:         []string{addr},
		SocketTimeout: 3 * time.Second,
		Pool:          pool.DefaultConfig(),
		RetryAttempts: 1,
		BatchRetry:    BatchRetryWhole,
		DeadRetry:     300 * time.Second,
	}
}

// Backend is a pooled Redis cache backend
type Backend struct {
	cfg  Config
	pool *pool.Pool[redis.UniversalClient]
	log  logging.Logger

	dialTimeout time.Duration

	mu         sync.Mutex
	deadUntilT time.Time
	needsFlush bool

	retries           atomic.Int64
	transportFailures atomic.Int64
	requestErrors     atomic.Int64
	unavailable       atomic.Int64
}

var (
	_ store.Backend       = (*Backend)(nil)
	_ store.Incrementer   = (*Backend)(nil)
	_ store.StatsReporter = (*Backend)(nil)
)

// New creates a Redis backend. No session is opened until the first operation.
func New(cfg Config) (*Backend, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: at least one address is required")
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("redis: retry attempts must not be negative, got %d", cfg.RetryAttempts)
	}
	if cfg.DefaultTTL < 0 {
		cfg.DefaultTTL = 0
	}

	b := &Backend{
		cfg: cfg,
		log: logging.OrNoOp(cfg.Logger).With(logging.F("backend", "redis")),
	}

	poolCfg := cfg.Pool
	b.dialTimeout = poolCfg.DialTimeout
	if b.dialTimeout == 0 {
		b.dialTimeout = cfg.SocketTimeout
	}
	// dial applies the timeout itself so it can tell its own expiry apart
	// from the caller's
	poolCfg.DialTimeout = 0
	if poolCfg.Logger == nil {
		poolCfg.Logger = b.log
	}

	var opts []pool.Option[redis.UniversalClient]
	if cfg.HealthCheck {
		opts = append(opts, pool.WithHealthCheck(ping))
	}

	p, err := pool.New(poolCfg, b.dial, opts...)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	b.pool = p
	return b, nil
}

// Get retrieves the value stored under key
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := store.ValidateKey("get", key); err != nil {
		return nil, false, err
	}

	var value []byte
	var found bool
	err := b.execute(ctx, "get", key, func(ctx context.Context, c redis.UniversalClient) error {
		v, err := c.Get(ctx, b.buildKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			value, found = nil, false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores value under key
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey("set", key); err != nil {
		return err
	}

	return b.execute(ctx, "set", key, func(ctx context.Context, c redis.UniversalClient) error {
		if err := b.checkSize(value); err != nil {
			return err
		}
		return c.Set(ctx, b.buildKey(key), value, b.expiration(ttl)).Err()
	})
}

// Delete removes key
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey("delete", key); err != nil {
		return err
	}

	return b.execute(ctx, "delete", key, func(ctx context.Context, c redis.UniversalClient) error {
		return c.Del(ctx, b.buildKey(key)).Err()
	})
}

// Incr atomically adds delta to the integer at key
func (b *Backend) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if err := store.ValidateKey("incr", key); err != nil {
		return 0, err
	}

	var n int64
	err := b.execute(ctx, "incr", key, func(ctx context.Context, c redis.UniversalClient) error {
		var err error
		n, err = c.IncrBy(ctx, b.buildKey(key), delta).Result()
		return err
	})
	return n, err
}

// GetMulti returns the found subset of keys
func (b *Backend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	for _, key := range keys {
		if err := store.ValidateKey("get_multi", key); err != nil {
			return nil, err
		}
	}

	pending := keys
	retrying := false
	err := b.execute(ctx, "get_multi", "", func(ctx context.Context, c redis.UniversalClient) error {
		if retrying && b.cfg.BatchRetry == BatchRetryWhole {
			pending = keys
			clear(out)
		}
		retrying = true

		failed, err := pipelineBatch(ctx, c, pending,
			func(p redis.Pipeliner, key string) { p.Get(ctx, b.buildKey(key)) },
			func(key string, cmd redis.Cmder) {
				if v, err := cmd.(*redis.StringCmd).Bytes(); err == nil {
					out[key] = v
				}
			})
		pending = failed
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetMulti stores every item with the same ttl
func (b *Backend) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	keys := make([]string, 0, len(items))
	for key := range items {
		if err := store.ValidateKey("set_multi", key); err != nil {
			return err
		}
		keys = append(keys, key)
	}

	expiration := b.expiration(ttl)
	pending := keys
	retrying := false
	return b.execute(ctx, "set_multi", "", func(ctx context.Context, c redis.UniversalClient) error {
		if retrying && b.cfg.BatchRetry == BatchRetryWhole {
			pending = keys
		}
		retrying = true

		for _, key := range pending {
			if err := b.checkSize(items[key]); err != nil {
				return fmt.Errorf("%q: %w", key, err)
			}
		}

		failed, err := pipelineBatch(ctx, c, pending,
			func(p redis.Pipeliner, key string) { p.Set(ctx, b.buildKey(key), items[key], expiration) },
			func(string, redis.Cmder) {})
		pending = failed
		return err
	})
}

// DeleteMulti removes every key
func (b *Backend) DeleteMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		if err := store.ValidateKey("delete_multi", key); err != nil {
			return err
		}
	}

	pending := keys
	retrying := false
	return b.execute(ctx, "delete_multi", "", func(ctx context.Context, c redis.UniversalClient) error {
		if retrying && b.cfg.BatchRetry == BatchRetryWhole {
			pending = keys
		}
		retrying = true

		failed, err := pipelineBatch(ctx, c, pending,
			func(p redis.Pipeliner, key string) { p.Del(ctx, b.buildKey(key)) },
			func(string, redis.Cmder) {})
		pending = failed
		return err
	})
}

// BackendStats returns the retry and failure counters
func (b *Backend) BackendStats() store.BackendStats {
	return store.BackendStats{
		Name:              "redis",
		Entries:           -1,
		Retries:           b.retries.Load(),
		TransportFailures: b.transportFailures.Load(),
		RequestErrors:     b.requestErrors.Load(),
		Unavailable:       b.unavailable.Load(),
	}
}

// PoolStats returns a snapshot of the connection pool
func (b *Backend) PoolStats() pool.Stats {
	return b.pool.Stats()
}

// Close closes every idle session; checked-out sessions close on release.
// Closing twice is not an error.
func (b *Backend) Close() error {
	if err := b.pool.Close(); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
		return err
	}
	return nil
}

type attemptFunc func(ctx context.Context, client redis.UniversalClient) error

// execute runs fn on a pooled session. A transport failure invalidates the
// session and retries on another one, up to RetryAttempts times. A request
// error returns the session to the pool and is reported immediately.
func (b *Backend) execute(ctx context.Context, op, key string, fn attemptFunc) error {
	attempts := b.cfg.RetryAttempts + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			b.retries.Add(1)
			b.log.Debug("redis: retrying operation",
				logging.F("op", op), logging.F("attempt", attempt), logging.Err(lastErr))
		}

		conn, err := b.pool.Acquire(ctx)
		if err != nil {
			// dial failures are transport failures; exhaustion and shutdown are not retried
			if errors.Is(err, pool.ErrConnection) && ctx.Err() == nil {
				b.transportFailures.Add(1)
				lastErr = err
				continue
			}
			return err
		}

		err = b.attempt(ctx, conn.Client(), fn)
		if err == nil {
			b.pool.Release(conn)
			return nil
		}

		if !isTransportError(err) {
			b.pool.Release(conn)
			b.requestErrors.Add(1)
			return store.RequestError(op, key, err)
		}

		b.pool.Invalidate(conn)
		b.pool.Release(conn)
		b.transportFailures.Add(1)
		b.noteTransportFailure()
		b.log.Warn("redis: transport failure",
			logging.F("op", op), logging.F("attempt", attempt), logging.Err(err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
	}

	b.unavailable.Add(1)
	b.log.Error("redis: backend unavailable", logging.F("op", op), logging.Err(lastErr))
	return store.UnavailableError(op, attempts, lastErr)
}

func (b *Backend) attempt(ctx context.Context, client redis.UniversalClient, fn attemptFunc) error {
	if b.cfg.SocketTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.SocketTimeout)
		defer cancel()
	}
	return fn(ctx, client)
}

func (b *Backend) buildKey(key string) string {
	return b.cfg.KeyPrefix + key
}

func (b *Backend) expiration(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return b.cfg.DefaultTTL
}

func (b *Backend) checkSize(value []byte) error {
	if b.cfg.MaxValueSize > 0 && len(value) > b.cfg.MaxValueSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrValueTooLarge, len(value), b.cfg.MaxValueSize)
	}
	return nil
}

func (b *Backend) deadUntil() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deadUntilT, time.Now().Before(b.deadUntilT)
}

func (b *Backend) markDead() {
	if b.cfg.DeadRetry <= 0 {
		return
	}
	b.mu.Lock()
	b.deadUntilT = time.Now().Add(b.cfg.DeadRetry)
	b.mu.Unlock()
	b.log.Warn("redis: server marked dead", logging.F("retry_after", b.cfg.DeadRetry))
}

func (b *Backend) noteTransportFailure() {
	if !b.cfg.FlushOnReconnect {
		return
	}
	b.mu.Lock()
	b.needsFlush = true
	b.mu.Unlock()
}

func (b *Backend) takeFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	flush := b.needsFlush
	b.needsFlush = false
	return flush
}
