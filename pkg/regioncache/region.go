package regioncache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/regioncache-go/internal/singleflight"
	"github.com/vnykmshr/regioncache-go/internal/store"
	"github.com/vnykmshr/regioncache-go/internal/store/bigcache"
	"github.com/vnykmshr/regioncache-go/internal/store/memory"
	"github.com/vnykmshr/regioncache-go/internal/store/null"
	redisstore "github.com/vnykmshr/regioncache-go/internal/store/redis"
	"github.com/vnykmshr/regioncache-go/internal/store/ristretto"
	"github.com/vnykmshr/regioncache-go/pkg/codec"
	"github.com/vnykmshr/regioncache-go/pkg/compression"
	"github.com/vnykmshr/regioncache-go/pkg/logging"
	"github.com/vnykmshr/regioncache-go/pkg/metrics"
)

// Region is a cache region: a namespace of keys stored in one backend with
// one codec, expiration policy and set of hooks
type Region struct {
	config *Config

	// backend may be the debug proxy; raw is always the store itself
	backend store.Backend
	raw     store.Backend

	codec  codec.Codec
	framer *compression.Codec

	stats  *Stats
	hooks  *Hooks
	log    logging.Logger
	sf     singleflight.Group[string, any]
	closed atomic.Bool

	metricsExporter metrics.Exporter
	metricsLabels   metrics.Labels
	metricsStop     chan struct{}
	metricsWg       sync.WaitGroup
}

// New creates a Region from config. A nil config uses NewDefaultConfig.
func New(config *Config) (*Region, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	name := config.Name
	if name == "" {
		name = "default"
	}

	r := &Region{
		config: config,
		stats:  &Stats{},
		hooks:  config.Hooks,
		log:    logging.OrNoOp(config.Logger).With(logging.F("region", name)),
	}

	c, err := codec.ByName(config.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	r.codec = c

	if err := r.initializeCompression(); err != nil {
		return nil, fmt.Errorf("failed to initialize compression: %w", err)
	}

	backend, err := newBackend(config, r.log)
	if err != nil {
		return nil, err
	}
	r.raw = backend
	r.backend = backend
	if config.Debug {
		r.backend = newDebugBackend(backend, r.log)
	}

	r.initializeMetrics(name)
	return r, nil
}

func newBackend(config *Config, log logging.Logger) (store.Backend, error) {
	if !config.Enabled {
		return null.New(), nil
	}

	switch config.Backend {
	case "", BackendMemory:
		return memory.New(memory.Config{
			Capacity:        config.Memory.MaxEntries,
			DefaultTTL:      config.ExpirationTime,
			CleanupInterval: config.Memory.CleanupInterval,
		})
	case BackendNull:
		return null.New(), nil
	case BackendBigcache:
		return bigcache.New(bigcache.Config{
			LifeWindow:         config.ExpirationTime,
			Shards:             config.Bigcache.Shards,
			MaxEntriesInWindow: config.Bigcache.MaxEntriesInWindow,
			MaxEntrySize:       config.Bigcache.MaxEntrySize,
			HardMaxCacheSizeMB: config.Bigcache.HardMaxCacheSizeMB,
		})
	case BackendRistretto:
		rc := ristretto.DefaultConfig()
		if config.Ristretto.NumCounters > 0 {
			rc.NumCounters = config.Ristretto.NumCounters
		}
		if config.Ristretto.MaxCost > 0 {
			rc.MaxCost = config.Ristretto.MaxCost
		}
		if config.Ristretto.BufferItems > 0 {
			rc.BufferItems = config.Ristretto.BufferItems
		}
		rc.DefaultTTL = config.ExpirationTime
		return ristretto.New(rc)
	case BackendRedis:
		rc, err := config.Redis.backendConfig(config.ExpirationTime, log)
		if err != nil {
			return nil, err
		}
		return redisstore.New(rc)
	default:
		return nil, configError("unknown backend %q", config.Backend)
	}
}

// Get decodes the value stored under key into dst, which must be a non-nil
// pointer. A nil dst only reports whether the key exists.
func (r *Region) Get(ctx context.Context, key string, dst any) (bool, error) {
	start := time.Now()

	k, err := r.key("get", key)
	if err != nil {
		return false, r.fail(ctx, metrics.OperationGet, key, start, err)
	}

	data, found, err := r.backend.Get(ctx, k)
	if err != nil {
		return false, r.fail(ctx, metrics.OperationGet, key, start, err)
	}
	if !found {
		r.miss(ctx, key)
		r.record(metrics.OperationGet, metrics.ResultMiss, start)
		return false, nil
	}

	if dst != nil {
		if err := r.decode(data, dst); err != nil {
			return false, r.fail(ctx, metrics.OperationGet, key, start, err)
		}
	}

	r.hit(ctx, key)
	r.record(metrics.OperationGet, metrics.ResultHit, start)
	return true, nil
}

// Value is a stored value read by GetMulti, decoded on demand
type Value struct {
	data []byte
	r    *Region
}

// Decode decodes the value into dst
func (v *Value) Decode(dst any) error {
	return v.r.decode(v.data, dst)
}

// GetMulti returns the values found for keys, by caller key
func (r *Region) GetMulti(ctx context.Context, keys []string) (map[string]*Value, error) {
	start := time.Now()

	mangled, err := r.keys("get_multi", keys)
	if err != nil {
		return nil, r.fail(ctx, metrics.OperationGetMulti, "", start, err)
	}

	found, err := r.backend.GetMulti(ctx, mangled)
	if err != nil {
		return nil, r.fail(ctx, metrics.OperationGetMulti, "", start, err)
	}

	out := make(map[string]*Value, len(found))
	for i, key := range keys {
		data, ok := found[mangled[i]]
		if !ok {
			r.miss(ctx, key)
			continue
		}
		r.hit(ctx, key)
		out[key] = &Value{data: data, r: r}
	}

	r.record(metrics.OperationGetMulti, metrics.ResultOK, start)
	return out, nil
}

// Set stores value under key. ttl <= 0 uses the region's ExpirationTime.
func (r *Region) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	start := time.Now()

	k, err := r.key("set", key)
	if err != nil {
		return r.fail(ctx, metrics.OperationSet, key, start, err)
	}

	data, err := r.encode(value)
	if err != nil {
		return r.fail(ctx, metrics.OperationSet, key, start, err)
	}

	if err := r.backend.Set(ctx, k, data, r.ttl(ttl)); err != nil {
		return r.fail(ctx, metrics.OperationSet, key, start, err)
	}

	r.stats.sets.Add(1)
	r.hooks.set(ctx, key, len(data))
	r.record(metrics.OperationSet, metrics.ResultOK, start)
	return nil
}

// SetMulti stores every item with the same ttl
func (r *Region) SetMulti(ctx context.Context, items map[string]any, ttl time.Duration) error {
	start := time.Now()

	encoded := make(map[string][]byte, len(items))
	sizes := make(map[string]int, len(items))
	for key, value := range items {
		k, err := r.key("set_multi", key)
		if err != nil {
			return r.fail(ctx, metrics.OperationSetMulti, key, start, err)
		}
		data, err := r.encode(value)
		if err != nil {
			return r.fail(ctx, metrics.OperationSetMulti, key, start, err)
		}
		encoded[k] = data
		sizes[key] = len(data)
	}

	if err := r.backend.SetMulti(ctx, encoded, r.ttl(ttl)); err != nil {
		return r.fail(ctx, metrics.OperationSetMulti, "", start, err)
	}

	r.stats.sets.Add(int64(len(items)))
	for key, size := range sizes {
		r.hooks.set(ctx, key, size)
	}
	r.record(metrics.OperationSetMulti, metrics.ResultOK, start)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *Region) Delete(ctx context.Context, key string) error {
	start := time.Now()

	k, err := r.key("delete", key)
	if err != nil {
		return r.fail(ctx, metrics.OperationDelete, key, start, err)
	}

	if err := r.backend.Delete(ctx, k); err != nil {
		return r.fail(ctx, metrics.OperationDelete, key, start, err)
	}

	r.stats.deletes.Add(1)
	r.hooks.deleted(ctx, key)
	r.record(metrics.OperationDelete, metrics.ResultOK, start)
	return nil
}

// DeleteMulti removes every key
func (r *Region) DeleteMulti(ctx context.Context, keys []string) error {
	start := time.Now()

	mangled, err := r.keys("delete_multi", keys)
	if err != nil {
		return r.fail(ctx, metrics.OperationDeleteMulti, "", start, err)
	}

	if err := r.backend.DeleteMulti(ctx, mangled); err != nil {
		return r.fail(ctx, metrics.OperationDeleteMulti, "", start, err)
	}

	r.stats.deletes.Add(int64(len(keys)))
	for _, key := range keys {
		r.hooks.deleted(ctx, key)
	}
	r.record(metrics.OperationDeleteMulti, metrics.ResultOK, start)
	return nil
}

// Incr atomically adds delta to the counter at key and returns the new value.
// Counters are stored as plain decimal text, outside the region's codec, so
// they cannot be read back with Get.
func (r *Region) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()

	if _, ok := r.raw.(store.Incrementer); !ok {
		return 0, r.fail(ctx, metrics.OperationIncr, key, start, ErrNotSupported)
	}

	k, err := r.key("incr", key)
	if err != nil {
		return 0, r.fail(ctx, metrics.OperationIncr, key, start, err)
	}

	n, err := r.backend.(store.Incrementer).Incr(ctx, k, delta)
	if err != nil {
		return 0, r.fail(ctx, metrics.OperationIncr, key, start, err)
	}

	r.record(metrics.OperationIncr, metrics.ResultOK, start)
	return n, nil
}

// Creator produces the value for a missing key
type Creator func(ctx context.Context) (any, error)

type createOptions struct {
	ttl         time.Duration
	shouldCache func(value any) bool
}

// CreateOption configures GetOrCreate
type CreateOption func(*createOptions)

// WithTTL sets the lifetime of a created value
func WithTTL(ttl time.Duration) CreateOption {
	return func(o *createOptions) {
		o.ttl = ttl
	}
}

// WithShouldCache decides per created value whether it is stored
func WithShouldCache(fn func(value any) bool) CreateOption {
	return func(o *createOptions) {
		o.shouldCache = fn
	}
}

// GetOrCreate decodes the value under key into dst, or runs creator and
// stores its result. Concurrent callers for the same key share one creator
// call. When the backend is unavailable the created value is still returned.
// Creator errors are returned and never cached.
func (r *Region) GetOrCreate(ctx context.Context, key string, dst any, creator Creator, opts ...CreateOption) error {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	return r.getOrCreate(ctx, key, dst, creator, o)
}

func (r *Region) getOrCreate(ctx context.Context, key string, dst any, creator Creator, o createOptions) error {
	start := time.Now()

	found, err := r.Get(ctx, key, dst)
	switch {
	case err == nil && found:
		r.record(metrics.OperationGetOrCreate, metrics.ResultHit, start)
		return nil
	case err == nil:
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrEncoding):
		r.log.Warn("regioncache: read failed, recreating value", logging.F("key", key), logging.Err(err))
	default:
		return err
	}

	value, err, _ := r.sf.Do(ctx, key, func(ctx context.Context) (any, error) {
		r.stats.inFlight.Add(1)
		defer r.stats.inFlight.Add(-1)

		value, err := creator(ctx)
		if err != nil {
			return nil, err
		}
		if o.shouldCache != nil && !o.shouldCache(value) {
			return value, nil
		}
		if err := r.Set(ctx, key, value, o.ttl); err != nil {
			r.stats.degraded.Add(1)
			r.log.Warn("regioncache: created value was not cached", logging.F("key", key), logging.Err(err))
		}
		return value, nil
	})
	if err != nil {
		return r.fail(ctx, metrics.OperationGetOrCreate, key, start, err)
	}

	if err := r.assign(dst, value); err != nil {
		return r.fail(ctx, metrics.OperationGetOrCreate, key, start, err)
	}
	r.record(metrics.OperationGetOrCreate, metrics.ResultMiss, start)
	return nil
}

// Fetch is the typed form of GetOrCreate
func Fetch[T any](ctx context.Context, r *Region, key string, creator func(context.Context) (T, error), opts ...CreateOption) (T, error) {
	var out T
	err := r.GetOrCreate(ctx, key, &out, func(ctx context.Context) (any, error) {
		return creator(ctx)
	}, opts...)
	return out, err
}

// Stats returns the region statistics
func (r *Region) Stats() *Stats {
	return r.stats
}

// BackendStats returns the backend's own counters. Entries is -1 when the
// backend cannot count them.
func (r *Region) BackendStats() BackendStats {
	if reporter, ok := r.raw.(store.StatsReporter); ok {
		return reporter.BackendStats()
	}
	return BackendStats{Name: string(r.config.Backend), Entries: -1}
}

// PoolStats returns the connection pool snapshot. ok is false for backends
// without a pool.
func (r *Region) PoolStats() (stats PoolStats, ok bool) {
	pooled, ok := r.raw.(interface{ PoolStats() PoolStats })
	if !ok {
		return PoolStats{}, false
	}
	return pooled.PoolStats(), true
}

// Config returns the region configuration
func (r *Region) Config() *Config {
	return r.config
}

// Close stops the metrics reporter and closes the backend. Checked-out
// connections are closed as their operations finish.
func (r *Region) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if r.metricsStop != nil {
		close(r.metricsStop)
		r.metricsWg.Wait()
	}
	if r.metricsExporter != nil {
		if err := r.metricsExporter.Close(); err != nil {
			r.log.Warn("regioncache: closing metrics exporter", logging.Err(err))
		}
	}
	return r.backend.Close()
}

// key validates, namespaces and mangles a caller key
func (r *Region) key(op, key string) (string, error) {
	if r.closed.Load() {
		return "", ErrClosed
	}
	if err := store.ValidateKey(op, key); err != nil {
		return "", err
	}

	k := r.config.Namespace + key
	if r.config.KeyMangler != nil {
		k = r.config.KeyMangler(k)
	}
	return k, nil
}

func (r *Region) keys(op string, keys []string) ([]string, error) {
	out := make([]string, len(keys))
	for i, key := range keys {
		k, err := r.key(op, key)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

func (r *Region) ttl(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return r.config.ExpirationTime
}

func (r *Region) encode(value any) ([]byte, error) {
	data, err := r.codec.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoding, r.codec.Name(), err)
	}
	if r.framer == nil {
		return data, nil
	}

	framed, _, err := r.framer.Frame(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return framed, nil
}

func (r *Region) decode(data []byte, dst any) error {
	if r.framer != nil {
		unframed, err := r.framer.Unframe(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEncoding, err)
		}
		data = unframed
	}
	if err := r.codec.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncoding, r.codec.Name(), err)
	}
	return nil
}

// assign stores a created value into dst. Values of a different type are
// converted through the codec.
func (r *Region) assign(dst, value any) error {
	if dst == nil {
		return nil
	}

	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("%w: destination must be a non-nil pointer, got %T", ErrEncoding, dst)
	}
	elem := target.Elem()

	v := reflect.ValueOf(value)
	if !v.IsValid() {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	if v.Type().AssignableTo(elem.Type()) {
		elem.Set(v)
		return nil
	}

	data, err := r.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncoding, r.codec.Name(), err)
	}
	if err := r.codec.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncoding, r.codec.Name(), err)
	}
	return nil
}

func (r *Region) hit(ctx context.Context, key string) {
	r.stats.hits.Add(1)
	r.hooks.hit(ctx, key)
}

func (r *Region) miss(ctx context.Context, key string) {
	r.stats.misses.Add(1)
	r.hooks.miss(ctx, key)
}

func (r *Region) fail(ctx context.Context, op metrics.Operation, key string, start time.Time, err error) error {
	r.stats.errors.Add(1)
	r.hooks.failed(ctx, string(op), key, err)
	r.record(op, metrics.ResultError, start)
	return err
}

// initializeCompression sets up value framing when compression is enabled
func (r *Region) initializeCompression() error {
	if r.config.Compression == nil || !r.config.Compression.Enabled {
		return nil
	}

	framer, err := compression.NewCodec(r.config.Compression)
	if err != nil {
		return err
	}
	r.framer = framer
	return nil
}
