// Package regioncache provides cache regions: a uniform get/set/delete API
// over pluggable backends, with key namespacing and mangling, value
// serialization and compression, get-or-create with stampede suppression,
// and function memoization.
//
// # Backends
//
// A region dispatches to exactly one backend:
//
//   - memory: an in-process LRU dictionary (default)
//   - redis: a pooled Redis backend with transparent retry on transport failure
//   - bigcache and ristretto: in-process byte caches for large working sets
//   - null: always misses; selected whenever the region is disabled
//
// The Redis backend keeps a bounded pool of sessions. An operation that hits
// a transport failure discards its session and is retried on a fresh one;
// request errors such as a value over MaxValueSize fail without retry and
// leave the session in the pool. When every attempt fails the operation
// returns ErrBackendUnavailable. A full pool blocks until
// PoolAcquireTimeout and then returns ErrPoolExhausted.
//
// # Basic Usage
//
//	region, err := regioncache.New(regioncache.NewRedisConfig("localhost:6379").
//	    WithNamespace("users:").
//	    WithExpirationTime(10 * time.Minute))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer region.Close()
//
//	if err := region.Set(ctx, "123", user, 0); err != nil {
//	    log.Printf("cache set failed: %v", err)
//	}
//
//	var cached User
//	found, err := region.Get(ctx, "123", &cached)
//
// # Get or Create
//
// Concurrent callers for the same key share one creator call. If the
// backend is unavailable the created value is still returned:
//
//	user, err := regioncache.Fetch(ctx, region, "123", func(ctx context.Context) (User, error) {
//	    return db.LoadUser(ctx, 123)
//	})
//
// # Memoization
//
// Memoize wraps a function returning T or (T, error). Keys are built by
// FunctionKey from the function name and its arguments, and a memoization
// group decides whether results are cached and for how long:
//
//	loadUser := regioncache.Memoize(region, "identity", db.LoadUser)
//	user, err := loadUser(ctx, 123)
//
// # Configuration
//
// Regions are configured with fluent builders or loaded from TOML:
//
//	[cache]
//	enabled = true
//	backend = "redis"
//	expiration_time = 600
//	memcache_servers = ["10.0.0.1:6379", "10.0.0.2:6379"]
//	memcache_pool_maxsize = 10
//	retry_attempts = 1
//
//	[identity]
//	caching = true
//	cache_time = 300
//
//	cfg, err := regioncache.LoadConfig("/etc/app/cache.toml")
//
// # Observability
//
// Hooks observe hits, misses, sets, deletes and errors. A metrics exporter
// from pkg/metrics receives every operation plus periodic snapshots of the
// region, backend and pool counters. DebugHandler serves the same state as
// JSON.
package regioncache
