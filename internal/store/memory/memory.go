// Package memory is an in-process LRU backend with per-entry TTL.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vnykmshr/regioncache-go/internal/entry"
	"github.com/vnykmshr/regioncache-go/internal/store"
)

// DefaultCapacity is used when Config.Capacity is not positive
const DefaultCapacity = 10000

// Config holds memory backend configuration
type Config struct {
	// Capacity is the maximum number of entries before LRU eviction
	Capacity int

	// DefaultTTL applies when an operation passes ttl <= 0. Zero means no expiry.
	DefaultTTL time.Duration

	// CleanupInterval is how often expired entries are swept. Zero only expires lazily.
	CleanupInterval time.Duration
}

// Store is an in-memory LRU backend
type Store struct {
	cfg   Config
	cache *lru.Cache[string, *entry.Entry]

	// mu serializes every mutation so Incr's read-modify-write cannot
	// interleave with a Set, Delete or expiry sweep
	mu sync.Mutex

	evictions atomic.Int64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

var (
	_ store.Backend       = (*Store)(nil)
	_ store.Incrementer   = (*Store)(nil)
	_ store.StatsReporter = (*Store)(nil)
)

// New creates a memory store
func New(cfg Config) (*Store, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	cache, err := lru.New[string, *entry.Entry](cfg.Capacity)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:         cfg,
		cache:       cache,
		stopCleanup: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		s.startCleanup(cfg.CleanupInterval)
	}
	return s, nil
}

// Get retrieves the value stored under key
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := store.ValidateKey("get", key); err != nil {
		return nil, false, err
	}

	e, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return e.Bytes(), true, nil
}

// Set stores value under key
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey("set", key); err != nil {
		return err
	}

	e := entry.New(value, s.expiration(ttl))
	s.mu.Lock()
	s.add(key, e)
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *Store) Delete(_ context.Context, key string) error {
	if err := store.ValidateKey("delete", key); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

// GetMulti returns the found subset of keys
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	return store.GetEach(ctx, s, keys)
}

// SetMulti stores every item with the same ttl
func (s *Store) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	return store.SetEach(ctx, s, items, ttl)
}

// DeleteMulti removes every key
func (s *Store) DeleteMulti(ctx context.Context, keys []string) error {
	return store.DeleteEach(ctx, s, keys)
}

// Incr adds delta to the decimal integer stored at key, keeping its expiry
func (s *Store) Incr(_ context.Context, key string, delta int64) (int64, error) {
	if err := store.ValidateKey("incr", key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	ttl := s.cfg.DefaultTTL
	if e, ok := s.cache.Get(key); ok {
		if e.IsExpired() {
			s.expireLocked(key, e)
		} else {
			n, err := strconv.ParseInt(string(e.Value), 10, 64)
			if err != nil {
				return 0, store.RequestError("incr", key, errors.New("value is not an integer"))
			}
			current = n
			if e.ExpiresAt != nil {
				ttl = e.TTL()
			}
		}
	}

	next := current + delta
	s.add(key, entry.New([]byte(strconv.FormatInt(next, 10)), ttl))
	return next, nil
}

// Len returns the number of unexpired entries
func (s *Store) Len() int {
	now := time.Now()
	count := 0
	for _, key := range s.cache.Keys() {
		if e, ok := s.cache.Peek(key); ok && !e.ExpiredAt(now) {
			count++
		}
	}
	return count
}

// Cleanup removes expired entries and returns how many were removed
func (s *Store) Cleanup() int {
	now := time.Now()
	removed := 0
	for _, key := range s.cache.Keys() {
		s.mu.Lock()
		if e, ok := s.cache.Peek(key); ok && e.ExpiredAt(now) {
			s.cache.Remove(key)
			removed++
		}
		s.mu.Unlock()
	}
	s.evictions.Add(int64(removed))
	return removed
}

// BackendStats reports entry count and evictions
func (s *Store) BackendStats() store.BackendStats {
	return store.BackendStats{
		Name:      "memory",
		Entries:   int64(s.Len()),
		Evictions: s.evictions.Load(),
	}
}

// Close stops the cleanup goroutine and drops every entry
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}
		close(s.stopCleanup)
		s.cache.Purge()
	})
	return nil
}

func (s *Store) lookup(key string) (*entry.Entry, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if e.IsExpired() {
		s.mu.Lock()
		s.expireLocked(key, e)
		s.mu.Unlock()
		return nil, false
	}
	return e, true
}

// expireLocked drops key only if it still holds e. Callers hold s.mu.
func (s *Store) expireLocked(key string, e *entry.Entry) {
	if current, ok := s.cache.Peek(key); ok && current == e {
		s.cache.Remove(key)
		s.evictions.Add(1)
	}
}

func (s *Store) add(key string, e *entry.Entry) {
	if evicted := s.cache.Add(key, e); evicted {
		s.evictions.Add(1)
	}
}

func (s *Store) expiration(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return s.cfg.DefaultTTL
}

func (s *Store) startCleanup(interval time.Duration) {
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.Cleanup()
			case <-s.stopCleanup:
				return
			}
		}
	}()
}
