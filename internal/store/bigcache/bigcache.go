// Package bigcache is an off-heap-friendly in-process backend. Entries share
// one life window; per-operation ttls are ignored.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/vnykmshr/regioncache-go/internal/store"
)

// Config holds bigcache backend configuration
type Config struct {
	// LifeWindow is how long every entry lives. Required.
	LifeWindow time.Duration

	// CleanWindow is how often dead entries are removed. Default: LifeWindow / 2
	CleanWindow time.Duration

	// Shards must be a power of two. Default: 1024
	Shards int

	MaxEntriesInWindow int
	MaxEntrySize       int

	// HardMaxCacheSizeMB caps memory use. Zero means unlimited.
	HardMaxCacheSizeMB int
}

// Store is a bigcache-backed backend
type Store struct {
	c *bc.BigCache

	evictions atomic.Int64
}

var (
	_ store.Backend       = (*Store)(nil)
	_ store.StatsReporter = (*Store)(nil)
)

// New creates a bigcache store
func New(cfg Config) (*Store, error) {
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("bigcache: life window must be positive")
	}

	s := &Store{}

	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.CleanWindow = cfg.LifeWindow / 2
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	conf.OnRemoveWithReason = func(_ string, _ []byte, reason bc.RemoveReason) {
		if reason == bc.Expired || reason == bc.NoSpace {
			s.evictions.Add(1)
		}
	}

	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, fmt.Errorf("bigcache: %w", err)
	}
	s.c = c
	return s, nil
}

// Get retrieves the value stored under key. Entries past the life window
// read as misses even before the cleaner removes them.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := store.ValidateKey("get", key); err != nil {
		return nil, false, err
	}

	value, resp, err := s.c.GetWithInfo(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if resp.EntryStatus == bc.Expired {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key for the life window
func (s *Store) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if err := store.ValidateKey("set", key); err != nil {
		return err
	}
	if err := s.c.Set(key, value); err != nil {
		return store.RequestError("set", key, err)
	}
	return nil
}

// Delete removes key
func (s *Store) Delete(_ context.Context, key string) error {
	if err := store.ValidateKey("delete", key); err != nil {
		return err
	}
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

// GetMulti returns the found subset of keys
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	return store.GetEach(ctx, s, keys)
}

// SetMulti stores every item
func (s *Store) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	return store.SetEach(ctx, s, items, ttl)
}

// DeleteMulti removes every key
func (s *Store) DeleteMulti(ctx context.Context, keys []string) error {
	return store.DeleteEach(ctx, s, keys)
}

// BackendStats reports entry count and evictions
func (s *Store) BackendStats() store.BackendStats {
	return store.BackendStats{
		Name:      "bigcache",
		Entries:   int64(s.c.Len()),
		Evictions: s.evictions.Load(),
	}
}

// Close stops the cleaner
func (s *Store) Close() error {
	return s.c.Close()
}
