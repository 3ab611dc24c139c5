// Package ristretto is a cost-bounded in-process backend with per-entry TTL.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/vnykmshr/regioncache-go/internal/store"
)

// Config holds ristretto backend configuration. Cost is the value length in bytes.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64

	// DefaultTTL applies when an operation passes ttl <= 0. Zero means no expiry.
	DefaultTTL time.Duration
}

// DefaultConfig sizes the cache for roughly 64MB of values
func DefaultConfig() Config {
	return Config{
		NumCounters: 1e6,
		MaxCost:     64 << 20,
		BufferItems: 64,
	}
}

// Store is a ristretto-backed backend
type Store struct {
	c   *rc.Cache
	ttl time.Duration
}

var (
	_ store.Backend       = (*Store)(nil)
	_ store.StatsReporter = (*Store)(nil)
)

// New creates a ristretto store
func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}

	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Store{c: c, ttl: cfg.DefaultTTL}, nil
}

// Get retrieves the value stored under key
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := store.ValidateKey("get", key); err != nil {
		return nil, false, err
	}

	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		s.c.Del(key)
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

// Set stores value under key. The write is visible once Set returns; an
// admission policy rejection is reported as a request error.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey("set", key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	if !s.c.SetWithTTL(key, append([]byte(nil), value...), int64(len(value)), ttl) {
		return store.RequestError("set", key, errors.New("rejected by admission policy"))
	}
	s.c.Wait()
	return nil
}

// Delete removes key
func (s *Store) Delete(_ context.Context, key string) error {
	if err := store.ValidateKey("delete", key); err != nil {
		return err
	}
	s.c.Del(key)
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

// BackendStats reports evictions from ristretto's metrics
func (s *Store) BackendStats() store.BackendStats {
	stats := store.BackendStats{Name: "ristretto", Entries: -1}
	if m := s.c.Metrics; m != nil {
		stats.Entries = int64(m.KeysAdded() - m.KeysEvicted())
		stats.Evictions = int64(m.KeysEvicted())
	}
	return stats
}

// Close flushes pending writes and stops the cache
func (s *Store) Close() error {
	s.c.Wait()
	s.c.Close()
	return nil
}
