package regioncache

import (
	"context"
	"time"

	"github.com/vnykmshr/regioncache-go/internal/store"
	"github.com/vnykmshr/regioncache-go/pkg/logging"
)

// debugBackend logs every backend call at debug level
type debugBackend struct {
	next store.Backend
	log  logging.Logger
}

func newDebugBackend(next store.Backend, log logging.Logger) *debugBackend {
	return &debugBackend{next: next, log: log}
}

func (d *debugBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, found, err := d.next.Get(ctx, key)
	d.log.Debug("CACHE_GET", logging.F("key", key), logging.F("found", found),
		logging.F("size", len(value)), logging.Err(err))
	return value, found, err
}

func (d *debugBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := d.next.Set(ctx, key, value, ttl)
	d.log.Debug("CACHE_SET", logging.F("key", key), logging.F("size", len(value)),
		logging.F("ttl", ttl), logging.Err(err))
	return err
}

func (d *debugBackend) Delete(ctx context.Context, key string) error {
	err := d.next.Delete(ctx, key)
	d.log.Debug("CACHE_DELETE", logging.F("key", key), logging.Err(err))
	return err
}

func (d *debugBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	values, err := d.next.GetMulti(ctx, keys)
	d.log.Debug("CACHE_GET_MULTI", logging.F("keys", keys), logging.F("found", len(values)), logging.Err(err))
	return values, err
}

func (d *debugBackend) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	err := d.next.SetMulti(ctx, items, ttl)
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	d.log.Debug("CACHE_SET_MULTI", logging.F("keys", keys), logging.F("ttl", ttl), logging.Err(err))
	return err
}

func (d *debugBackend) DeleteMulti(ctx context.Context, keys []string) error {
	err := d.next.DeleteMulti(ctx, keys)
	d.log.Debug("CACHE_DELETE_MULTI", logging.F("keys", keys), logging.Err(err))
	return err
}

// Incr is only reached when the wrapped backend is an Incrementer
func (d *debugBackend) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := d.next.(store.Incrementer).Incr(ctx, key, delta)
	d.log.Debug("CACHE_INCR", logging.F("key", key), logging.F("delta", delta),
		logging.F("value", n), logging.Err(err))
	return n, err
}

func (d *debugBackend) Close() error {
	return d.next.Close()
}
