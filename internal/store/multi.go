package store

import (
	"context"
	"time"
)

// KeyOps is the single-key subset the loop helpers build multi-key operations from
type KeyOps interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetEach implements GetMulti for backends without a native batch read
func GetEach(ctx context.Context, b KeyOps, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, found, err := b.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			out[key] = value
		}
	}
	return out, nil
}

// SetEach implements SetMulti for backends without a native batch write.
// Keys are validated before anything is written.
func SetEach(ctx context.Context, b KeyOps, items map[string][]byte, ttl time.Duration) error {
	for key := range items {
		if err := ValidateKey("set_multi", key); err != nil {
			return err
		}
	}
	for key, value := range items {
		if err := b.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEach implements DeleteMulti for backends without a native batch delete
func DeleteEach(ctx context.Context, b KeyOps, keys []string) error {
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
