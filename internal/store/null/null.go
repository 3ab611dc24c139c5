// Package null is a backend that stores nothing. Every read is a miss.
package null

import (
	"context"
	"time"

	"github.com/vnykmshr/regioncache-go/internal/store"
)

// Store discards writes
type Store struct{}

var (
	_ store.Backend       = Store{}
	_ store.StatsReporter = Store{}
)

// New returns a null store
func New() Store { return Store{} }

func (Store) Get(context.Context, string) ([]byte, bool, error)                { return nil, false, nil }
func (Store) Set(context.Context, string, []byte, time.Duration) error         { return nil }
func (Store) Delete(context.Context, string) error                             { return nil }
func (Store) SetMulti(context.Context, map[string][]byte, time.Duration) error { return nil }
func (Store) DeleteMulti(context.Context, []string) error                      { return nil }
func (Store) Close() error                                                     { return nil }

func (Store) GetMulti(_ context.Context, _ []string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

func (Store) BackendStats() store.BackendStats {
	return store.BackendStats{Name: "null"}
}
