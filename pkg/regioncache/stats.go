package regioncache

import (
	"sync/atomic"

	"github.com/vnykmshr/regioncache-go/internal/pool"
	"github.com/vnykmshr/regioncache-go/internal/store"
)

// BackendStats are the counters a backend reports about itself
type BackendStats = store.BackendStats

// PoolStats is a snapshot of the Redis connection pool
type PoolStats = pool.Stats

// Stats holds region statistics
type Stats struct {
	hits     atomic.Int64
	misses   atomic.Int64
	sets     atomic.Int64
	deletes  atomic.Int64
	errors   atomic.Int64
	inFlight atomic.Int64

	// degraded counts created values served without being stored
	degraded atomic.Int64
}

// Hits returns the number of reads that found a value
func (s *Stats) Hits() int64 { return s.hits.Load() }

// Misses returns the number of reads that found nothing
func (s *Stats) Misses() int64 { return s.misses.Load() }

// Sets returns the number of values written
func (s *Stats) Sets() int64 { return s.sets.Load() }

// Deletes returns the number of keys deleted
func (s *Stats) Deletes() int64 { return s.deletes.Load() }

// Errors returns the number of operations that failed
func (s *Stats) Errors() int64 { return s.errors.Load() }

// InFlight returns the number of creator calls currently running
func (s *Stats) InFlight() int64 { return s.inFlight.Load() }

// Degraded returns how many created values were served without being cached
// because the backend failed
func (s *Stats) Degraded() int64 { return s.degraded.Load() }

// HitRate returns the hit rate as a percentage (0-100)
func (s *Stats) HitRate() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Total returns hits plus misses
func (s *Stats) Total() int64 {
	return s.Hits() + s.Misses()
}

// Reset zeroes every counter except InFlight
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.deletes.Store(0)
	s.errors.Store(0)
	s.degraded.Store(0)
}
