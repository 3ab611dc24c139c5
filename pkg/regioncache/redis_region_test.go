package regioncache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisRegion(t *testing.T, addr string) *Region {
	t.Helper()
	config := NewRedisConfig(addr).
		WithNamespace("test:").
		WithPoolMaxSize(2).
		WithPoolAcquireTimeout(time.Second)
	config.Redis.SocketTimeout = time.Second
	config.Redis.PoolReapInterval = 0
	return newTestRegion(t, config)
}

func TestRedisRegionOperations(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	r := newRedisRegion(t, mr.Addr())

	want := profile{Name: "linus", Age: 54}
	if err := r.Set(ctx, "user", want, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got profile
	if found, err := r.Get(ctx, "user", &got); err != nil || !found || got.Name != "linus" {
		t.Fatalf("Get = %+v, %v, %v", got, found, err)
	}

	k, _ := r.key("get", "user")
	if ttl := mr.TTL(k); ttl != time.Minute {
		t.Errorf("Expected 1m ttl on the server, got %v", ttl)
	}

	if err := r.SetMulti(ctx, map[string]any{"a": "x", "b": "y"}, 0); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}
	values, err := r.GetMulti(ctx, []string{"a", "b", "c"})
	if err != nil || len(values) != 2 {
		t.Fatalf("GetMulti = %d values, %v", len(values), err)
	}

	if n, err := r.Incr(ctx, "hits", 5); err != nil || n != 5 {
		t.Errorf("Incr = %d, %v; want 5", n, err)
	}

	if err := r.DeleteMulti(ctx, []string{"a", "b", "user"}); err != nil {
		t.Fatalf("DeleteMulti failed: %v", err)
	}
	if found, _ := r.Get(ctx, "user", nil); found {
		t.Error("Expected user to be deleted")
	}

	ps, ok := r.PoolStats()
	if !ok {
		t.Fatal("Expected pool stats from the redis backend")
	}
	if ps.MaxSize != 2 || ps.InUse != 0 {
		t.Errorf("Unexpected pool stats %+v", ps)
	}
	if bs := r.BackendStats(); bs.Name != "redis" {
		t.Errorf("Expected redis backend stats, got %q", bs.Name)
	}
}

func TestRedisRegionUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx := context.Background()
	r := newRedisRegion(t, addr)

	_, err := r.Get(ctx, "k", nil)
	if !errors.Is(err, ErrBackendUnavailable) || !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected unavailable connection error, got %v", err)
	}
	if r.BackendStats().Unavailable == 0 {
		t.Error("Expected the backend to count the unavailable operation")
	}
}

func TestRedisRegionGetOrCreateDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx := context.Background()
	r := newRedisRegion(t, addr)

	calls := 0
	v, err := Fetch(ctx, r, "k", func(context.Context) (string, error) {
		calls++
		return "fresh", nil
	})
	if err != nil || v != "fresh" {
		t.Fatalf("Fetch = %q, %v; want the created value", v, err)
	}
	if calls != 1 {
		t.Errorf("Expected one creator call, got %d", calls)
	}
	if r.Stats().Degraded() != 1 {
		t.Errorf("Expected one degraded store, got %d", r.Stats().Degraded())
	}
}

func TestRedisRegionMemoizeWithDeadBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	r := newRedisRegion(t, addr)

	calls := 0
	double := Memoize(r, "math", func(n int) int {
		calls++
		return n * 2
	})
	if got := double(21); got != 42 {
		t.Errorf("double(21) = %d, want 42", got)
	}
	if got := double(21); got != 42 {
		t.Errorf("double(21) = %d, want 42", got)
	}
	if calls != 2 {
		t.Errorf("Expected every call to reach the function, got %d", calls)
	}
}
