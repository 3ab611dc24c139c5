package pool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockConn struct {
	id     int32
	closed atomic.Bool
	inUse  atomic.Bool
	live   *atomic.Int32
}

func (m *mockConn) Close() error {
	if m.closed.CompareAndSwap(false, true) && m.live != nil {
		m.live.Add(-1)
	}
	return nil
}

type mockDialer struct {
	dialed   atomic.Int32
	live     atomic.Int32
	maxLive  atomic.Int32
	failNext atomic.Int32
	delay    time.Duration
}

func (d *mockDialer) dial(ctx context.Context) (*mockConn, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.failNext.Load() > 0 {
		d.failNext.Add(-1)
		return nil, errors.New("connection refused")
	}

	live := d.live.Add(1)
	for {
		prev := d.maxLive.Load()
		if live <= prev || d.maxLive.CompareAndSwap(prev, live) {
			break
		}
	}
	return &mockConn{id: d.dialed.Add(1), live: &d.live}, nil
}

func newTestPool(t *testing.T, cfg Config, opts ...Option[*mockConn]) (*Pool[*mockConn], *mockDialer) {
	t.Helper()

	d := &mockDialer{}
	p, err := New(cfg, d.dial, opts...)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, d
}

func TestPoolAcquireRelease(t *testing.T) {
	p, d := newTestPool(t, Config{MaxSize: 2, AcquireTimeout: time.Second})
	ctx := context.Background()

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !conn.IsLive() {
		t.Fatal("Expected new connection to be live")
	}
	first := conn.ID()

	stats := p.Stats()
	if stats.InUse != 1 || stats.Idle != 0 {
		t.Fatalf("Expected 1 in use and 0 idle, got %+v", stats)
	}

	p.Release(conn)

	stats = p.Stats()
	if stats.InUse != 0 || stats.Idle != 1 {
		t.Fatalf("Expected 0 in use and 1 idle after release, got %+v", stats)
	}

	conn, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}
	if conn.ID() != first {
		t.Errorf("Expected idle connection %d to be reused, got %d", first, conn.ID())
	}
	if d.dialed.Load() != 1 {
		t.Errorf("Expected 1 dial, got %d", d.dialed.Load())
	}
	p.Release(conn)
}

func TestPoolReusesMostRecentlyReleased(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 2, AcquireTimeout: time.Second})
	ctx := context.Background()

	a, _ := p.Acquire(ctx)
	b, _ := p.Acquire(ctx)
	p.Release(a)
	p.Release(b)

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn != b {
		t.Errorf("Expected last released connection %d, got %d", b.ID(), conn.ID())
	}
	p.Release(conn)
}

func TestPoolExhaustion(t *testing.T) {
	const timeout = 300 * time.Millisecond
	p, _ := newTestPool(t, Config{MaxSize: 2, AcquireTimeout: timeout})
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire A failed: %v", err)
	}
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire B failed: %v", err)
	}

	start := time.Now()
	_, err = p.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted, got %v", err)
	}
	if elapsed < timeout-20*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected to block for ~%v", elapsed, timeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("Acquire blocked for %v, far beyond the %v timeout", elapsed, timeout)
	}

	stats := p.Stats()
	if stats.InUse != 2 {
		t.Errorf("Exhaustion must not change checked-out count, got %d", stats.InUse)
	}
	if stats.Exhausted != 1 {
		t.Errorf("Expected 1 exhausted acquire, got %d", stats.Exhausted)
	}

	p.Release(a)

	start = time.Now()
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("Acquire after release should be immediate, took %v", time.Since(start))
	}

	p.Release(b)
	p.Release(c)
}

func TestPoolExhaustionHonoursContextDeadline(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Minute})

	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer p.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted from context deadline, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected exhaustion to wrap context.DeadlineExceeded, got %v", err)
	}
}

func TestPoolAcquireCancelledWhileExhausted(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Minute})

	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer p.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = p.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Cancellation must not report exhaustion, got %v", err)
	}
	if got := p.Stats().Exhausted; got != 0 {
		t.Fatalf("Expected no exhaustion counted, got %d", got)
	}
}

func TestPoolReleaseWakesWaiter(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 2 * time.Second})
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	got := make(chan *Connection[*mockConn], 1)
	errs := make(chan error, 1)
	go func() {
		conn, err := p.Acquire(ctx)
		if err != nil {
			errs <- err
			return
		}
		got <- conn
	}()

	time.Sleep(50 * time.Millisecond)
	p.Release(held)

	select {
	case conn := <-got:
		if conn != held {
			t.Errorf("Expected waiter to receive the released connection")
		}
		p.Release(conn)
	case err := <-errs:
		t.Fatalf("Waiter failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("Waiter was not woken by release")
	}

	if p.Stats().Waited != 1 {
		t.Errorf("Expected 1 waited acquire, got %d", p.Stats().Waited)
	}
}

func TestPoolDialFailureKeepsCapacity(t *testing.T) {
	p, d := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 200 * time.Millisecond})
	d.failNext.Store(1)
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected ErrConnection, got %v", err)
	}

	stats := p.Stats()
	if stats.Open != 0 || stats.Opening != 0 {
		t.Fatalf("Failed dial must not hold a slot, got %+v", stats)
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after failed dial should succeed, got %v", err)
	}
	if p.Stats().DialFailures != 1 {
		t.Errorf("Expected 1 dial failure, got %d", p.Stats().DialFailures)
	}
	p.Release(conn)
}

func TestPoolInvalidate(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	p.Invalidate(conn)

	if conn.IsLive() {
		t.Error("Invalidated connection must be dead")
	}
	if !conn.Client().closed.Load() {
		t.Error("Invalidated connection must be closed")
	}

	// release after invalidate is part of the adapter flow and must be a no-op
	p.Release(conn)

	next, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Freed slot should be available immediately, got %v", err)
	}
	if next == conn {
		t.Fatal("Invalidated connection must never be handed out again")
	}

	stats := p.Stats()
	if stats.Invalidated != 1 || stats.InUse != 1 || stats.Idle != 0 {
		t.Errorf("Unexpected stats after invalidate: %+v", stats)
	}
	p.Release(next)
}

func TestPoolReleaseDeadConnection(t *testing.T) {
	p, d := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	conn, _ := p.Acquire(ctx)
	conn.MarkDead()
	p.Release(conn)

	if !conn.Client().closed.Load() {
		t.Fatal("Dead connection must be closed on release")
	}
	if p.Stats().Idle != 0 {
		t.Fatal("Dead connection must not return to the idle set")
	}

	next, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after dead release failed: %v", err)
	}
	if d.dialed.Load() != 2 {
		t.Errorf("Expected a replacement dial, dialed=%d", d.dialed.Load())
	}
	p.Release(next)
}

func TestPoolDoubleReleasePanics(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Second})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Release(conn)

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic on double release")
		}
	}()
	p.Release(conn)
}

func TestPoolCancelledAcquireDoesNotLeakSlot(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 5 * time.Second})

	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errs <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancelled acquire did not return")
	}

	p.Release(held)

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Slot leaked by cancelled acquire: %v", err)
	}
	p.Release(conn)
}

func TestPoolStaleIdleDroppedOnAcquire(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 2, AcquireTimeout: time.Second, MaxIdleTime: 20 * time.Millisecond})
	ctx := context.Background()

	conn, _ := p.Acquire(ctx)
	p.Release(conn)

	time.Sleep(50 * time.Millisecond)

	next, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if next == conn {
		t.Fatal("Stale idle connection must not be reused")
	}
	if !conn.Client().closed.Load() {
		t.Error("Stale idle connection must be closed")
	}
	if p.Stats().Reaped != 1 {
		t.Errorf("Expected 1 reaped connection, got %d", p.Stats().Reaped)
	}
	p.Release(next)
}

func TestPoolReaper(t *testing.T) {
	p, _ := newTestPool(t, Config{
		MaxSize:        2,
		AcquireTimeout: time.Second,
		MaxIdleTime:    20 * time.Millisecond,
		ReapInterval:   10 * time.Millisecond,
	})

	conn, _ := p.Acquire(context.Background())
	p.Release(conn)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Idle == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if p.Stats().Idle != 0 {
		t.Fatal("Reaper did not close the idle connection")
	}
	if !conn.Client().closed.Load() {
		t.Error("Reaped connection must be closed")
	}
}

func TestPoolHealthCheck(t *testing.T) {
	check := func(_ context.Context, c *mockConn) error {
		if c.id == 1 {
			return errors.New("stale session")
		}
		return nil
	}
	p, d := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Second}, WithHealthCheck(check))
	ctx := context.Background()

	first, _ := p.Acquire(ctx)
	p.Release(first)

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn == first {
		t.Fatal("Connection failing its health check must not be handed out")
	}
	if !first.Client().closed.Load() {
		t.Error("Connection failing its health check must be closed")
	}
	if d.dialed.Load() != 2 {
		t.Errorf("Expected a replacement dial, dialed=%d", d.dialed.Load())
	}
	p.Release(conn)
}

func TestPoolClose(t *testing.T) {
	d := &mockDialer{}
	p, err := New(Config{MaxSize: 2, AcquireTimeout: 5 * time.Second}, d.dial)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	ctx := context.Background()

	idle, _ := p.Acquire(ctx)
	busy, _ := p.Acquire(ctx)
	p.Release(idle)

	waiter, _ := New(Config{MaxSize: 1, AcquireTimeout: 5 * time.Second}, d.dial)
	blocker, _ := waiter.Acquire(ctx)
	errs := make(chan error, 1)
	go func() {
		_, err := waiter.Acquire(ctx)
		errs <- err
	}()
	time.Sleep(30 * time.Millisecond)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !idle.Client().closed.Load() {
		t.Error("Idle connection must be closed on pool close")
	}
	if busy.Client().closed.Load() {
		t.Error("Checked-out connection must stay open until released")
	}

	p.Release(busy)
	if !busy.Client().closed.Load() {
		t.Error("Connection released after close must be closed")
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed on second close, got %v", err)
	}

	_ = waiter.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("Blocked acquire should fail with ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Blocked acquire was not woken by close")
	}
	waiter.Release(blocker)
}

func TestPoolConcurrentInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	const (
		maxSize    = 4
		workers    = 32
		iterations = 100
	)

	p, d := newTestPool(t, Config{MaxSize: maxSize, AcquireTimeout: 5 * time.Second})

	var violations atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for i := 0; i < iterations; i++ {
				conn, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}

				if !conn.Client().inUse.CompareAndSwap(false, true) {
					violations.Add(1)
				}
				if s := p.Stats(); s.Idle+s.InUse > maxSize {
					violations.Add(1)
				}

				if rng.Intn(10) == 0 {
					time.Sleep(time.Microsecond)
				}
				conn.Client().inUse.Store(false)

				switch rng.Intn(8) {
				case 0:
					p.Invalidate(conn)
					p.Release(conn)
				case 1:
					conn.MarkDead()
					p.Release(conn)
				default:
					p.Release(conn)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	if violations.Load() != 0 {
		t.Fatalf("Detected %d ownership or capacity violations", violations.Load())
	}
	if d.maxLive.Load() > maxSize {
		t.Fatalf("Live connections peaked at %d, above max size %d", d.maxLive.Load(), maxSize)
	}

	stats := p.Stats()
	if stats.InUse != 0 {
		t.Errorf("Expected no connections in use, got %d", stats.InUse)
	}
	if stats.Open > maxSize {
		t.Errorf("Open connections %d exceed max size", stats.Open)
	}
}
