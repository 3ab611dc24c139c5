// Package pool implements a bounded pool of client sessions to a remote
// key-value service.
//
// Capacity is accounted in slots rather than connection objects. A caller
// holds a slot from the moment Acquire admits it until the matching Release or
// Invalidate, so a failed dial gives its slot back instead of shrinking the
// pool. Idle connections hold no slot; a new session is dialled only when the
// idle stack is empty, which keeps idle + checked-out at or below MaxSize.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/regioncache-go/pkg/logging"
)

var (
	// ErrPoolClosed is returned by Acquire once Close has been called
	ErrPoolClosed = errors.New("pool: closed")

	// ErrPoolExhausted is returned when no slot frees up before the acquire
	// deadline, whether AcquireTimeout or the caller's. It wraps
	// context.DeadlineExceeded.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrConnection wraps a failure to establish a new session
	ErrConnection = errors.New("pool: connection failed")
)

// Dialer opens one client session. It must honour ctx cancellation.
type Dialer[C io.Closer] func(ctx context.Context) (C, error)

// HealthChecker checks an idle session before it is handed out again
type HealthChecker[C io.Closer] func(ctx context.Context, client C) error

// Config holds pool settings. It is copied at construction and never mutated.
type Config struct {
	// MaxSize bounds idle plus checked-out connections. Default: 10
	MaxSize int

	// AcquireTimeout bounds how long Acquire waits for a slot.
	// Zero leaves the caller's context as the only bound.
	AcquireTimeout time.Duration

	// MaxIdleTime is the age after which an idle connection is closed.
	// Zero keeps idle connections indefinitely.
	MaxIdleTime time.Duration

	// ReapInterval is how often the reaper scans idle connections.
	// Zero disables the background reaper; stale connections are still
	// dropped lazily by Acquire.
	ReapInterval time.Duration

	// DialTimeout bounds a single Dialer call. Zero uses the acquire context only.
	DialTimeout time.Duration

	// Logger receives dial, close and reap events
	Logger logging.Logger
}

// DefaultConfig returns the pool defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:        10,
		AcquireTimeout: 10 * time.Second,
		MaxIdleTime:    60 * time.Second,
		ReapInterval:   30 * time.Second,
		DialTimeout:    3 * time.Second,
	}
}

// Option customizes a Pool at construction
type Option[C io.Closer] func(*Pool[C])

// WithHealthCheck installs a liveness check run on idle connections at checkout
func WithHealthCheck[C io.Closer](check HealthChecker[C]) Option[C] {
	return func(p *Pool[C]) {
		p.check = check
	}
}

// Stats is a point-in-time snapshot of pool bookkeeping and counters
type Stats struct {
	MaxSize int `json:"maxSize"`
	Open    int `json:"open"`
	Idle    int `json:"idle"`
	InUse   int `json:"inUse"`
	Opening int `json:"opening"`

	Acquired     int64 `json:"acquired"`
	Waited       int64 `json:"waited"`
	Exhausted    int64 `json:"exhausted"`
	Dialed       int64 `json:"dialed"`
	DialFailures int64 `json:"dialFailures"`
	Invalidated  int64 `json:"invalidated"`
	Reaped       int64 `json:"reaped"`
}

// Pool is a bounded set of sessions shared by concurrent callers
type Pool[C io.Closer] struct {
	cfg   Config
	dial  Dialer[C]
	check HealthChecker[C]
	log   logging.Logger

	// slots holds one token per checked-out or opening connection
	slots chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	idle       []*Connection[C] // oldest first; reuse pops from the end
	checkedOut map[*Connection[C]]struct{}
	opening    int
	closed     bool

	nextID   atomic.Uint64
	reaperWg sync.WaitGroup

	acquired     atomic.Int64
	waited       atomic.Int64
	exhausted    atomic.Int64
	dialed       atomic.Int64
	dialFailures atomic.Int64
	invalidated  atomic.Int64
	reaped       atomic.Int64
}

// New creates a pool that opens sessions with dial
func New[C io.Closer](cfg Config, dial Dialer[C], opts ...Option[C]) (*Pool[C], error) {
	if dial == nil {
		return nil, errors.New("pool: dialer is required")
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("pool: invalid max size %d", cfg.MaxSize)
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}

	p := &Pool[C]{
		cfg:        cfg,
		dial:       dial,
		log:        logging.OrNoOp(cfg.Logger),
		slots:      make(chan struct{}, cfg.MaxSize),
		done:       make(chan struct{}),
		checkedOut: make(map[*Connection[C]]struct{}, cfg.MaxSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.ReapInterval > 0 && cfg.MaxIdleTime > 0 {
		p.reaperWg.Add(1)
		go p.reapLoop()
	}

	return p, nil
}

// Acquire checks out a connection, reusing the most recently released idle one
// or dialling a new one when a slot is free. It blocks while the pool is
// saturated, until a slot frees, ctx is done or AcquireTimeout elapses.
func (p *Pool[C]) Acquire(ctx context.Context) (*Connection[C], error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := p.takeSlot(ctx); err != nil {
		return nil, err
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.freeSlot()
			return nil, ErrPoolClosed
		}
		conn := p.popIdleLocked()
		if conn == nil {
			p.opening++
		}
		p.mu.Unlock()

		if conn == nil {
			break
		}
		// the slot stays ours while a rejected candidate is closed
		if p.expired(conn, time.Now()) {
			p.reaped.Add(1)
			p.discard(conn, "idle timeout")
			continue
		}
		if p.check == nil || p.healthy(ctx, conn) {
			p.acquired.Add(1)
			return conn, nil
		}
	}

	conn, err := p.open(ctx)

	p.mu.Lock()
	p.opening--
	if err != nil {
		p.mu.Unlock()
		p.freeSlot()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		p.closeConn(conn, "pool closed")
		p.freeSlot()
		return nil, ErrPoolClosed
	}
	p.checkedOut[conn] = struct{}{}
	p.mu.Unlock()

	p.acquired.Add(1)
	return conn, nil
}

// Release returns a checked-out connection. Live connections go back to the
// idle stack; dead ones are closed and their slot freed. Releasing a
// connection that was already invalidated is a no-op. Releasing one that is
// idle or was never checked out is a caller bug and panics.
func (p *Pool[C]) Release(conn *Connection[C]) {
	if conn == nil {
		panic("pool: release of nil connection")
	}

	p.mu.Lock()
	if _, ok := p.checkedOut[conn]; !ok {
		state := conn.state
		p.mu.Unlock()
		if state == stateClosed {
			return
		}
		panic(fmt.Sprintf("pool: release of connection %d that is not checked out", conn.id))
	}
	delete(p.checkedOut, conn)

	if p.closed || !conn.IsLive() {
		conn.state = stateClosed
		closed := p.closed
		p.mu.Unlock()

		reason := "dead"
		if closed {
			reason = "pool closed"
		}
		p.closeConn(conn, reason)
		p.freeSlot()
		return
	}

	conn.state = stateIdle
	conn.lastUsed = time.Now()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()

	p.freeSlot()
}

// Invalidate marks a checked-out connection dead, closes it and frees its
// slot at once. A later Release of the same connection is a no-op.
func (p *Pool[C]) Invalidate(conn *Connection[C]) {
	if conn == nil {
		return
	}
	conn.MarkDead()

	p.mu.Lock()
	_, ok := p.checkedOut[conn]
	if ok {
		delete(p.checkedOut, conn)
		conn.state = stateClosed
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	p.invalidated.Add(1)
	p.closeConn(conn, "invalidated")
	p.freeSlot()
}

// Reap closes idle connections older than MaxIdleTime and reports how many.
// Each stale connection is closed while the reaper holds a free slot, so a
// concurrent Acquire cannot dial its replacement before it is gone.
func (p *Pool[C]) Reap() int {
	now := time.Now()

	p.mu.Lock()
	candidates := p.countStaleLocked(now)
	p.mu.Unlock()

	held := 0
	for held < candidates && p.tryTakeSlot() {
		held++
	}
	if held == 0 {
		return 0
	}

	p.mu.Lock()
	stale := p.takeStaleLocked(now, held)
	p.mu.Unlock()

	for _, conn := range stale {
		p.reaped.Add(1)
		p.closeConn(conn, "idle timeout")
	}
	for i := 0; i < held; i++ {
		p.freeSlot()
	}
	return len(stale)
}

// Close tears the pool down. Idle connections are closed now, checked-out
// connections when they are released, and blocked Acquire calls fail with
// ErrPoolClosed.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.done)

	idle := p.idle
	p.idle = nil
	for _, conn := range idle {
		conn.state = stateClosed
	}
	p.mu.Unlock()

	p.reaperWg.Wait()

	for _, conn := range idle {
		p.closeConn(conn, "pool closed")
	}
	return nil
}

// Stats returns a snapshot of the pool
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	inUse := len(p.checkedOut)
	opening := p.opening
	p.mu.Unlock()

	return Stats{
		MaxSize:      p.cfg.MaxSize,
		Open:         idle + inUse + opening,
		Idle:         idle,
		InUse:        inUse,
		Opening:      opening,
		Acquired:     p.acquired.Load(),
		Waited:       p.waited.Load(),
		Exhausted:    p.exhausted.Load(),
		Dialed:       p.dialed.Load(),
		DialFailures: p.dialFailures.Load(),
		Invalidated:  p.invalidated.Load(),
		Reaped:       p.reaped.Load(),
	}
}

// Config returns the settings the pool was built with
func (p *Pool[C]) Config() Config {
	return p.cfg
}

func (p *Pool[C]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[C]) takeSlot(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	p.waited.Add(1)
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.exhausted.Add(1)
			return fmt.Errorf("%w: all %d connections in use: %w", ErrPoolExhausted, p.cfg.MaxSize, ctx.Err())
		}
		return ctx.Err()
	}
}

func (p *Pool[C]) tryTakeSlot() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Pool[C]) freeSlot() {
	<-p.slots
}

func (p *Pool[C]) popIdleLocked() *Connection[C] {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	conn := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]

	conn.state = stateCheckedOut
	p.checkedOut[conn] = struct{}{}
	return conn
}

func (p *Pool[C]) expired(conn *Connection[C], now time.Time) bool {
	return p.cfg.MaxIdleTime > 0 && now.Sub(conn.lastUsed) > p.cfg.MaxIdleTime
}

func (p *Pool[C]) countStaleLocked(now time.Time) int {
	n := 0
	for n < len(p.idle) && p.expired(p.idle[n], now) {
		n++
	}
	return n
}

// takeStaleLocked removes up to limit of the oldest expired idle connections
func (p *Pool[C]) takeStaleLocked(now time.Time, limit int) []*Connection[C] {
	n := min(p.countStaleLocked(now), limit)
	if n == 0 {
		return nil
	}

	stale := make([]*Connection[C], n)
	copy(stale, p.idle[:n])
	for _, conn := range stale {
		conn.state = stateClosed
	}
	rest := copy(p.idle, p.idle[n:])
	clear(p.idle[rest:])
	p.idle = p.idle[:rest]
	return stale
}

// discard evicts a connection the caller checked out without freeing its slot
func (p *Pool[C]) discard(conn *Connection[C], reason string) {
	conn.MarkDead()

	p.mu.Lock()
	delete(p.checkedOut, conn)
	conn.state = stateClosed
	p.mu.Unlock()

	p.closeConn(conn, reason)
}

// healthy runs the health check on a connection the caller already holds
func (p *Pool[C]) healthy(ctx context.Context, conn *Connection[C]) bool {
	err := p.check(ctx, conn.client)
	if err == nil {
		return true
	}

	p.log.Debug("pool: health check failed", logging.F("conn", conn.id), logging.Err(err))
	p.invalidated.Add(1)
	p.discard(conn, "health check")
	return false
}

func (p *Pool[C]) open(ctx context.Context) (*Connection[C], error) {
	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}

	client, err := p.dial(ctx)
	if err != nil {
		p.dialFailures.Add(1)
		p.log.Warn("pool: failed to open connection", logging.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	p.dialed.Add(1)
	conn := newConnection(p.nextID.Add(1), client, time.Now())
	p.log.Debug("pool: opened connection", logging.F("conn", conn.id))
	return conn, nil
}

func (p *Pool[C]) closeConn(conn *Connection[C], reason string) {
	if err := conn.close(); err != nil {
		p.log.Debug("pool: error closing connection",
			logging.F("conn", conn.id), logging.F("reason", reason), logging.Err(err))
		return
	}
	p.log.Debug("pool: closed connection", logging.F("conn", conn.id), logging.F("reason", reason))
}

func (p *Pool[C]) reapLoop() {
	defer p.reaperWg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := p.Reap(); n > 0 {
				p.log.Debug("pool: reaped idle connections", logging.F("count", n))
			}
		case <-p.done:
			return
		}
	}
}
