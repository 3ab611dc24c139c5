package pool

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type connState int

const (
	stateCheckedOut connState = iota
	stateIdle
	stateClosed
)

// Connection is a single pooled session handle. It is owned by the Pool while
// idle and by exactly one caller while checked out.
type Connection[C io.Closer] struct {
	id       uint64
	client   C
	live     atomic.Bool
	openedAt time.Time

	// guarded by the owning pool's mutex
	state    connState
	lastUsed time.Time

	closeOnce sync.Once
	closeErr  error
}

func newConnection[C io.Closer](id uint64, client C, now time.Time) *Connection[C] {
	c := &Connection[C]{
		id:       id,
		client:   client,
		openedAt: now,
		lastUsed: now,
		state:    stateCheckedOut,
	}
	c.live.Store(true)
	return c
}

// ID returns the pool-unique identifier of the connection
func (c *Connection[C]) ID() uint64 {
	return c.id
}

// Client returns the underlying session
func (c *Connection[C]) Client() C {
	return c.client
}

// IsLive reports the cached health flag. It performs no I/O.
func (c *Connection[C]) IsLive() bool {
	return c.live.Load()
}

// MarkDead flags the connection as unusable. The pool closes it on release.
func (c *Connection[C]) MarkDead() {
	c.live.Store(false)
}

// OpenedAt returns when the session was established
func (c *Connection[C]) OpenedAt() time.Time {
	return c.openedAt
}

// close releases the session once. Later calls return the first result.
func (c *Connection[C]) close() error {
	c.closeOnce.Do(func() {
		c.live.Store(false)
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}
