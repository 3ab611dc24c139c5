// Package singleflight collapses concurrent loads of the same key into one.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group deduplicates in-flight work by key. The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

// call is one in-flight load. val and err are written before done is closed.
type call[V any] struct {
	done chan struct{}
	val  V
	err  error

	// guarded by the Group's mutex
	dups int
}

// PanicError is returned to every waiter when the shared function panics
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("singleflight: function panicked: %v", p.Value)
}

// Do runs fn once for all concurrent callers with the same key. The leader's
// fn runs detached from any single caller's cancellation, so one caller
// giving up does not fail the others. Each caller stops waiting when its own
// ctx is done. shared reports whether the result went to more than one caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (v V, err error, shared bool) {
	if err := ctx.Err(); err != nil {
		return v, err, false
	}

	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	c, ok := g.m[key]
	if ok {
		c.dups++
	} else {
		c = &call[V]{done: make(chan struct{})}
		g.m[key] = c
		go g.run(context.WithoutCancel(ctx), c, key, fn)
	}
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return v, ctx.Err(), ok
	case <-c.done:
		g.mu.Lock()
		shared = c.dups > 0
		g.mu.Unlock()
		return c.val, c.err, shared
	}
}

func (g *Group[K, V]) run(ctx context.Context, c *call[V], key K, fn func(context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = &PanicError{Value: r}
		}

		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn(ctx)
}

// Forget drops the in-flight call for key. Later callers start a new load
// instead of joining the running one.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// InFlight returns the number of keys currently loading
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
