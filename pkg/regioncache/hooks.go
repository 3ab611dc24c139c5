package regioncache

import (
	"context"

	"github.com/vnykmshr/regioncache-go/pkg/logging"
)

// Hooks defines event callbacks for region operations. Keys are the caller's
// keys, before namespacing and mangling.
type Hooks struct {
	OnHit    []OnHitHook
	OnMiss   []OnMissHook
	OnSet    []OnSetHook
	OnDelete []OnDeleteHook
	OnError  []OnErrorHook
}

type (
	// OnHitHook is called when a read finds a value
	OnHitHook func(ctx context.Context, key string)

	// OnMissHook is called when a read finds nothing
	OnMissHook func(ctx context.Context, key string)

	// OnSetHook is called after a value is stored; size is the stored byte length
	OnSetHook func(ctx context.Context, key string, size int)

	// OnDeleteHook is called after a key is deleted
	OnDeleteHook func(ctx context.Context, key string)

	// OnErrorHook is called when an operation fails. key is empty for multi-key operations.
	OnErrorHook func(ctx context.Context, op, key string, err error)
)

// AddOnHit adds an OnHit hook
func (h *Hooks) AddOnHit(hook OnHitHook) *Hooks {
	h.OnHit = append(h.OnHit, hook)
	return h
}

// AddOnMiss adds an OnMiss hook
func (h *Hooks) AddOnMiss(hook OnMissHook) *Hooks {
	h.OnMiss = append(h.OnMiss, hook)
	return h
}

// AddOnSet adds an OnSet hook
func (h *Hooks) AddOnSet(hook OnSetHook) *Hooks {
	h.OnSet = append(h.OnSet, hook)
	return h
}

// AddOnDelete adds an OnDelete hook
func (h *Hooks) AddOnDelete(hook OnDeleteHook) *Hooks {
	h.OnDelete = append(h.OnDelete, hook)
	return h
}

// AddOnError adds an OnError hook
func (h *Hooks) AddOnError(hook OnErrorHook) *Hooks {
	h.OnError = append(h.OnError, hook)
	return h
}

func (h *Hooks) hit(ctx context.Context, key string) {
	if h == nil {
		return
	}
	for _, hook := range h.OnHit {
		if hook != nil {
			hook(ctx, key)
		}
	}
}

func (h *Hooks) miss(ctx context.Context, key string) {
	if h == nil {
		return
	}
	for _, hook := range h.OnMiss {
		if hook != nil {
			hook(ctx, key)
		}
	}
}

func (h *Hooks) set(ctx context.Context, key string, size int) {
	if h == nil {
		return
	}
	for _, hook := range h.OnSet {
		if hook != nil {
			hook(ctx, key, size)
		}
	}
}

func (h *Hooks) deleted(ctx context.Context, key string) {
	if h == nil {
		return
	}
	for _, hook := range h.OnDelete {
		if hook != nil {
			hook(ctx, key)
		}
	}
}

func (h *Hooks) failed(ctx context.Context, op, key string, err error) {
	if h == nil {
		return
	}
	for _, hook := range h.OnError {
		if hook != nil {
			hook(ctx, op, key, err)
		}
	}
}

// LoggingHooksConfig selects which events NewLoggingHooks logs
type LoggingHooksConfig struct {
	LogHits    bool
	LogMisses  bool
	LogSets    bool
	LogDeletes bool
	LogErrors  bool
}

// NewLoggingHooksConfig logs errors, sets and deletes; hits and misses are off
func NewLoggingHooksConfig() LoggingHooksConfig {
	return LoggingHooksConfig{LogSets: true, LogDeletes: true, LogErrors: true}
}

// NewLoggingHooks returns hooks that log region events. Hits, misses, sets
// and deletes log at debug level; errors log at warn.
func NewLoggingHooks(logger logging.Logger, config LoggingHooksConfig) *Hooks {
	log := logging.OrNoOp(logger)
	hooks := &Hooks{}

	if config.LogHits {
		hooks.AddOnHit(func(_ context.Context, key string) {
			log.Debug("cache hit", logging.F("key", key))
		})
	}
	if config.LogMisses {
		hooks.AddOnMiss(func(_ context.Context, key string) {
			log.Debug("cache miss", logging.F("key", key))
		})
	}
	if config.LogSets {
		hooks.AddOnSet(func(_ context.Context, key string, size int) {
			log.Debug("cache set", logging.F("key", key), logging.F("size", size))
		})
	}
	if config.LogDeletes {
		hooks.AddOnDelete(func(_ context.Context, key string) {
			log.Debug("cache delete", logging.F("key", key))
		})
	}
	if config.LogErrors {
		hooks.AddOnError(func(_ context.Context, op, key string, err error) {
			log.Warn("cache operation failed", logging.F("op", op), logging.F("key", key), logging.Err(err))
		})
	}
	return hooks
}
