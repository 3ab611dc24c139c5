package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrValueTooLarge is returned when a value exceeds Config.MaxValueSize
var ErrValueTooLarge = errors.New("redis: value exceeds max value size")

// errMarkedDead is the dial error while the server is inside its dead-retry window
var errMarkedDead = errors.New("redis: server marked dead")

// Replies that mean the server cannot serve this session right now, as
// opposed to rejecting the request itself.
var transientReplies = []string{"LOADING", "READONLY", "MASTERDOWN", "TRYAGAIN", "CLUSTERDOWN"}

// dial opens one session: a plain client for one address or a ring over many
func (b *Backend) dial(parent context.Context) (redis.UniversalClient, error) {
	if until, dead := b.deadUntil(); dead {
		return nil, fmt.Errorf("%w until %s", errMarkedDead, until.Format(time.RFC3339))
	}

	ctx := parent
	if b.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, b.dialTimeout)
		defer cancel()
	}

	client := b.newClient()
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		// A done parent means the caller or the pool gave up first
		if parent.Err() == nil {
			b.markDead()
		}
		return nil, err
	}

	if b.takeFlush() {
		if err := flush(ctx, client); err != nil {
			_ = client.Close()
			b.noteTransportFailure()
			return nil, fmt.Errorf("flush on reconnect: %w", err)
		}
		b.log.Info("redis: flushed database after reconnect")
	}

	return client, nil
}

func (b *Backend) newClient() redis.UniversalClient {
	var client redis.UniversalClient

	if len(b.cfg.Addrs) == 1 {
		client = redis.NewClient(&redis.Options{
			Addr:                  b.cfg.Addrs[0],
			Username:              b.cfg.Username,
			Password:              b.cfg.Password,
			DB:                    b.cfg.DB,
			TLSConfig:             b.cfg.TLSConfig,
			DialTimeout:           b.cfg.SocketTimeout,
			ReadTimeout:           b.cfg.SocketTimeout,
			WriteTimeout:          b.cfg.SocketTimeout,
			ContextTimeoutEnabled: true,
			PoolSize:              1,
			MaxRetries:            -1,
		})
	} else {
		shards := make(map[string]string, len(b.cfg.Addrs))
		for i, addr := range b.cfg.Addrs {
			shards[fmt.Sprintf("shard%d", i)] = addr
		}
		client = redis.NewRing(&redis.RingOptions{
			Addrs:        shards,
			Username:     b.cfg.Username,
			Password:     b.cfg.Password,
			DB:           b.cfg.DB,
			TLSConfig:    b.cfg.TLSConfig,
			DialTimeout:  b.cfg.SocketTimeout,
			ReadTimeout:  b.cfg.SocketTimeout,
			WriteTimeout: b.cfg.SocketTimeout,
			PoolSize:     1,
			MaxRetries:   -1,
		})
	}

	for _, hook := range b.cfg.Hooks {
		client.AddHook(hook)
	}
	return client
}

func ping(ctx context.Context, client redis.UniversalClient) error {
	if ring, ok := client.(*redis.Ring); ok {
		return ring.ForEachShard(ctx, func(ctx context.Context, shard *redis.Client) error {
			return shard.Ping(ctx).Err()
		})
	}
	return client.Ping(ctx).Err()
}

func flush(ctx context.Context, client redis.UniversalClient) error {
	if ring, ok := client.(*redis.Ring); ok {
		return ring.ForEachShard(ctx, func(ctx context.Context, shard *redis.Client) error {
			return shard.FlushDB(ctx).Err()
		})
	}
	return client.FlushDB(ctx).Err()
}

// isTransportError reports whether err means the session is broken rather
// than the request bad. Anything that is not a server reply or a local
// request check counts as transport: resets, timeouts, EOF, closed clients
// and protocol desync.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValueTooLarge) {
		return false
	}

	var reply redis.Error
	if errors.As(err, &reply) {
		msg := reply.Error()
		for _, prefix := range transientReplies {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
		return false
	}
	return true
}

// pipelineBatch queues one command per key on a single pipeline and returns
// the keys whose command did not complete along with the error to classify.
// collect is called for every command that completed, misses included.
func pipelineBatch(
	ctx context.Context,
	client redis.UniversalClient,
	keys []string,
	queue func(p redis.Pipeliner, key string),
	collect func(key string, cmd redis.Cmder),
) ([]string, error) {
	cmds, err := client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			queue(p, key)
		}
		return nil
	})

	// the pipeline failed before any command carried a reply
	if err != nil && !errors.Is(err, redis.Nil) && !anyReply(cmds) {
		return keys, err
	}

	var failed []string
	var transportErr, requestErr error
	for i, cmd := range cmds {
		if i >= len(keys) {
			break
		}
		cerr := cmd.Err()
		if cerr != nil && !errors.Is(cerr, redis.Nil) {
			failed = append(failed, keys[i])
			if isTransportError(cerr) {
				if transportErr == nil {
					transportErr = cerr
				}
			} else if requestErr == nil {
				requestErr = cerr
			}
			continue
		}
		collect(keys[i], cmd)
	}

	if len(cmds) < len(keys) {
		failed = append(failed, keys[len(cmds):]...)
		if transportErr == nil {
			transportErr = fmt.Errorf("pipeline returned %d of %d replies", len(cmds), len(keys))
		}
	}

	if transportErr != nil {
		return failed, transportErr
	}
	return failed, requestErr
}

func anyReply(cmds []redis.Cmder) bool {
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			return true
		}
	}
	return false
}
