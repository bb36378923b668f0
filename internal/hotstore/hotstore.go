// Package hotstore is the worker's view of the shared key/value + pub/sub
// service holding live session state: lobby records, per-player status,
// vote tallies, topic cache, and the new-session event channel.
//
// The hot store is shared with external producers (the registration API
// publishes new-session events, end users submit forum messages and votes).
// The worker is the sole writer of lobby blobs, per-player status keys,
// topic cache entries, and elimination records; it treats everything here
// as ephemeral and purges a session's keys at SESSION_START and SESSION_END.
package hotstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key (or hash field) does not exist.
var ErrNotFound = errors.New("key not found")

// KV is the minimal key/value surface the worker needs. Any Redis-shaped
// library can satisfy it; code in cmd/worker creates the concrete client
// and injects it.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets key only when absent. Reports whether the value was set.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, error)

	// ScanKeys returns all keys matching a glob pattern. Used only for
	// scoped purges; never on a hot path.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	FlushAll(ctx context.Context) error
}

// PubSub is the channel surface. Subscribe handlers run on an internal
// dispatcher goroutine and must not block; fork work if needed.
type PubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe registers a handler and returns an unsubscribe function.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)
}

// Store is the combined service as the worker sees it. Two physical
// clients behind one value are fine; both provided drivers use one.
type Store interface {
	KV
	PubSub
	Ping(ctx context.Context) error
	Close() error
}
