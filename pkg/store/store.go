// Package store defines the Gateway interface through which every other
// package talks to the backing key-value store. It is the only layer in
// this tree allowed to block on network I/O; callers treat a Gateway call
// as an opaque, possibly-slow operation and never reach past it to a
// concrete client.
package store

import (
	"context"
	"time"
)

// ZMember is one element of a sorted set, paired with its score.
type ZMember struct {
	Member string
	Score  float64
}

// Gateway is the atomic primitive surface the rest of the tree is built on.
// A single implementation (redisGateway) backs it in production; tests use
// the same implementation against a miniredis instance.
type Gateway interface {
	// ZAdd inserts member into key's sorted set with score, or updates its
	// score if member is already present. Returns true if member is new.
	ZAdd(ctx context.Context, key, member string, score float64) (added bool, err error)

	// ZRangeWithScores returns members of key in ascending score order over
	// [start, stop] (inclusive, 0-based, negative indices count from the
	// end), mirroring Redis ZRANGE WITHSCORES.
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRemRangeByRank removes the members at ranks [start, stop] and
	// reports how many were removed.
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (removed int64, err error)

	// ZRem removes member from key's sorted set.
	ZRem(ctx context.Context, key, member string) (removed bool, err error)

	// ZCard reports the cardinality of key's sorted set.
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRank reports member's 0-based rank (ascending score order) in key's
	// sorted set. ok is false if member is absent.
	ZRank(ctx context.Context, key, member string) (rank int64, ok bool, err error)

	// SAdd inserts member into key's set. Returns true if member is new.
	SAdd(ctx context.Context, key, member string) (added bool, err error)

	// SMembers returns all members of key's set, in no particular order.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SCard reports the cardinality of key's set.
	SCard(ctx context.Context, key string) (int64, error)

	// SRem removes member from key's set.
	SRem(ctx context.Context, key, member string) (removed bool, err error)

	// Get returns the string value at key. ok is false if key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Incr increments the integer value at key by 1 and returns the result.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr decrements the integer value at key by 1 and returns the result.
	Decr(ctx context.Context, key string) (int64, error)

	// Del deletes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// SetWithExpiry sets key to value with a time-to-live of ttl.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error

	// Pipeline queues the calls made against p inside fn and executes them
	// as a single atomic round trip. Future.Result() on any value returned
	// by a Pipeline method is only valid after fn returns nil and Pipeline
	// itself returns nil.
	Pipeline(ctx context.Context, fn func(p Pipeline) error) error

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases resources held by the gateway.
	Close() error
}

// BoolFuture holds a pipelined command's boolean result, readable only
// after the enclosing Pipeline call has returned.
type BoolFuture struct{ v bool }

// Result returns the command's result.
func (f *BoolFuture) Result() bool { return f.v }

// IntFuture holds a pipelined command's integer result.
type IntFuture struct{ v int64 }

// Result returns the command's result.
func (f *IntFuture) Result() int64 { return f.v }

// ZMembersFuture holds a pipelined ZRangeWithScores result.
type ZMembersFuture struct{ v []ZMember }

// Result returns the command's result.
func (f *ZMembersFuture) Result() []ZMember { return f.v }

// Pipeline queues sorted-set, set, and counter operations for execution as
// a single round trip against the store.
type Pipeline interface {
	ZAdd(key, member string, score float64) *BoolFuture
	ZRangeWithScores(key string, start, stop int64) *ZMembersFuture
	ZRemRangeByRank(key string, start, stop int64) *IntFuture
	ZRem(key, member string) *BoolFuture
	ZCard(key string) *IntFuture
	SAdd(key, member string) *BoolFuture
	SRem(key, member string) *BoolFuture
	Incr(key string) *IntFuture
	Decr(key string) *IntFuture
	SetWithExpiry(key, value string, ttl time.Duration)
}
