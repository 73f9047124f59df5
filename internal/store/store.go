package store

import (
	"context"
	"time"
)

// Scope namespaces every key. The game runs one scope per community plus a
// shared one; threading it explicitly keeps cross-community and
// per-community data from colliding in a single backend.
type Scope string

// ScopeGlobal is the shared, cross-community namespace.
const ScopeGlobal Scope = "global"

// Kind is the stored representation of a key.
type Kind string

const (
	KindNone   Kind = "none"
	KindString Kind = "string"
	KindHash   Kind = "hash"
	KindZSet   Kind = "zset"
)

// ZEntry is one sorted-set member with its score.
type ZEntry struct {
	Member string
	Score  float64
}

// Store is the key-value contract the migration engine runs against:
// scalars, hashes, sorted sets, an atomic counter, and TTL expiry.
// Existence is always reported separately from zero values; a score of 0 on
// a present member must be distinguishable from an absent member.
type Store interface {
	// Scalars. Set with ttl > 0 creates a key that expires; ttl == 0 means
	// no expiry. SetNX writes only when the key is absent (or expired) and
	// reports whether it wrote. DelIfEquals deletes only when the current
	// scalar value matches expected.
	Get(ctx context.Context, scope Scope, key string) (string, bool, error)
	Set(ctx context.Context, scope Scope, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, scope Scope, key, value string, ttl time.Duration) (bool, error)
	DelIfEquals(ctx context.Context, scope Scope, key, expected string) (bool, error)
	Del(ctx context.Context, scope Scope, keys ...string) error
	Exists(ctx context.Context, scope Scope, key string) (bool, error)
	Type(ctx context.Context, scope Scope, key string) (Kind, error)
	Expire(ctx context.Context, scope Scope, key string, ttl time.Duration) (bool, error)

	// Incr treats the scalar at key as a decimal integer, adds one
	// atomically, and returns the new value. Missing keys start at zero.
	Incr(ctx context.Context, scope Scope, key string) (int64, error)

	// Hashes. HSet writes all given fields in one atomic batch.
	HGet(ctx context.Context, scope Scope, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, scope Scope, key string) (map[string]string, error)
	HSet(ctx context.Context, scope Scope, key string, fields map[string]string) error
	HDel(ctx context.Context, scope Scope, key string, fields ...string) error

	// Sorted sets. ZAdd of an existing member replaces its score; adding
	// the same member with the same score is a no-op.
	ZAdd(ctx context.Context, scope Scope, key, member string, score float64) error
	ZRem(ctx context.Context, scope Scope, key string, members ...string) error
	ZScore(ctx context.Context, scope Scope, key, member string) (float64, bool, error)
	ZCard(ctx context.Context, scope Scope, key string) (int64, error)
	// ZRange returns members by rank, start..stop inclusive; negative
	// indices count from the end, as in the usual sorted-set convention.
	ZRange(ctx context.Context, scope Scope, key string, start, stop int64, reverse bool) ([]ZEntry, error)

	Close() error
}

// rangeBounds normalizes rank indices against n members, returning the
// half-open [lo, hi) window in iteration order.
func rangeBounds(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0
	}
	return start, stop + 1
}
