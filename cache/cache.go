// Package cache provides partitioned response caching under size and age
// budgets.
//
// Each partition is an independently budgeted subdivision of the store with
// a fixed maximum total size and maximum entry age. Eviction removes entries
// strictly in ascending cached-at order until the partition is back under
// its size budget. Reads treat age-expired entries as absent but never
// remove them; removal only happens during an eviction pass.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownPartition is returned when an operation names a partition that
// was not configured at construction time.
var ErrUnknownPartition = errors.New("cache: unknown partition")

// Budget bounds one partition.
type Budget struct {
	// MaxBytes is the partition's total payload size limit.
	// Zero means unlimited.
	MaxBytes int64

	// MaxAge is the entry age limit. Zero means entries never expire.
	MaxAge time.Duration
}

// Entry describes a cached payload's metadata.
type Entry struct {
	Key       string
	SizeBytes int64
	CachedAt  time.Time
}

// Store is a partitioned payload cache.
//
// Implementations must make each Put and eviction pass atomic with respect
// to a partition's entry set, and must serialize eviction passes within a
// partition. Independent partitions may be operated on concurrently.
type Store interface {
	// Get returns the payload for key, or ok=false when the key is missing
	// or its entry has outlived the partition's max age. Storage errors
	// degrade to a miss.
	Get(ctx context.Context, partition, key string) (payload []byte, ok bool)

	// Put stores a payload and then brings the partition back under its
	// size budget.
	Put(ctx context.Context, partition, key string, payload []byte) error

	// Delete removes a single entry if present.
	Delete(ctx context.Context, partition, key string) error

	// EvictIfOverBudget removes age-expired entries and then the oldest
	// entries, in ascending cached-at order, until the partition's total
	// size is at or below its budget. Returns the number of bytes freed.
	EvictIfOverBudget(ctx context.Context, partition string) (freed int64, err error)

	// SizeBytes returns the partition's current total payload size.
	SizeBytes(partition string) int64
}

// Stale is an optional extension returning entries past their max age.
// The loader uses it as the cached-stale rung of its fallback chain.
type Stale interface {
	// GetStale returns the payload for key even when the entry has expired.
	GetStale(ctx context.Context, partition, key string) (payload []byte, ok bool)
}
