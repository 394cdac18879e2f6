// Package genstore keeps a generation counter per storage key.
//
// A Memo snapshots the generation before running a producer and writes the
// result only if the generation is unchanged. Invalidate bumps it, so a producer
// that was already running when the key was invalidated cannot resurrect the old value.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore to share them
// with the cache entries when those live in Redis.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
