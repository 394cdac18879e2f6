package memocache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/memocache/codec"
	gen "github.com/unkn0wn-root/memocache/genstore"
	pr "github.com/unkn0wn-root/memocache/provider"
)

// NoExpiration as a ttl stores an entry until it is overwritten or invalidated.
// Any negative ttl behaves the same way.
const NoExpiration time.Duration = -1

type SetCostFunc func(key string, raw []byte) int64

// Producer computes the value for a key on a cache miss. It may call
// token.Manager.Do to reach an authenticated API.
type Producer[V any] func(ctx context.Context) (V, error)

// Memo is the cache-aside API: fetch-or-compute-and-cache with single-flight.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Memo[V any] interface {
	// TryGet returns the cached value for key or runs produce and caches its result.
	// ttl == 0 uses Options.DefaultTTL; NoExpiration keeps the entry until overwritten.
	// Concurrent calls for the same key share a single producer run.
	// Producer failures are returned as *ProducerError and never cached.
	TryGet(ctx context.Context, key string, ttl time.Duration, produce Producer[V]) (V, error)

	// Get reads key without producing. A value rejected by the freshness policy reads as absent.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// Invalidate drops key. A producer already running for key will not cache its result.
	Invalidate(ctx context.Context, key string) error

	Close(context.Context) error
}

// Options tune the behavior of a Memo or a Store.
// Only Namespace and Provider are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "media", "picks", "author"
	Provider  pr.Provider

	Codec           c.Codec[V]       // nil => JSON
	Policy          Policy[V]        // nil => TTLOnly (Memo only)
	Logger          Logger           // nil => NopLogger
	Hooks           Hooks            // nil => NopHooks
	DefaultTTL      time.Duration    // 0 => 10m
	CleanupInterval time.Duration    // local gen store sweep; 0 => 1h
	GenRetention    time.Duration    // 0 => 30d
	GenStore        gen.GenStore     // nil => LocalGenStore (in-process)
	ComputeSetCost  SetCostFunc      // default 1
	Now             func() time.Time // nil => time.Now

	// DisableDedup runs the producer for every TryGet miss instead of sharing
	// one run between concurrent callers. For adapters that need a fresh fetch per call.
	DisableDedup bool

	// SharedProvider leaves Provider open on Close. Set it when several memos
	// or token managers use one provider; its owner closes it last.
	SharedProvider bool
}

func New[V any](opts Options[V]) (Memo[V], error) {
	return newMemo[V](opts)
}
