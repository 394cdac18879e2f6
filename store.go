package memocache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	c "github.com/unkn0wn-root/memocache/codec"
	gen "github.com/unkn0wn-root/memocache/genstore"
	"github.com/unkn0wn-root/memocache/internal/util"
	"github.com/unkn0wn-root/memocache/internal/wire"
	pr "github.com/unkn0wn-root/memocache/provider"
)

// Store is the typed CacheStore: a namespaced view over a Provider that frames
// each value with its deadline and generation. Expired, corrupt or stale frames
// read as absent and are deleted on the read that finds them.
//
// Store has no single-flight; use Memo for fetch-or-compute. token.Manager
// writes its credential record through a Store.
type Store[V any] struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[V]
	log      Logger
	hooks    Hooks
	gen      gen.GenStore
	ownsGen  bool
	shared   bool
	now      func() time.Time

	defaultTTL     time.Duration
	computeSetCost SetCostFunc
}

func NewStore[V any](opts Options[V]) (*Store[V], error) {
	if opts.Provider == nil {
		return nil, errors.New("memocache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("memocache: namespace is required")
	}

	s := &Store[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		shared:   opts.SharedProvider,
	}

	// defaults
	// interface options are nil-checked: == on an uncomparable dynamic type panics
	s.codec, s.log, s.hooks = opts.Codec, opts.Logger, opts.Hooks
	if s.codec == nil {
		s.codec = c.JSON[V]{}
	}
	if s.log == nil {
		s.log = NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	s.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)

	if opts.Now != nil {
		s.now = opts.Now
	} else {
		s.now = time.Now
	}
	if opts.ComputeSetCost != nil {
		s.computeSetCost = opts.ComputeSetCost
	} else {
		s.computeSetCost = func(string, []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		// in-process generations with periodic cleanup
		s.gen = gen.NewLocalGenStore(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
		s.ownsGen = true
	}
	return s, nil
}

// Namespace returns the namespace all keys of this store live under.
func (s *Store[V]) Namespace() string { return s.ns }

// Close stops the default gen store and closes the provider unless
// Options.SharedProvider is set. A provider shared by several stores is closed
// by its owner after all of them.
func (s *Store[V]) Close(ctx context.Context) error {
	if s.ownsGen {
		_ = s.gen.Close(ctx)
	}
	if s.shared {
		return nil
	}
	return s.provider.Close(ctx)
}

// Get returns the value for key, or ok=false when missing or expired.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	k := s.storageKey(key)
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	e, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, k, "corrupt")
		return zero, false, nil
	}
	if e.Expired(s.now()) {
		s.heal(ctx, k, "expired")
		return zero, false, nil
	}
	cur, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		// can't prove the frame is current; miss without deleting
		s.hooks.GenSnapshotError(k, err)
		s.log.Warn("gen snapshot error", Fields{"key": k, "err": err})
		return zero, false, nil
	}
	if e.Gen != cur {
		s.heal(ctx, k, "gen_mismatch")
		return zero, false, nil
	}
	v, err := s.codec.Decode(e.Payload)
	if err != nil {
		s.heal(ctx, k, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

// Set overwrites key unconditionally, resetting its deadline.
func (s *Store[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	k := s.storageKey(key)
	g, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		s.hooks.GenSnapshotError(k, err)
		return fmt.Errorf("memocache: snapshot %q: %w", key, err)
	}
	return s.write(ctx, k, value, g, ttl)
}

// SnapshotGen returns the current generation of key, for use with SetWithGen.
func (s *Store[V]) SnapshotGen(ctx context.Context, key string) (uint64, error) {
	k := s.storageKey(key)
	g, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		s.hooks.GenSnapshotError(k, err)
	}
	return g, err
}

// SetWithGen writes value only if key's generation still equals observedGen.
// written reports whether the write happened.
func (s *Store[V]) SetWithGen(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) (written bool, err error) {
	k := s.storageKey(key)
	cur, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		s.hooks.GenSnapshotError(k, err)
		return false, fmt.Errorf("memocache: snapshot %q: %w", key, err)
	}
	if cur != observedGen {
		// generation moved; skip stale write
		s.hooks.SetSkipped(k)
		s.log.Debug("SetWithGen skipped (gen mismatch)", Fields{"key": key, "obs": observedGen, "cur": cur})
		return false, nil
	}
	if err := s.write(ctx, k, value, observedGen, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate bumps key's generation and deletes its entry. It fails only when
// both halves fail; either one alone is enough to hide the old value.
func (s *Store[V]) Invalidate(ctx context.Context, key string) error {
	k := s.storageKey(key)
	newGen, bumpErr := s.gen.Bump(ctx, k)
	if bumpErr != nil {
		s.hooks.GenBumpError(k, bumpErr)
		s.log.Error("gen bump error", Fields{"key": k, "err": bumpErr})
	}
	delErr := s.provider.Del(ctx, k)
	if bumpErr != nil && delErr != nil {
		s.hooks.InvalidateOutage(k, bumpErr, delErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	}
	s.log.Debug("invalidated key", Fields{"key": key, "newGen": newGen})
	return nil
}

func (s *Store[V]) write(ctx context.Context, k string, value V, g uint64, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		now := s.now()
		if ttl < maxDeadline.Sub(now) {
			expiresAt = now.Add(ttl)
		} else {
			// deadline would not fit the frame; treat as no expiry
			ttl = NoExpiration
		}
	}
	payload, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("memocache: encode %q: %w", k, err)
	}
	frame := wire.Encode(g, expiresAt, payload)
	ok, err := s.provider.Set(ctx, k, frame, s.computeSetCost(k, frame), ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(k)
		s.log.Debug("Set rejected by provider (pressure)", Fields{"key": k})
	}
	return nil
}

// maxDeadline is the latest expiry a frame can carry.
var maxDeadline = time.Unix(0, math.MaxInt64)

func (s *Store[V]) heal(ctx context.Context, storageKey, reason string) {
	_ = s.provider.Del(ctx, storageKey)
	s.hooks.SelfHeal(storageKey, reason)
}

func (s *Store[V]) storageKey(userKey string) string {
	return util.StorageKey(s.ns, userKey)
}
