package memocache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

var errNilProducer = errors.New("memocache: nil producer")

type memo[V any] struct {
	store  *Store[V]
	policy Policy[V]
	dedup  bool

	// in-flight producers keyed by storage key; an entry lives until its producer settles
	flights singleflight.Group
}

var _ Memo[struct{}] = (*memo[struct{}])(nil)

func newMemo[V any](opts Options[V]) (*memo[V], error) {
	s, err := NewStore[V](opts)
	if err != nil {
		return nil, err
	}
	m := &memo[V]{store: s, policy: opts.Policy, dedup: !opts.DisableDedup}
	if m.policy == nil {
		m.policy = TTLOnly[V]{}
	}
	return m, nil
}

func (m *memo[V]) Close(ctx context.Context) error { return m.store.Close(ctx) }

func (m *memo[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	v, ok, err := m.store.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	if m.policy.IsStale(v, m.store.now()) {
		m.store.hooks.Stale(m.store.storageKey(key))
		return zero, false, nil
	}
	return v, true, nil
}

func (m *memo[V]) Invalidate(ctx context.Context, key string) error {
	return m.store.Invalidate(ctx, key)
}

func (m *memo[V]) TryGet(ctx context.Context, key string, ttl time.Duration, produce Producer[V]) (V, error) {
	var zero V
	if produce == nil {
		return zero, errNilProducer
	}
	k := m.store.storageKey(key)

	if v, ok := m.lookup(ctx, key, true); ok {
		m.store.hooks.Hit(k)
		return v, nil
	}
	m.store.hooks.Miss(k)

	if !m.dedup {
		return m.produce(ctx, key, ttl, produce)
	}

	leader := false
	res, err, _ := m.flights.Do(k, func() (any, error) {
		leader = true
		// a flight that settled between our miss and Do may already have filled the key
		if v, ok := m.lookup(ctx, key, false); ok {
			return v, nil
		}
		// waiters share this run; one caller's cancellation must not fail them all
		return m.produce(context.WithoutCancel(ctx), key, ttl, produce)
	})
	if !leader {
		m.store.hooks.SharedFlight(k)
	}
	if err != nil {
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// lookup is a cache read with the freshness policy applied. Provider errors
// read as a miss so a broken cache degrades to calling the producer.
func (m *memo[V]) lookup(ctx context.Context, key string, report bool) (V, bool) {
	var zero V
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.store.log.Warn("cache read failed; treating as miss", Fields{"key": key, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	if m.policy.IsStale(v, m.store.now()) {
		if report {
			m.store.hooks.Stale(m.store.storageKey(key))
			m.store.log.Debug("cached value is stale; forcing refresh", Fields{"key": key})
		}
		return zero, false
	}
	return v, true
}

func (m *memo[V]) produce(ctx context.Context, key string, ttl time.Duration, produce Producer[V]) (V, error) {
	var zero V
	k := m.store.storageKey(key)

	// snapshot before producing so an Invalidate during the run wins
	g, genErr := m.store.SnapshotGen(ctx, key)

	v, err := call(ctx, key, produce)
	if err != nil {
		m.store.hooks.ProducerFailed(k, err)
		m.store.log.Debug("producer failed", Fields{"key": key, "err": err})
		return zero, err
	}

	if genErr != nil {
		m.store.log.Warn("gen snapshot failed; result not cached", Fields{"key": key, "err": genErr})
		return v, nil
	}
	if _, err := m.store.SetWithGen(ctx, key, v, g, ttl); err != nil {
		m.store.log.Warn("cache write failed", Fields{"key": key, "err": err})
	}
	return v, nil
}

func call[V any](ctx context.Context, key string, produce Producer[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, err = zero, &ProducerError{Key: key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err = produce(ctx)
	if err != nil {
		var zero V
		return zero, &ProducerError{Key: key, Err: err}
	}
	return v, nil
}
