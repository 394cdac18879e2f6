// Package asynchook moves hook delivery off the request path. Events are queued
// to a fixed worker pool and dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitEvery:      100, // ~every 100th hit/miss
//	    SelfHealEvery: 10,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	media, _ := memocache.New[string](memocache.Options[string]{
//	    Namespace: "media",
//	    Provider:  provider,
//	    Codec:     codec.String{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/memocache"
)

type Hooks struct {
	inner   memocache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ memocache.Hooks = (*Hooks)(nil)

func New(inner memocache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue after Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(k string)                       { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k string)                      { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) SharedFlight(k string)              { h.try(func() { h.inner.SharedFlight(k) }) }
func (h *Hooks) Stale(k string)                     { h.try(func() { h.inner.Stale(k) }) }
func (h *Hooks) SetSkipped(k string)                { h.try(func() { h.inner.SetSkipped(k) }) }
func (h *Hooks) SelfHeal(k, r string)               { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)       { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenBumpError(k string, err error)   { h.try(func() { h.inner.GenBumpError(k, err) }) }
func (h *Hooks) TokenRefreshed(scope string)        { h.try(func() { h.inner.TokenRefreshed(scope) }) }
func (h *Hooks) AuthRetry(scope string)             { h.try(func() { h.inner.AuthRetry(scope) }) }
func (h *Hooks) ProducerFailed(k string, err error) { h.try(func() { h.inner.ProducerFailed(k, err) }) }
func (h *Hooks) GenSnapshotError(k string, e error) { h.try(func() { h.inner.GenSnapshotError(k, e) }) }
func (h *Hooks) TokenRefreshFailed(s string, e error) {
	h.try(func() { h.inner.TokenRefreshFailed(s, e) })
}
func (h *Hooks) InvalidateOutage(k string, be, de error) {
	h.try(func() { h.inner.InvalidateOutage(k, be, de) })
}
