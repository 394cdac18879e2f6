package memocache

import (
	"context"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/memocache/provider"
)

// memProvider stores bytes and ignores ttl, like a provider without per-entry
// expiry; deadlines are then enforced by the frame alone.
type memProvider struct {
	mu      sync.Mutex
	m       map[string][]byte
	lastTTL time.Duration
	getErr  error
	closed  int
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	p.m[key] = value
	p.lastTTL = ttl
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *memProvider) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recHooks counts events by name.
type recHooks struct {
	NopHooks
	mu sync.Mutex
	n  map[string]int
}

func newRecHooks() *recHooks { return &recHooks{n: make(map[string]int)} }

func (h *recHooks) inc(name string) {
	h.mu.Lock()
	h.n[name]++
	h.mu.Unlock()
}

func (h *recHooks) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n[name]
}

func (h *recHooks) Hit(string)                   { h.inc("hit") }
func (h *recHooks) Miss(string)                  { h.inc("miss") }
func (h *recHooks) SharedFlight(string)          { h.inc("shared") }
func (h *recHooks) Stale(string)                 { h.inc("stale") }
func (h *recHooks) ProducerFailed(string, error) { h.inc("producer_failed") }
func (h *recHooks) SetSkipped(string)            { h.inc("set_skipped") }
func (h *recHooks) SelfHeal(_, reason string)    { h.inc("heal:" + reason) }
