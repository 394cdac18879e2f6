// Package memory is an in-process Provider backed by a map.
// Expiry is lazy: an expired key is purged by the read that finds it. There is no sweeper.
package memory

import (
	"context"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/memocache/provider"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Memory struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

var _ pr.Provider = (*Memory)(nil)

type Config struct {
	// Now overrides the clock used for expiry. nil => time.Now.
	Now func() time.Time
}

func New(cfg Config) *Memory {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{m: make(map[string]entry), now: now}
}

func (p *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	e, ok := p.m[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !p.now().Before(e.exp) {
		p.mu.Lock()
		// re-check: a concurrent Set may have replaced the entry
		if cur, ok := p.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(p.m, key)
		}
		p.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *Memory) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = entry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *Memory) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

// Len returns the number of physically stored entries, expired ones included.
func (p *Memory) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

func (p *Memory) Close(_ context.Context) error { return nil }
