package genstore

import (
	"context"
	"sync"
	"time"
)

type localGen struct {
	gen     uint64
	touched time.Time // last Bump
}

// LocalGenStore keeps generations in-process (default). Only keys that were
// ever invalidated are tracked. With a sweep interval, keys not bumped within
// the retention window are pruned; a pruned key reads as 0 again, which can only
// reject frames written before the prune.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]localGen
	now  func() time.Time

	stop context.CancelFunc
	done chan struct{}
	once sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

// NewLocalGenStore sweeps every cleanupInterval when both arguments are > 0.
func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]localGen), now: time.Now}
	if cleanupInterval <= 0 || retention <= 0 {
		return s
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop, s.done = cancel, make(chan struct{})
	go s.sweep(ctx, cleanupInterval, retention)
	return s
}

func (s *LocalGenStore) sweep(ctx context.Context, every, retention time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-ctx.Done():
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, storageKey string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[storageKey].gen, nil
}

func (s *LocalGenStore) Bump(_ context.Context, storageKey string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gens[storageKey].gen + 1
	s.gens[storageKey] = localGen{gen: g, touched: now}
	return g, nil
}

// Cleanup drops keys last bumped more than retention ago.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.gens {
		if e.touched.Before(cutoff) {
			delete(s.gens, k)
		}
	}
}

// Len returns the number of tracked keys.
func (s *LocalGenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

// Close stops the sweeper. Idempotent.
func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
			<-s.done
		}
	})
	return nil
}
