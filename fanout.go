package memocache

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FanOut runs enrich for every item concurrently and returns the results in
// input order. A failed branch keeps the original item (degraded) and reports
// its error at the same index of errs; siblings are never cancelled.
// limit > 0 bounds the number of branches in flight.
//
//	items, errs := memocache.FanOut(ctx, episodes, 8, withMediaURL)
//	for i, err := range errs {
//		if err != nil {
//			log.Warn("enrich failed", memocache.Fields{"eid": episodes[i].ID, "err": err})
//		}
//	}
func FanOut[T any](ctx context.Context, items []T, limit int, enrich func(context.Context, T) (T, error)) ([]T, []error) {
	out := make([]T, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			v, err := enrichOne(ctx, item, enrich)
			if err != nil {
				out[i], errs[i] = item, err
				return nil
			}
			out[i] = v
			return nil
		})
	}
	_ = g.Wait() // branches never return errors
	return out, errs
}

// Failed reports how many entries of errs are non-nil.
func Failed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func enrichOne[T any](ctx context.Context, item T, enrich func(context.Context, T) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("memocache: enrich panic: %v", r)
		}
	}()
	return enrich(ctx, item)
}
