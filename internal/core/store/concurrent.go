package store

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunConcurrent calls fn for every index in [0, n) with at most limit calls in
// flight (limit <= 0 means unbounded) and waits for all of them. A failing
// call never cancels its siblings; failures are collected into a *BatchError.
func RunConcurrent(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed = make(map[int]error)
		g      errgroup.Group
	)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := fn(ctx, i); err != nil {
				mu.Lock()
				failed[i] = err
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()

	if len(failed) > 0 {
		return &BatchError{Total: n, Failed: failed}
	}

	return nil
}
