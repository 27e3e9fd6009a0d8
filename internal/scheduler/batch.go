// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the value or error of one Batch item.
type BatchResult[R any] struct {
	Value R
	Err   error
}

// BatchFunc processes item i of a batch.
type BatchFunc[T, R any] func(ctx context.Context, i int, item T) (R, error)

// Batch runs fn for every item, at most limit at a time, and returns the results in item
// order. An item's error is kept in its slot and does not stop the others. Items not yet
// started when ctx ends get ctx's error. onDone, when set, is called after every item with
// the number of finished items; calls are serialized.
func Batch[T, R any](ctx context.Context, items []T, limit int, fn BatchFunc[T, R], onDone func(done, total int)) []BatchResult[R] {
	out := make([]BatchResult[R], len(items))
	if limit <= 0 {
		limit = DefaultJobs
	}

	var (
		mu   sync.Mutex
		done int
	)
	finished := func() {
		if onDone == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		onDone(done, len(items))
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			defer finished()
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Value, out[i].Err = fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
