// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/notebook"
)

// growParallelism bounds concurrent workspace creation while the pool grows.
const growParallelism = 4

// Pool is an ordered, append-only list of notebooks. Worker 0 is the root notebook; every
// other worker is a clone of it sharing its execution session.
type Pool struct {
	log *slog.Logger

	mu      sync.RWMutex
	workers []*notebook.Notebook
	metrics *Metrics
}

// NewPool starts a pool with root as its only worker.
func NewPool(root *notebook.Notebook, metrics *Metrics, log *slog.Logger) *Pool {
	p := &Pool{
		log:     log.With(slog.String("component", "pool")),
		workers: []*notebook.Notebook{root},
		metrics: metrics,
	}
	p.metrics.setPoolSize(1)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Worker returns worker i.
func (p *Pool) Worker(i int) *notebook.Notebook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers[i]
}

// Grow clones the root until the pool holds at least n workers. Workers created before a
// failure are kept.
func (p *Pool) Grow(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	have := len(p.workers)
	if n <= have {
		return nil
	}
	root := p.workers[0]
	fresh := make([]*notebook.Notebook, n-have)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(growParallelism)
	for i := range fresh {
		name := fmt.Sprintf("%s-worker-%d", root.Name(), have+i)
		g.Go(func() error {
			nb, err := root.Clone(gctx, notebook.CloneOptions{Name: name})
			if err != nil {
				return err
			}
			fresh[i] = nb
			return nil
		})
	}
	err := g.Wait()

	for _, nb := range fresh {
		if nb != nil {
			p.workers = append(p.workers, nb)
		}
	}
	p.metrics.setPoolSize(len(p.workers))
	p.log.Debug("pool grown", slog.Int("workers", len(p.workers)))

	if err != nil {
		return herrors.Wrap(herrors.PoolGrowFailed, fmt.Sprintf("growing pool to %d workers", n), err)
	}
	return nil
}

// Close closes every worker. All workers are attempted.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.RLock()
	workers := append([]*notebook.Notebook(nil), p.workers...)
	p.mu.RUnlock()

	var errs *multierror.Error
	for _, nb := range workers {
		if err := nb.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", nb.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}
