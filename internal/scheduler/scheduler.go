// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package scheduler fans batches of statements out over a pool of notebooks.
//
// RunSQLs keeps one statement per worker: worker i always runs statement i, so a worker is
// owned by exactly one job for the lifetime of a batch. Results come back in input order
// whatever order the statements finish in, and a failing statement never stops the others.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/notebook"
	"hueq/cli/internal/retry"
)

const (
	DefaultJobs     = 3
	DefaultInterval = 500 * time.Millisecond
)

// Outcome is the result of one statement of a batch. Result is set whenever the statement
// was accepted by the server; Err is set when it failed.
type Outcome struct {
	SQL    string
	Result *notebook.Result
	Err    error
}

// Failed reports whether the statement ended in an error.
func (o Outcome) Failed() bool { return o.Err != nil }

// RunOptions configures one RunSQLs call.
type RunOptions struct {
	Database string
	// Jobs bounds the statements in flight when Sync is set. Defaults to DefaultJobs.
	Jobs int
	// Sync waits for every statement to finish. Without it each statement is submitted and
	// checked once; statements still running are handed back as running results.
	Sync bool
	// OnProgress is called from the scheduling goroutine whenever a statement settles.
	OnProgress func(settled, total int)
	// Tracker, when set, records the state of every statement. It must be a fresh
	// NewTracker over the same statements.
	Tracker *Tracker
}

// Options configures a Scheduler.
type Options struct {
	// Interval is the pause between scheduling rounds.
	Interval time.Duration
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	Sleep    retry.SleepFunc
}

// Scheduler runs batches on a Pool. RunSQLs calls must not overlap.
type Scheduler struct {
	pool     *Pool
	interval time.Duration
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
	sleep    retry.SleepFunc
}

func New(pool *Pool, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepContext
	}
	return &Scheduler{
		pool:     pool,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		log:      opts.Logger.With(slog.String("component", "scheduler")),
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
}

// Pool returns the pool the scheduler draws workers from.
func (s *Scheduler) Pool() *Pool { return s.pool }

// batch is the state of one RunSQLs call.
type batch struct {
	sqls     []string
	out      []Outcome
	tracker  *Tracker
	inflight map[int]*notebook.Result
	onDone   func(settled, total int)
}

// RunSQLs runs sqls and returns one Outcome per statement, in input order. Statement errors
// are reported in the outcomes; the returned error is reserved for failures of the batch
// itself: the pool could not grow, or ctx ended. When ctx ends, statements still in flight
// are cancelled and the outcomes settled so far are returned with ctx's error.
func (s *Scheduler) RunSQLs(ctx context.Context, sqls []string, opts RunOptions) ([]Outcome, error) {
	if len(sqls) == 0 {
		return []Outcome{}, nil
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = DefaultJobs
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewTracker(sqls)
	} else if tracker.Len() != len(sqls) || tracker.Settled() != 0 {
		return nil, herrors.New(herrors.InvalidArgument,
			fmt.Sprintf("tracker covers %d statements, batch has %d", tracker.Len(), len(sqls)))
	}

	if err := s.pool.Grow(ctx, len(sqls)); err != nil {
		return nil, err
	}

	b := &batch{
		sqls:     sqls,
		out:      make([]Outcome, len(sqls)),
		tracker:  tracker,
		inflight: map[int]*notebook.Result{},
		onDone:   opts.OnProgress,
	}
	for i, sql := range sqls {
		b.out[i].SQL = sql
	}

	s.log.Info("running batch", slog.Int("statements", len(sqls)), slog.Int("jobs", jobs),
		slog.Bool("sync", opts.Sync))
	start := s.now()

	next := 0
	for next < len(sqls) || len(b.inflight) > 0 {
		if err := s.drain(ctx, b, opts.Sync); err != nil {
			return b.out, s.abort(ctx, b, err)
		}

		for next < len(sqls) && (len(b.inflight) < jobs || !opts.Sync) {
			slot := next
			next++
			if err := s.submit(ctx, b, slot, opts.Database); err != nil {
				return b.out, s.abort(ctx, b, err)
			}
		}

		if next < len(sqls) || len(b.inflight) > 0 {
			if err := s.sleep(ctx, s.interval); err != nil {
				return b.out, s.abort(ctx, b, err)
			}
		}
	}

	counts := b.tracker.Counts()
	s.log.Info("batch finished", slog.Int("done", counts[JobDone]), slog.Int("failed", counts[JobFailed]),
		slog.Int("max_in_flight", b.tracker.MaxInFlight()), slog.Duration("elapsed", s.now().Sub(start)))
	return b.out, nil
}

// drain performs one status check for every statement in flight. It only returns an error
// when ctx ended.
func (s *Scheduler) drain(ctx context.Context, b *batch, sync bool) error {
	for _, slot := range slices.Sorted(maps.Keys(b.inflight)) {
		res := b.inflight[slot]
		st, err := res.Poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err != nil:
			s.log.Error("statement failed", slog.Int("slot", slot),
				slog.String("sql", logging.SQL(b.sqls[slot])), slog.String("error", err.Error()))
			s.settle(b, slot, res, err)
		case st == notebook.StatusAvailable || !sync:
			s.settle(b, slot, res, nil)
		}
	}
	return nil
}

// submit sends statement slot to worker slot. A rejected submission settles the slot; only
// the end of ctx is returned.
func (s *Scheduler) submit(ctx context.Context, b *batch, slot int, database string) error {
	worker := s.pool.Worker(slot)
	res, err := worker.Execute(ctx, b.sqls[slot], notebook.ExecOptions{Database: database})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.log.Error("submission failed", slog.Int("slot", slot),
			slog.String("sql", logging.SQL(b.sqls[slot])), slog.String("error", err.Error()))
		b.out[slot].Err = err
		b.tracker.Fail(slot, err.Error(), s.now())
		s.metrics.finish(outcomeFailed, false, 0)
		s.progress(b)
		return nil
	}

	b.inflight[slot] = res
	b.tracker.Submit(slot, s.now())
	s.metrics.submit()
	s.log.Debug("statement submitted", slog.Int("slot", slot), slog.String("worker", worker.Name()))
	return nil
}

const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeDetached = "detached"
)

func (s *Scheduler) settle(b *batch, slot int, res *notebook.Result, err error) {
	delete(b.inflight, slot)
	b.out[slot].Result = res
	b.out[slot].Err = err

	now := s.now()
	took := now.Sub(b.tracker.Job(slot).Submitted)
	switch {
	case err != nil:
		b.tracker.Fail(slot, err.Error(), now)
		s.metrics.finish(outcomeFailed, true, took)
	case res.Status() == notebook.StatusAvailable:
		b.tracker.Done(slot, now)
		s.metrics.finish(outcomeOK, true, took)
	default:
		b.tracker.Done(slot, now)
		s.metrics.finish(outcomeDetached, true, took)
	}
	s.progress(b)
}

func (s *Scheduler) progress(b *batch) {
	if b.onDone != nil {
		b.onDone(b.tracker.Settled(), len(b.sqls))
	}
}

// abort cancels every statement in flight and settles it as cancelled.
func (s *Scheduler) abort(ctx context.Context, b *batch, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	for _, slot := range slices.Sorted(maps.Keys(b.inflight)) {
		s.log.Warn("batch interrupted, cancelling statement", slog.Int("slot", slot),
			slog.String("sql", logging.SQL(b.sqls[slot])))
		if err := s.pool.Worker(slot).Interrupt(cleanup); err != nil {
			s.log.Warn("cleanup after interrupt failed", slog.Int("slot", slot), slog.String("error", err.Error()))
		}
		s.settle(b, slot, b.inflight[slot], herrors.Wrap(herrors.Cancelled, "batch interrupted", cause))
	}
	return fmt.Errorf("batch interrupted after %d of %d statements: %w", b.tracker.Settled(), len(b.sqls), cause)
}
