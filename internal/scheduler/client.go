// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"hueq/cli/internal/backend"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/notebook"
	"hueq/cli/internal/retry"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Name of the root notebook. Defaults to a random "hueq-" name.
	Name     string
	Interval time.Duration
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	Sleep    retry.SleepFunc
}

// Client is the entry point for running statements. It owns a root notebook, the pool grown
// from it, and any standalone notebooks it handed out.
//
// RunSQL on the root notebook and RunSQLs share worker 0 and must not overlap.
type Client struct {
	api   backend.API
	sched *Scheduler
	log   *slog.Logger

	mu     sync.Mutex
	extra  []*notebook.Notebook
	closed bool
}

// NewClient opens the root notebook.
func NewClient(ctx context.Context, api backend.API, cfg notebook.Config, opts ClientOptions) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Name == "" {
		opts.Name = "hueq-" + uuid.NewString()[:8]
	}
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	if cfg.Now == nil {
		cfg.Now = opts.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = opts.Sleep
	}

	root, err := notebook.NewFactory(api, cfg).New(ctx, opts.Name, "hueq root notebook")
	if err != nil {
		return nil, fmt.Errorf("open root notebook: %w", err)
	}

	pool := NewPool(root, opts.Metrics, opts.Logger)
	return &Client{
		api: api,
		sched: New(pool, Options{
			Interval: opts.Interval,
			Metrics:  opts.Metrics,
			Logger:   opts.Logger,
			Now:      opts.Now,
			Sleep:    opts.Sleep,
		}),
		log: opts.Logger.With(slog.String("component", "client")),
	}, nil
}

// Root returns the root notebook.
func (c *Client) Root() *notebook.Notebook { return c.sched.Pool().Worker(0) }

// Pool returns the worker pool.
func (c *Client) Pool() *Pool { return c.sched.Pool() }

// SQLOptions configures RunSQL.
type SQLOptions struct {
	Database string
	Sync     bool
	// NewNotebook runs the statement on a fresh notebook with its own session.
	NewNotebook bool
}

// RunSQL runs one statement on the root notebook, or on a new one.
func (c *Client) RunSQL(ctx context.Context, sql string, opts SQLOptions) (*notebook.Result, error) {
	nb := c.Root()
	if opts.NewNotebook {
		var err error
		if nb, err = c.NewNotebook(ctx, ""); err != nil {
			return nil, err
		}
	}
	return nb.Execute(ctx, sql, notebook.ExecOptions{Database: opts.Database, Sync: opts.Sync})
}

// RunSQLs runs a batch on the pool. See Scheduler.RunSQLs.
func (c *Client) RunSQLs(ctx context.Context, sqls []string, opts RunOptions) ([]Outcome, error) {
	return c.sched.RunSQLs(ctx, sqls, opts)
}

// NewNotebook opens a notebook with its own workspace and session. The client closes it on
// Close.
func (c *Client) NewNotebook(ctx context.Context, name string) (*notebook.Notebook, error) {
	nb, err := c.open(ctx, name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.extra = append(c.extra, nb)
	c.mu.Unlock()
	return nb, nil
}

func (c *Client) open(ctx context.Context, name string) (*notebook.Notebook, error) {
	if name == "" {
		name = c.Root().Name() + "-" + uuid.NewString()[:8]
	}
	return c.Root().Clone(ctx, notebook.CloneOptions{Name: name, RecreateSession: true})
}

// ExportJob streams the rows of SQL into Writer.
type ExportJob struct {
	Name   string
	SQL    string
	Writer notebook.RowWriter
}

// Export runs every job on its own notebook, at most limit at a time, and streams each result
// into its writer. The row counts come back in job order. Each notebook is closed once its
// job is done.
func (c *Client) Export(ctx context.Context, jobs []ExportJob, limit int, onDone func(done, total int)) []BatchResult[int] {
	return Batch(ctx, jobs, limit, func(ctx context.Context, _ int, job ExportJob) (int, error) {
		nb, err := c.open(ctx, job.Name)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := nb.Close(context.WithoutCancel(ctx)); cerr != nil {
				c.log.Warn("closing export notebook failed", slog.String("notebook", nb.Name()),
					slog.String("error", cerr.Error()))
			}
		}()

		res, err := nb.Execute(ctx, job.SQL, notebook.ExecOptions{Sync: true})
		if err != nil {
			return 0, err
		}
		w := &countingWriter{RowWriter: job.Writer}
		if err := res.Stream(ctx, w); err != nil {
			return w.rows, err
		}
		c.log.Info("export finished", slog.String("notebook", nb.Name()), slog.Int("rows", w.rows))
		return w.rows, nil
	}, onDone)
}

type countingWriter struct {
	notebook.RowWriter
	rows int
}

func (w *countingWriter) WriteRows(rows [][]any) error {
	if err := w.RowWriter.WriteRows(rows); err != nil {
		return err
	}
	w.rows += len(rows)
	return nil
}

// Close closes every pool worker and standalone notebook, then logs out. Every step is
// attempted; errors are combined.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	extra := c.extra
	c.extra = nil
	c.mu.Unlock()

	var errs *multierror.Error
	if err := c.sched.Pool().Close(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, nb := range extra {
		if err := nb.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", nb.Name(), err))
		}
	}
	if err := c.api.Logout(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("logout: %w", err))
	}
	c.log.Debug("client closed")
	return errs.ErrorOrNil()
}
