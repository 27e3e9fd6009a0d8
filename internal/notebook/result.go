// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package notebook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hueq/cli/internal/backend"
	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/retry"
)

// Status is the client-side state of a submitted statement.
type Status string

const (
	StatusRunning   Status = "running"
	StatusAvailable Status = "available"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool { return s != StatusRunning }

// remote statuses that end a statement unsuccessfully
var failedStatuses = map[string]bool{
	"failed":    true,
	"expired":   true,
	"canceled":  true,
	"cancelled": true,
	"error":     true,
}

// Result is the state machine of one submitted statement. Rows can be read once the status
// is available. A Result is invalidated when its notebook executes the next statement.
type Result struct {
	api       backend.API
	nb        *Notebook
	log       *slog.Logger
	now       func() time.Time
	sleep     retry.SleepFunc
	statement string
	doc       backend.Document
	snippet   backend.Snippet

	// RowsPerFetch is the page size. Lower it when the proxy struggles with large bodies;
	// Stream also halves it on its own when a page is refused.
	RowsPerFetch int

	superseded atomic.Bool

	mu        sync.Mutex
	status    Status
	message   string
	logCursor int
	logs      strings.Builder
	jobs      []backend.Job
	progress  int
}

func newResult(nb *Notebook, doc backend.Document, snippet backend.Snippet) *Result {
	return &Result{
		api:          nb.api,
		nb:           nb,
		log:          nb.log.With(slog.String("component", "result")),
		now:          nb.cfg.Now,
		sleep:        nb.cfg.Sleep,
		statement:    snippet.Statement,
		doc:          doc,
		snippet:      snippet,
		RowsPerFetch: nb.cfg.RowsPerFetch,
		status:       StatusRunning,
	}
}

// Statement returns the submitted text.
func (r *Result) Statement() string { return r.statement }

// Status returns the last known status without contacting the server.
func (r *Result) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Progress returns the last progress percentage reported alongside the logs.
func (r *Result) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Logs returns everything retrieved from the statement log so far.
func (r *Result) Logs() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs.String()
}

// Jobs returns the remote jobs seen in the logs.
func (r *Result) Jobs() []backend.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]backend.Job(nil), r.jobs...)
}

// ActiveJob returns the name of the latest unfinished remote job, or "".
func (r *Result) ActiveJob() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.jobs) - 1; i >= 0; i-- {
		if !r.jobs[i].Finished {
			return r.jobs[i].Name
		}
	}
	return ""
}

// Poll performs one status check. A statement the server reports as failed moves to
// StatusError: its logs are fetched and logged, and a remote_execution error is returned.
// Terminal results answer from memory.
func (r *Result) Poll(ctx context.Context) (Status, error) {
	r.mu.Lock()
	st := r.status
	r.mu.Unlock()
	if st.Terminal() {
		return st, r.terminalErr()
	}

	reply, err := r.api.CheckStatus(ctx, r.doc.UUID)
	if err != nil {
		return StatusRunning, err
	}

	remote := reply.QueryStatus.Status
	if reply.Status != 0 || failedStatuses[remote] {
		msg := reply.Message
		if msg == "" {
			msg = "statement " + remote
		}
		r.fail(ctx, msg)
		return StatusError, r.terminalErr()
	}

	if remote == string(StatusAvailable) {
		r.setStatus(StatusAvailable)
		return StatusAvailable, nil
	}
	r.nb.touch()
	return StatusRunning, nil
}

// IsReady performs one status check and reports whether rows can be fetched.
func (r *Result) IsReady(ctx context.Context) (bool, error) {
	st, err := r.Poll(ctx)
	return st == StatusAvailable, err
}

// Await polls every interval until the statement is done. There is no built-in deadline;
// bound ctx to get one.
func (r *Result) Await(ctx context.Context, interval time.Duration) error {
	start := r.now()
	for i := 1; ; i++ {
		r.log.Debug("awaiting result", slog.Int("poll", i), slog.Duration("elapsed", r.now().Sub(start)))
		st, err := r.Poll(ctx)
		if err != nil {
			return err
		}
		if st == StatusAvailable {
			r.log.Info("sql execution done", slog.Duration("elapsed", r.now().Sub(start)))
			return nil
		}
		if err := r.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Cancel asks the server to stop the statement.
func (r *Result) Cancel(ctx context.Context) error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.log.Info("cancelling statement", slog.String("sql", logging.SQL(r.statement)))
	if err := r.api.CancelStatement(ctx, r.doc, r.snippet); err != nil {
		return err
	}
	r.setStatus(StatusCancelled)
	return nil
}

// FetchLogs retrieves the log lines produced since the previous call, appends them to the
// accumulated log and returns them.
func (r *Result) FetchLogs(ctx context.Context) (string, error) {
	r.mu.Lock()
	from, jobs := r.logCursor, append([]backend.Job(nil), r.jobs...)
	r.mu.Unlock()

	reply, err := r.api.GetLogs(ctx, r.doc, r.snippet, from, jobs)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delta := ""
	// A reply of bare newlines carries no line, so the cursor stays put.
	if lines := strings.TrimRight(reply.Logs, "\n"); lines != "" {
		delta = lines + "\n"
		r.logs.WriteString(delta)
		r.logCursor += strings.Count(lines, "\n") + 1
	}
	r.jobs = mergeJobs(r.jobs, reply.Jobs)
	if reply.Progress > r.progress {
		r.progress = reply.Progress
	}
	return delta, nil
}

func (r *Result) fail(ctx context.Context, msg string) {
	if _, err := r.FetchLogs(ctx); err != nil {
		r.log.Warn("fetching logs of failed statement failed", slog.String("error", err.Error()))
	}
	r.mu.Lock()
	r.status = StatusError
	r.message = msg
	logs := r.logs.String()
	r.mu.Unlock()
	r.log.Error("statement failed",
		slog.String("sql", logging.SQL(r.statement)),
		slog.String("message", msg),
		slog.String("logs", logs))
}

func (r *Result) terminalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusError:
		return herrors.New(herrors.RemoteExecution, r.message)
	case StatusCancelled:
		return herrors.New(herrors.Cancelled, "statement cancelled")
	}
	return nil
}

func (r *Result) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Result) supersede() { r.superseded.Store(true) }

func (r *Result) usable() error {
	if r.superseded.Load() || !r.nb.current(r) {
		return herrors.New(herrors.InvalidArgument,
			fmt.Sprintf("result of %q was superseded by a later statement", logging.SQL(r.statement)))
	}
	if st := r.Status(); st != StatusAvailable {
		return herrors.New(herrors.ResultNotReady, fmt.Sprintf("result is %s", st))
	}
	return nil
}

// mergeJobs updates known jobs by name and appends new ones in order.
func mergeJobs(known, seen []backend.Job) []backend.Job {
	for _, j := range seen {
		replaced := false
		for i := range known {
			if known[i].Name == j.Name {
				known[i] = j
				replaced = true
				break
			}
		}
		if !replaced {
			known = append(known, j)
		}
	}
	return known
}
