// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package notebook

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"hueq/cli/internal/backend"
	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/logging"
)

// Priorities accepted by SetPriority, highest first.
var Priorities = []string{"VERY_HIGH", "HIGH", "NORMAL", "LOW", "VERY_LOW"}

// Notebook is one remote workspace with one execution session. It runs one statement at a
// time; a Notebook is not meant to be shared between goroutines while a statement runs.
type Notebook struct {
	api         backend.API
	factory     *Factory
	cfg         Config
	log         *slog.Logger
	name        string
	description string

	mu       sync.Mutex
	settings map[string]string
	doc      backend.Document
	session  backend.EngineSession
	leased   bool
	lastUsed time.Time
	snippet  *backend.Snippet
	result   *Result
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	// Database defaults to the factory's database.
	Database string
	// Sync blocks until the statement is done.
	Sync bool
}

// CloneOptions tunes Clone.
type CloneOptions struct {
	Name        string
	Description string
	// Settings replaces the parent's engine settings when not nil.
	Settings map[string]string
	// RecreateSession opens a dedicated execution session instead of sharing the parent's.
	RecreateSession bool
}

func (n *Notebook) Name() string { return n.name }

// Document returns a copy of the workspace as last reported by the server.
func (n *Notebook) Document() backend.Document {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.doc
}

// Session returns the execution session the notebook currently uses.
func (n *Notebook) Session() backend.EngineSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

// Settings returns a copy of the engine settings.
func (n *Notebook) Settings() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return maps.Clone(n.settings)
}

// Result returns the result of the latest statement, or nil.
func (n *Notebook) Result() *Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

// Execute submits sql and returns its Result. With opts.Sync the call returns only once the
// statement is done; if ctx ends first the statement is cancelled, the session is rebuilt so
// the notebook stays usable, and ctx's error is returned.
func (n *Notebook) Execute(ctx context.Context, sql string, opts ExecOptions) (*Result, error) {
	res, err := n.submit(ctx, sql, opts)
	if err != nil {
		return nil, err
	}
	if !opts.Sync {
		return res, nil
	}

	if err := res.Await(ctx, n.cfg.PollInterval); err != nil {
		if ctx.Err() != nil {
			n.log.Warn("interrupted while waiting, cancelling statement", slog.String("sql", logging.SQL(sql)))
			if ierr := n.Interrupt(context.WithoutCancel(ctx)); ierr != nil {
				n.log.Warn("cleanup after interrupt failed", slog.String("error", ierr.Error()))
			}
			return res, ctx.Err()
		}
		return res, err
	}
	return res, nil
}

func (n *Notebook) submit(ctx context.Context, sql string, opts ExecOptions) (*Result, error) {
	database := opts.Database
	if database == "" {
		database = n.cfg.Database
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.snippet != nil {
		if err := n.api.CloseStatement(ctx, n.doc, *n.snippet); err != nil {
			n.log.Warn("closing previous statement failed", slog.String("error", err.Error()))
		}
		if n.result != nil {
			n.result.supersede()
		}
		n.snippet = nil
		n.result = nil
	}

	if n.sessionExpired() {
		n.log.Info("execution session expired, recreating",
			slog.Duration("idle", n.cfg.Now().Sub(n.lastUsed)))
		if err := n.recreateSession(ctx); err != nil {
			return nil, err
		}
	}

	snippet := newSnippet(sql, database, n.cfg.Engine, n.cfg.Now())
	doc := n.doc
	doc.Snippets = []backend.Snippet{snippet}

	n.log.Info("executing sql", slog.String("sql", logging.SQL(sql)))
	reply, err := n.api.Execute(ctx, doc, snippet)
	if err != nil {
		return nil, err
	}
	if reply.Status == -1 {
		n.log.Warn("server reported an invalid session, recreating", slog.String("message", reply.Message))
		if err := n.recreateSession(ctx); err != nil {
			return nil, err
		}
		doc = n.doc
		doc.Snippets = []backend.Snippet{snippet}
		if reply, err = n.api.Execute(ctx, doc, snippet); err != nil {
			return nil, err
		}
	}
	n.lastUsed = n.cfg.Now()

	if reply.HistoryUUID != "" {
		doc.ID = reply.HistoryID
		doc.UUID = reply.HistoryUUID
		doc.IsHistory = true
		doc.IsBatchable = true
	}
	n.doc = doc

	if reply.Status != 0 {
		msg := reply.Message
		if msg == "" {
			msg = fmt.Sprintf("statement rejected with status %d", reply.Status)
		}
		n.log.Error("statement rejected", slog.String("sql", logging.SQL(sql)), slog.String("message", msg))
		return nil, herrors.New(herrors.RemoteExecution, msg)
	}

	snippet.Result.Handle = reply.Handle
	snippet.Status = "running"
	n.snippet = &snippet
	n.result = newResult(n, doc, snippet)
	return n.result, nil
}

// Interrupt cancels the running statement and rebuilds the execution session so the notebook
// can take the next statement.
func (n *Notebook) Interrupt(ctx context.Context) error {
	n.mu.Lock()
	res := n.result
	n.mu.Unlock()

	var errs *multierror.Error
	if res != nil {
		errs = multierror.Append(errs, res.Cancel(ctx))
	}
	n.mu.Lock()
	errs = multierror.Append(errs, n.recreateSession(ctx))
	n.mu.Unlock()
	return errs.ErrorOrNil()
}

// Clone creates a sibling notebook with its own workspace. By default it shares this
// notebook's execution session, which is cheap but serializes their statements on the server.
func (n *Notebook) Clone(ctx context.Context, opts CloneOptions) (*Notebook, error) {
	settings := opts.Settings
	if settings == nil {
		settings = n.Settings()
	} else {
		settings = maps.Clone(settings)
	}
	if opts.RecreateSession {
		return n.factory.create(ctx, opts.Name, opts.Description, settings)
	}

	n.mu.Lock()
	session, lastUsed := n.session, n.lastUsed
	n.mu.Unlock()
	return n.factory.attach(ctx, opts.Name, opts.Description, settings, session, lastUsed)
}

// SetEngineSetting records key=value for future sessions and applies it to the live one.
func (n *Notebook) SetEngineSetting(ctx context.Context, key, value string) (*Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, herrors.New(herrors.InvalidArgument, "setting key is empty")
	}
	n.mu.Lock()
	n.settings[key] = value
	n.mu.Unlock()
	return n.Execute(ctx, fmt.Sprintf("SET %s=%s", key, value), ExecOptions{Sync: true})
}

// UnsetEngineSetting forgets key. The live session keeps its value until it is recreated.
func (n *Notebook) UnsetEngineSetting(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.settings, key)
}

// SetPriority sets the job priority of the live session.
func (n *Notebook) SetPriority(ctx context.Context, priority string) (*Result, error) {
	p := strings.ToUpper(strings.TrimSpace(priority))
	if !slices.Contains(Priorities, p) {
		return nil, herrors.New(herrors.InvalidArgument,
			fmt.Sprintf("priority %q is not one of %s", priority, strings.Join(Priorities, ", ")))
	}
	return n.Execute(ctx, "SET mapreduce.job.priority="+p, ExecOptions{Sync: true})
}

// ClearHistory drops the execution history the workspace accumulated.
func (n *Notebook) ClearHistory(ctx context.Context) error {
	n.log.Info("clearing history")
	return n.api.ClearHistory(ctx, n.Document(), n.cfg.Engine)
}

// Close closes the open statement, then the workspace. Both are attempted.
func (n *Notebook) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs *multierror.Error
	if n.snippet != nil {
		errs = multierror.Append(errs, n.api.CloseStatement(ctx, n.doc, *n.snippet))
		n.snippet = nil
	}
	if n.result != nil {
		n.result.supersede()
		n.result = nil
	}
	n.log.Info("closing notebook")
	n.releaseSession()
	errs = multierror.Append(errs, n.api.CloseNotebook(ctx, n.doc))
	return errs.ErrorOrNil()
}

// touch marks the execution session as used now.
func (n *Notebook) touch() {
	n.mu.Lock()
	n.lastUsed = n.cfg.Now()
	n.mu.Unlock()
}

func (n *Notebook) current(r *Result) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result == r
}

// The helpers below must be called with n.mu held.

func (n *Notebook) sessionExpired() bool {
	return n.cfg.SessionTimeout > 0 && n.cfg.Now().Sub(n.lastUsed) > n.cfg.SessionTimeout
}

// recreateSession moves the notebook to a new execution session. The old one is closed only
// when no other notebook still runs on it.
func (n *Notebook) recreateSession(ctx context.Context) error {
	if n.releaseSession() {
		if err := n.api.CloseSession(ctx, n.session); err != nil {
			n.log.Warn("closing session failed", slog.String("error", err.Error()))
		}
	} else {
		n.log.Debug("leaving shared session to other notebooks", slog.Int64("session", n.session.ID))
	}
	return n.createSession(ctx)
}

// releaseSession gives up the notebook's hold on its session and reports whether it was the
// last holder.
func (n *Notebook) releaseSession() bool {
	if !n.leased {
		return false
	}
	n.leased = false
	return n.factory.release(n.session)
}

func (n *Notebook) createSession(ctx context.Context) error {
	n.log.Info("creating session")
	s, err := n.api.CreateSession(ctx, n.doc, n.cfg.Engine, settingsList(n.settings))
	if err != nil {
		return err
	}
	n.session = s
	n.leased = true
	n.factory.acquire(s)
	n.doc.Sessions = []backend.EngineSession{s}
	n.lastUsed = n.cfg.Now()
	return nil
}

// settingsList renders settings in key order.
func settingsList(settings map[string]string) []backend.Setting {
	out := make([]backend.Setting, 0, len(settings))
	for _, k := range slices.Sorted(maps.Keys(settings)) {
		out = append(out, backend.Setting{Key: k, Value: settings[k]})
	}
	return out
}
