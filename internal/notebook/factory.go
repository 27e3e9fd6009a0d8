// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package notebook implements the execution side of the client: a Notebook owns one remote
// workspace and one execution session and turns a statement into a Result, which polls the
// remote status and pages through rows once the statement is done.
//
// Notebooks are built by a Factory from a configuration value and a shared backend.API, so
// new workers never copy mutable transport state from an existing notebook.
package notebook

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"hueq/cli/internal/backend"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/retry"
)

const (
	DefaultEngine         = "hive"
	DefaultDatabase       = "default"
	DefaultRowsPerFetch   = 65535
	DefaultSessionTimeout = 600 * time.Second
	DefaultPollInterval   = 3 * time.Second
)

// PerformanceSettings returns the engine settings applied to new sessions unless the caller
// supplies its own.
func PerformanceSettings() map[string]string {
	return map[string]string{
		"hive.execution.engine":                    "tez",
		"hive.exec.parallel.thread":                "true",
		"hive.exec.dynamic.partition.mode":         "nonstrict",
		"hive.vectorized.execution.reduce.enabled": "true",
		"hive.tez.auto.reducer.parallelism":        "true",
	}
}

// Config is the value every notebook of a client is built from.
type Config struct {
	Engine   string
	Database string
	// Settings are applied to every session the factory opens. Nil means none.
	Settings map[string]string
	// SessionTimeout is the idle window after which the execution session is recreated
	// before the next statement. Zero disables the check.
	SessionTimeout time.Duration
	RowsPerFetch   int
	PollInterval   time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
	Sleep          retry.SleepFunc
}

func (c Config) withDefaults() Config {
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.RowsPerFetch <= 0 {
		c.RowsPerFetch = DefaultRowsPerFetch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = retry.SleepContext
	}
	return c
}

// Factory creates notebooks bound to one API. It counts the notebooks running on each
// execution session so a shared session is closed only by its last user.
type Factory struct {
	api backend.API
	cfg Config

	mu    sync.Mutex
	users map[int64]int
}

// NewFactory returns a Factory that builds notebooks from cfg.
func NewFactory(api backend.API, cfg Config) *Factory {
	return &Factory{api: api, cfg: cfg.withDefaults(), users: map[int64]int{}}
}

func (f *Factory) acquire(s backend.EngineSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[s.ID]++
}

// release drops one user of s and reports whether it was the last one.
func (f *Factory) release(s backend.EngineSession) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[s.ID]--
	if f.users[s.ID] > 0 {
		return false
	}
	delete(f.users, s.ID)
	return true
}

// Config returns the configuration notebooks are built from.
func (f *Factory) Config() Config { return f.cfg }

// New creates a workspace and an execution session for it: two remote round trips.
func (f *Factory) New(ctx context.Context, name, description string) (*Notebook, error) {
	return f.create(ctx, name, description, maps.Clone(f.cfg.Settings))
}

func (f *Factory) create(ctx context.Context, name, description string, settings map[string]string) (*Notebook, error) {
	nb := f.blank(name, description, settings)
	nb.log.Info("creating notebook")

	doc, err := f.api.CreateNotebook(ctx, f.cfg.Engine)
	if err != nil {
		return nil, err
	}
	doc.Name = name
	doc.Description = description
	nb.doc = doc

	nb.mu.Lock()
	defer nb.mu.Unlock()
	if err := nb.createSession(ctx); err != nil {
		return nil, err
	}
	return nb, nil
}

// attach creates a workspace that reuses an existing execution session.
func (f *Factory) attach(ctx context.Context, name, description string, settings map[string]string,
	session backend.EngineSession, lastUsed time.Time) (*Notebook, error) {
	nb := f.blank(name, description, settings)
	nb.log.Debug("creating notebook on a shared session")

	doc, err := f.api.CreateNotebook(ctx, f.cfg.Engine)
	if err != nil {
		return nil, err
	}
	doc.Name = name
	doc.Description = description
	doc.Sessions = []backend.EngineSession{session}
	nb.doc = doc
	nb.session = session
	nb.leased = true
	nb.lastUsed = lastUsed
	f.acquire(session)
	return nb, nil
}

func (f *Factory) blank(name, description string, settings map[string]string) *Notebook {
	if settings == nil {
		settings = map[string]string{}
	}
	return &Notebook{
		api:         f.api,
		factory:     f,
		cfg:         f.cfg,
		log:         f.cfg.Logger.With(slog.String("component", "notebook"), slog.String("notebook", name)),
		name:        name,
		description: description,
		settings:    settings,
	}
}
