// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package notebook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hueq/cli/internal/backend"
	"hueq/cli/internal/backend/backendtest"
	herrors "hueq/cli/internal/errors"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestFactory(fake *backendtest.Fake, mutate ...func(*Config)) *Factory {
	cfg := Config{
		Settings: map[string]string{"b.key": "2", "a.key": "1"},
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewFactory(fake, cfg)
}

func newTestNotebook(t *testing.T, fake *backendtest.Fake, mutate ...func(*Config)) *Notebook {
	t.Helper()
	nb, err := newTestFactory(fake, mutate...).New(context.Background(), "test", "unit test")
	require.NoError(t, err)
	return nb
}

func TestFactoryNewCreatesWorkspaceAndSession(t *testing.T) {
	fake := backendtest.New()
	nb := newTestNotebook(t, fake)

	assert.Equal(t, 1, fake.Calls("CreateNotebook"))
	assert.Equal(t, 1, fake.Calls("CreateSession"))
	assert.Equal(t, "test", nb.Document().Name)
	assert.Equal(t, []backend.EngineSession{nb.Session()}, nb.Document().Sessions)

	settings := fake.SessionSettings()
	require.Len(t, settings, 1)
	assert.Equal(t, []backend.Setting{{Key: "a.key", Value: "1"}, {Key: "b.key", Value: "2"}}, settings[0])
}

func TestExecuteSyncWaitsForResult(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select 1", backendtest.Script{Columns: []string{"c"}, Rows: [][]any{{1}}, Polls: 2})

	sleeps := 0
	nb := newTestNotebook(t, fake, func(c *Config) {
		c.Sleep = func(context.Context, time.Duration) error { sleeps++; return nil }
	})

	res, err := nb.Execute(context.Background(), "select 1", ExecOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, res.Status())
	assert.Equal(t, 2, sleeps)
	assert.Equal(t, 3, fake.Calls("CheckStatus"))
	assert.Equal(t, "hist", nb.Document().UUID[:4])
	assert.True(t, nb.Document().IsHistory)

	table, err := res.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, table.Columns)
	assert.Equal(t, [][]any{{jsonNumber("1")}}, table.Rows)
}

func TestExecuteAsyncReturnsRunningResult(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select 1", backendtest.Script{Polls: 1})
	nb := newTestNotebook(t, fake)

	res, err := nb.Execute(context.Background(), "select 1", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, res.Status())
	assert.Equal(t, 0, fake.Calls("CheckStatus"))

	_, err = res.FetchAll(context.Background())
	assert.Equal(t, herrors.ResultNotReady, herrors.KindOf(err))

	ready, err := res.IsReady(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)
	ready, err = res.IsReady(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestSessionRenewal(t *testing.T) {
	fake := backendtest.New()
	clk := &clock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	nb := newTestNotebook(t, fake, func(c *Config) {
		c.SessionTimeout = 10 * time.Minute
		c.Now = clk.now
	})
	ctx := context.Background()

	clk.advance(5 * time.Minute)
	_, err := nb.Execute(ctx, "select 1", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, fake.Calls("CloseSession"))
	assert.Equal(t, 1, fake.Calls("CreateSession"))

	clk.advance(11 * time.Minute)
	_, err = nb.Execute(ctx, "select 2", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("CloseSession"))
	assert.Equal(t, 2, fake.Calls("CreateSession"))

	// The renewal reapplies the engine settings.
	settings := fake.SessionSettings()
	require.Len(t, settings, 2)
	assert.Equal(t, settings[0], settings[1])
}

func TestExecuteClosesPreviousStatement(t *testing.T) {
	fake := backendtest.New()
	nb := newTestNotebook(t, fake)
	ctx := context.Background()

	first, err := nb.Execute(ctx, "select 1", ExecOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 0, fake.Calls("CloseStatement"))

	_, err = nb.Execute(ctx, "select 2", ExecOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("CloseStatement"))

	_, err = first.FetchAll(ctx)
	assert.Equal(t, herrors.InvalidArgument, herrors.KindOf(err))
}

func TestExecuteRejectedSubmission(t *testing.T) {
	fake := backendtest.New()
	fake.Script("selec 1", backendtest.Script{Reject: true, Message: "ParseException line 1:0"})
	nb := newTestNotebook(t, fake)

	res, err := nb.Execute(context.Background(), "selec 1", ExecOptions{Sync: true})
	assert.Nil(t, res)
	assert.Equal(t, herrors.RemoteExecution, herrors.KindOf(err))
	assert.Contains(t, err.Error(), "ParseException")
	assert.Nil(t, nb.Result())
}

func TestExecuteRecreatesInvalidSessionOnce(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select 1", backendtest.Script{InvalidSessionOnce: true})
	nb := newTestNotebook(t, fake)

	_, err := nb.Execute(context.Background(), "select 1", ExecOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("Execute"))
	assert.Equal(t, 1, fake.Calls("CloseSession"))
	assert.Equal(t, 2, fake.Calls("CreateSession"))
}

func TestExecuteRemoteFailureFetchesLogsFirst(t *testing.T) {
	fake := backendtest.New()
	fake.Script("bad sql", backendtest.Script{
		Fail:    true,
		Message: "Error while compiling statement",
		Logs:    []string{"INFO  : Compiling command", "ERROR : FAILED: SemanticException"},
	})
	nb := newTestNotebook(t, fake)

	res, err := nb.Execute(context.Background(), "bad sql", ExecOptions{Sync: true})
	require.Error(t, err)
	assert.Equal(t, herrors.RemoteExecution, herrors.KindOf(err))
	assert.Contains(t, err.Error(), "Error while compiling statement")
	assert.Equal(t, 1, fake.Calls("GetLogs"))
	require.NotNil(t, res)
	assert.Equal(t, StatusError, res.Status())
	assert.Contains(t, res.Logs(), "SemanticException")

	// Terminal results answer from memory.
	_, err = res.Poll(context.Background())
	assert.Equal(t, herrors.RemoteExecution, herrors.KindOf(err))
	assert.Equal(t, 1, fake.Calls("CheckStatus"))
}

func TestExecuteInterruptedCancelsAndRebuildsSession(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select slow", backendtest.Script{Polls: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupt := true
	nb := newTestNotebook(t, fake, func(c *Config) {
		c.Sleep = func(ctx context.Context, _ time.Duration) error {
			if interrupt {
				cancel()
				return ctx.Err()
			}
			return nil
		}
	})

	res, err := nb.Execute(ctx, "select slow", ExecOptions{Sync: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status())
	assert.Equal(t, 1, fake.Calls("CancelStatement"))
	assert.Equal(t, 1, fake.Calls("CloseSession"))
	assert.Equal(t, 2, fake.Calls("CreateSession"))

	// The notebook takes the next statement.
	interrupt = false
	_, err = nb.Execute(context.Background(), "select 1", ExecOptions{Sync: true})
	require.NoError(t, err)
}

func TestClone(t *testing.T) {
	fake := backendtest.New()
	nb := newTestNotebook(t, fake)
	ctx := context.Background()

	fast, err := nb.Clone(ctx, CloneOptions{Name: "worker-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("CreateNotebook"))
	assert.Equal(t, 1, fake.Calls("CreateSession"))
	assert.Equal(t, nb.Session(), fast.Session())
	assert.NotEqual(t, nb.Document().UUID, fast.Document().UUID)
	assert.Equal(t, nb.Settings(), fast.Settings())

	slow, err := nb.Clone(ctx, CloneOptions{Name: "isolated", RecreateSession: true, Settings: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, 3, fake.Calls("CreateNotebook"))
	assert.Equal(t, 2, fake.Calls("CreateSession"))
	assert.NotEqual(t, nb.Session().ID, slow.Session().ID)
	assert.Empty(t, slow.Settings())
}

func TestSharedSessionIsClosedByItsLastUser(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select slow", backendtest.Script{Polls: 5})
	clk := &clock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	root := newTestNotebook(t, fake, func(c *Config) {
		c.SessionTimeout = 10 * time.Minute
		c.Now = clk.now
	})
	ctx := context.Background()
	shared := root.Session()

	worker, err := root.Clone(ctx, CloneOptions{Name: "worker-1"})
	require.NoError(t, err)
	running, err := worker.Execute(ctx, "select slow", ExecOptions{})
	require.NoError(t, err)

	// The root renews after idling, the worker keeps the session its statement runs on.
	clk.advance(11 * time.Minute)
	_, err = root.Execute(ctx, "select 1", ExecOptions{})
	require.NoError(t, err)
	assert.Empty(t, fake.ClosedSessions())
	assert.NotEqual(t, shared.ID, root.Session().ID)
	assert.Equal(t, shared, worker.Session())

	status, err := running.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)

	// An interrupt on a sibling leaves the root's session alone.
	other, err := root.Clone(ctx, CloneOptions{Name: "worker-2"})
	require.NoError(t, err)
	require.NoError(t, other.Interrupt(ctx))
	assert.Empty(t, fake.ClosedSessions())

	// The worker is now the only user of the original session.
	require.NoError(t, worker.Interrupt(ctx))
	assert.Equal(t, []int64{shared.ID}, fake.ClosedSessions())
}

func TestEngineSettings(t *testing.T) {
	fake := backendtest.New()
	nb := newTestNotebook(t, fake)
	ctx := context.Background()

	_, err := nb.SetEngineSetting(ctx, "hive.exec.parallel", "true")
	require.NoError(t, err)
	assert.Equal(t, "true", nb.Settings()["hive.exec.parallel"])

	_, err = nb.SetPriority(ctx, "high")
	require.NoError(t, err)
	_, err = nb.SetPriority(ctx, "urgent")
	assert.Equal(t, herrors.InvalidArgument, herrors.KindOf(err))

	assert.Equal(t, []string{"SET hive.exec.parallel=true", "SET mapreduce.job.priority=HIGH"}, fake.Executed())

	nb.UnsetEngineSetting("hive.exec.parallel")
	assert.NotContains(t, nb.Settings(), "hive.exec.parallel")
}

func TestCloseAndClearHistory(t *testing.T) {
	fake := backendtest.New()
	nb := newTestNotebook(t, fake)
	ctx := context.Background()

	_, err := nb.Execute(ctx, "select 1", ExecOptions{Sync: true})
	require.NoError(t, err)
	require.NoError(t, nb.ClearHistory(ctx))
	require.NoError(t, nb.Close(ctx))

	assert.Equal(t, 1, fake.Calls("ClearHistory"))
	assert.Equal(t, 1, fake.Calls("CloseStatement"))
	assert.Equal(t, 1, fake.Calls("CloseNotebook"))
	assert.Nil(t, nb.Result())
}

func TestNewSnippet(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 89_000_000, time.UTC)
	s := newSnippet("SET a=1;select 1", "sales", "hive", now)

	assert.Equal(t, []string{"SET a=1", "select 1"}, s.StatementsList)
	assert.Equal(t, 2, s.Result.StatementsCount)
	assert.Equal(t, true, s.Result.Handle["has_more_statements"])
	assert.Equal(t, "2025-03-04T05:06:07:089Z", s.Result.StartTime)
	assert.Equal(t, "sales", s.Database)
	assert.Equal(t, now.UnixMilli(), s.LastExecuted)
	assert.NotEqual(t, s.ID, s.Result.ID)
	assert.NotNil(t, s.Properties.Files)
}
