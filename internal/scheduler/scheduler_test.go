// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hueq/cli/internal/backend/backendtest"
	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/notebook"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestClient(t *testing.T, fake *backendtest.Fake, mutate ...func(*ClientOptions)) *Client {
	t.Helper()
	opts := ClientOptions{Name: "root", Sleep: noSleep}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewClient(context.Background(), fake, notebook.Config{}, opts)
	require.NoError(t, err)
	return c
}

func rowsOf(t *testing.T, res *notebook.Result) [][]any {
	t.Helper()
	table, err := res.FetchAll(context.Background())
	require.NoError(t, err)
	return table.Rows
}

func num(n int) json.Number { return json.Number(fmt.Sprint(n)) }

func TestRunSQLsIsolatesFailureAndKeepsOrder(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select 1", backendtest.Script{Columns: []string{"c"}, Rows: [][]any{{1}}})
	fake.Script("bad sql", backendtest.Script{Fail: true, Message: "ParseException line 1:0"})
	fake.Script("select 3", backendtest.Script{Columns: []string{"c"}, Rows: [][]any{{3}}})
	c := newTestClient(t, fake)

	out, err := c.RunSQLs(context.Background(), []string{"select 1", "bad sql", "select 3"},
		RunOptions{Jobs: 2, Sync: true})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.NoError(t, out[0].Err)
	assert.Equal(t, [][]any{{num(1)}}, rowsOf(t, out[0].Result))

	require.Error(t, out[1].Err)
	assert.True(t, herrors.IsKind(out[1].Err, herrors.RemoteExecution))
	assert.Contains(t, out[1].Err.Error(), "ParseException")
	assert.True(t, out[1].Failed())

	require.NoError(t, out[2].Err)
	assert.Equal(t, [][]any{{num(3)}}, rowsOf(t, out[2].Result))

	assert.Equal(t, 3, fake.Calls("Execute"))
	assert.LessOrEqual(t, fake.MaxInFlight(), 2)
	for i, sql := range []string{"select 1", "bad sql", "select 3"} {
		assert.Equal(t, sql, out[i].SQL)
	}
}

func TestRunSQLsOrderIndependentOfCompletion(t *testing.T) {
	fake := backendtest.New()
	polls := []int{5, 0, 3, 0, 1}
	sqls := make([]string, len(polls))
	for i, p := range polls {
		sqls[i] = fmt.Sprintf("select %d", i)
		fake.Script(sqls[i], backendtest.Script{Columns: []string{"i"}, Rows: [][]any{{i}}, Polls: p})
	}
	c := newTestClient(t, fake)

	out, err := c.RunSQLs(context.Background(), sqls, RunOptions{Jobs: len(sqls), Sync: true})
	require.NoError(t, err)
	require.Len(t, out, len(sqls))
	for i := range sqls {
		require.NoError(t, out[i].Err)
		assert.Equal(t, [][]any{{num(i)}}, rowsOf(t, out[i].Result), "slot %d", i)
	}
}

func TestRunSQLsBoundsConcurrency(t *testing.T) {
	fake := backendtest.New()
	fake.Default = backendtest.Script{Polls: 2}
	c := newTestClient(t, fake)

	sqls := []string{"a", "b", "c", "d", "e", "f"}
	tracker := NewTracker(sqls)
	out, err := c.RunSQLs(context.Background(), sqls, RunOptions{Jobs: 2, Sync: true, Tracker: tracker})
	require.NoError(t, err)
	require.Len(t, out, len(sqls))
	for _, o := range out {
		assert.NoError(t, o.Err)
	}
	assert.Equal(t, 2, fake.MaxInFlight())
	assert.Equal(t, 2, tracker.MaxInFlight())
	assert.Equal(t, 0, tracker.InFlight())
	assert.Len(t, tracker.DoneOrder(), len(sqls))
	assert.False(t, tracker.HasFailures())
	for i, job := range tracker.Jobs() {
		assert.Equal(t, JobDone, job.State, "slot %d", i)
		assert.Equal(t, sqls[i], job.SQL)
	}
	assert.Equal(t, 6, fake.Calls("Execute"))
	assert.Equal(t, sqls, fake.Executed())
}

func TestRunSQLsTrackerRecordsFailures(t *testing.T) {
	fake := backendtest.New()
	fake.Script("bad sql", backendtest.Script{Fail: true, Message: "SemanticException"})
	c := newTestClient(t, fake)

	sqls := []string{"select 1", "bad sql"}
	tracker := NewTracker(sqls)
	_, err := c.RunSQLs(context.Background(), sqls, RunOptions{Jobs: 2, Sync: true, Tracker: tracker})
	require.NoError(t, err)
	assert.True(t, tracker.HasFailures())
	assert.Equal(t, JobFailed, tracker.Job(1).State)
	assert.Contains(t, tracker.Job(1).Reason, "SemanticException")

	_, err = c.RunSQLs(context.Background(), []string{"a"}, RunOptions{Sync: true, Tracker: NewTracker(sqls)})
	assert.True(t, herrors.IsKind(err, herrors.InvalidArgument))
	_, err = c.RunSQLs(context.Background(), sqls, RunOptions{Sync: true, Tracker: tracker})
	assert.True(t, herrors.IsKind(err, herrors.InvalidArgument))
}

func TestRunSQLsAsyncHandsBackRunningResults(t *testing.T) {
	fake := backendtest.New()
	fake.Default = backendtest.Script{Polls: 3}
	c := newTestClient(t, fake)

	sqls := []string{"a", "b", "c", "d"}
	out, err := c.RunSQLs(context.Background(), sqls, RunOptions{Jobs: 1})
	require.NoError(t, err)
	for _, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, notebook.StatusRunning, o.Result.Status())
	}
	assert.Equal(t, 4, fake.MaxInFlight(), "async submissions are not bounded")
	assert.Equal(t, 4, fake.Calls("CheckStatus"))

	require.NoError(t, out[0].Result.Await(context.Background(), time.Millisecond))
	assert.Equal(t, notebook.StatusAvailable, out[0].Result.Status())
}

func TestRunSQLsRejectedSubmissionSettlesSlot(t *testing.T) {
	fake := backendtest.New()
	fake.Script("nope", backendtest.Script{Reject: true, Message: "not allowed"})
	c := newTestClient(t, fake)

	var progress [][2]int
	out, err := c.RunSQLs(context.Background(), []string{"ok", "nope", "ok too"}, RunOptions{
		Jobs: 3,
		Sync: true,
		OnProgress: func(settled, total int) {
			progress = append(progress, [2]int{settled, total})
		},
	})
	require.NoError(t, err)
	assert.NoError(t, out[0].Err)
	assert.Nil(t, out[1].Result)
	assert.True(t, herrors.IsKind(out[1].Err, herrors.RemoteExecution))
	assert.NoError(t, out[2].Err)

	require.Len(t, progress, 3)
	assert.Equal(t, [2]int{3, 3}, progress[2])
}

func TestRunSQLsGrowsPoolOnlyWhenNeeded(t *testing.T) {
	fake := backendtest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	_, err := c.RunSQLs(ctx, []string{"a", "b", "c"}, RunOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Pool().Size())

	_, err = c.RunSQLs(ctx, []string{"a", "b"}, RunOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Pool().Size())

	_, err = c.RunSQLs(ctx, []string{"a", "b", "c", "d"}, RunOptions{Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Pool().Size())

	assert.Equal(t, 4, fake.Calls("CreateNotebook"))
	assert.Equal(t, 1, fake.Calls("CreateSession"), "workers share the root session")
	assert.Equal(t, "root-worker-1", c.Pool().Worker(1).Name())
}

func TestRunSQLsEmptyBatch(t *testing.T) {
	fake := backendtest.New()
	c := newTestClient(t, fake)

	out, err := c.RunSQLs(context.Background(), nil, RunOptions{Sync: true})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, fake.Calls("Execute"))
}

func TestRunSQLsPoolGrowthFailureAbortsBatch(t *testing.T) {
	fake := backendtest.New()
	fake.NotebookLimit = 2
	c := newTestClient(t, fake)

	out, err := c.RunSQLs(context.Background(), []string{"a", "b", "c"}, RunOptions{Sync: true})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, herrors.IsKind(err, herrors.PoolGrowFailed))
	assert.Equal(t, 2, c.Pool().Size(), "workers created before the failure are kept")
	assert.Zero(t, fake.Calls("Execute"))
}

func TestRunSQLsInterruptCancelsInFlight(t *testing.T) {
	fake := backendtest.New()
	fake.Default = backendtest.Script{Polls: 100}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	c := newTestClient(t, fake, func(o *ClientOptions) {
		o.Sleep = func(ctx context.Context, _ time.Duration) error {
			sleeps++
			if sleeps == 2 {
				cancel()
			}
			return ctx.Err()
		}
	})

	out, err := c.RunSQLs(ctx, []string{"a", "b", "c"}, RunOptions{Jobs: 2, Sync: true})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 3)

	for _, o := range out[:2] {
		assert.True(t, herrors.IsKind(o.Err, herrors.Cancelled))
	}
	assert.Nil(t, out[2].Result)
	assert.NoError(t, out[2].Err, "never submitted")
	assert.Equal(t, 2, fake.Calls("CancelStatement"))
	assert.Equal(t, 2, fake.Calls("Execute"))
}

func TestRunSQLsRecordsMetrics(t *testing.T) {
	fake := backendtest.New()
	fake.Script("bad", backendtest.Script{Fail: true})
	fake.Script("rejected", backendtest.Script{Reject: true})
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestClient(t, fake, func(o *ClientOptions) { o.Metrics = m })

	_, err := c.RunSQLs(context.Background(), []string{"ok", "bad", "rejected", "ok"}, RunOptions{Sync: true})
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.finished.WithLabelValues(outcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.finished.WithLabelValues(outcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.poolSize))
	assert.Equal(t, 2, testutil.CollectAndCount(m.finished))
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.submit()
		m.finish(outcomeOK, true, time.Second)
		m.setPoolSize(3)
	})
}
