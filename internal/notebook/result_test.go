// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hueq/cli/internal/backend"
	"hueq/cli/internal/backend/backendtest"
	herrors "hueq/cli/internal/errors"
)

func jsonNumber(s string) json.Number { return json.Number(s) }

func numberedRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{i, "row-" + strconv.Itoa(i)}
	}
	return rows
}

func runToAvailable(t *testing.T, fake *backendtest.Fake, sql string) *Result {
	t.Helper()
	nb := newTestNotebook(t, fake)
	res, err := nb.Execute(context.Background(), sql, ExecOptions{Sync: true})
	require.NoError(t, err)
	return res
}

func TestFetchAllPaginationIsComplete(t *testing.T) {
	const pageSize = 4
	for _, total := range []int{0, pageSize - 1, pageSize, pageSize + 1, 3 * pageSize} {
		t.Run(fmt.Sprintf("rows=%d", total), func(t *testing.T) {
			fake := backendtest.New()
			fake.Script("select *", backendtest.Script{Columns: []string{"id", "name"}, Rows: numberedRows(total)})
			res := runToAvailable(t, fake, "select *")
			res.RowsPerFetch = pageSize

			table, err := res.FetchAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"id", "name"}, table.Columns)
			require.Len(t, table.Rows, total)
			for i, row := range table.Rows {
				assert.Equal(t, json.Number(strconv.Itoa(i)), row[0])
			}
			assert.Equal(t, max(1, (total+pageSize-1)/pageSize), fake.Calls("FetchResult"))
		})
	}
}

func TestFetchAllStartsOverEachTime(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select *", backendtest.Script{Columns: []string{"id", "name"}, Rows: numberedRows(5)})
	res := runToAvailable(t, fake, "select *")
	res.RowsPerFetch = 2

	first, err := res.FetchAll(context.Background())
	require.NoError(t, err)
	second, err := res.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFetchNormalizesCells(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select *", backendtest.Script{
		Columns: []string{"name", "n"},
		Rows: [][]any{
			{"&lt;b&gt;Caf&eacute;&lt;/b&gt;", 7},
			{"ｆｕｌｌ　ｗｉｄｔｈ", nil},
			{"Tom &amp; Jerry", true},
		},
	})
	res := runToAvailable(t, fake, "select *")

	table, err := res.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"<b>Café</b>", json.Number("7")},
		{"full width", nil},
		{"Tom & Jerry", true},
	}, table.Rows)
}

func TestNormalizeCellLeavesNonStrings(t *testing.T) {
	assert.Equal(t, 3.5, NormalizeCell(3.5))
	assert.Nil(t, NormalizeCell(nil))
	assert.Equal(t, "x2", NormalizeCell("x²"))
}

func TestColumnNames(t *testing.T) {
	got := columnNames([]backend.ColumnMeta{{Name: "db.t.id"}, {Name: "plain"}, {Name: "t."}})
	assert.Equal(t, []string{"id", "plain", ""}, got)
}

func TestStreamRecoversFromRefusedFirstPage(t *testing.T) {
	fake := backendtest.New()
	fake.OverloadAbove = 3
	fake.Script("select *", backendtest.Script{Columns: []string{"id", "name"}, Rows: numberedRows(10)})
	res := runToAvailable(t, fake, "select *")
	res.RowsPerFetch = 8

	table, err := res.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, table.Rows, 10)
	for i, row := range table.Rows {
		assert.Equal(t, json.Number(strconv.Itoa(i)), row[0])
	}
	assert.Equal(t, 2, res.RowsPerFetch)
}

func TestStreamRecoversFromRefusedLaterPage(t *testing.T) {
	fake := backendtest.New()
	fake.RefuseCall = 2
	fake.Script("select *", backendtest.Script{Columns: []string{"id", "name"}, Rows: numberedRows(10)})
	res := runToAvailable(t, fake, "select *")
	res.RowsPerFetch = 4

	var w recordingWriter
	require.NoError(t, res.Stream(context.Background(), &w))
	assert.Equal(t, 1, w.headers)
	require.Len(t, w.rows, 10)
	for i, row := range w.rows {
		assert.Equal(t, json.Number(strconv.Itoa(i)), row[0], "row %d", i)
	}
	assert.Equal(t, 2, res.RowsPerFetch)
}

func TestStreamGivesUpAtSingleRowPages(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select *", backendtest.Script{Columns: []string{"id"}, Rows: numberedRows(3)})
	res := runToAvailable(t, fake, "select *")
	res.RowsPerFetch = 1
	fake.RefuseCall = 1

	_, err := res.FetchAll(context.Background())
	assert.Equal(t, herrors.ProxyOverloaded, herrors.KindOf(err))
}

func TestStreamStopsOnWriterError(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select *", backendtest.Script{Columns: []string{"id", "name"}, Rows: numberedRows(3)})
	res := runToAvailable(t, fake, "select *")

	boom := fmt.Errorf("disk full")
	err := res.Stream(context.Background(), &recordingWriter{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestFetchLogsIsIncremental(t *testing.T) {
	fake := backendtest.New()
	fake.Script("select slow", backendtest.Script{Polls: 1, Logs: []string{"line 1", "line 2", "line 3"}})
	nb := newTestNotebook(t, fake)
	ctx := context.Background()

	res, err := nb.Execute(ctx, "select slow", ExecOptions{})
	require.NoError(t, err)

	delta, err := res.FetchLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\nline 3\n", delta)
	assert.Equal(t, 50, res.Progress())
	assert.NotEmpty(t, res.ActiveJob())

	delta, err = res.FetchLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, "line 1\nline 2\nline 3\n", res.Logs())

	require.NoError(t, res.Await(ctx, 0))
	_, err = res.FetchLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Progress())
	assert.Empty(t, res.ActiveJob())
}

// scriptedLogs answers GetLogs from a fixed list of replies and records the offsets asked for.
type scriptedLogs struct {
	*backendtest.Fake
	replies []string
	from    []int
}

func (s *scriptedLogs) GetLogs(_ context.Context, _ backend.Document, _ backend.Snippet, from int, _ []backend.Job) (backend.LogsReply, error) {
	s.from = append(s.from, from)
	var reply backend.LogsReply
	if len(s.replies) > 0 {
		reply.Logs, s.replies = s.replies[0], s.replies[1:]
	}
	return reply, nil
}

func TestFetchLogsCountsOnlyRealLines(t *testing.T) {
	api := &scriptedLogs{Fake: backendtest.New(), replies: []string{"\n", "line 1\n\nline 3", "\n\n", "line 4\n"}}
	api.Script("select slow", backendtest.Script{Polls: 3})
	nb, err := NewFactory(api, Config{}).New(context.Background(), "logs", "")
	require.NoError(t, err)
	ctx := context.Background()

	res, err := nb.Execute(ctx, "select slow", ExecOptions{})
	require.NoError(t, err)

	for range 4 {
		_, err := res.FetchLogs(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 0, 3, 3}, api.from)
	assert.Equal(t, "line 1\n\nline 3\nline 4\n", res.Logs())
}

func TestCancelIsNoopOnceDone(t *testing.T) {
	fake := backendtest.New()
	res := runToAvailable(t, fake, "select 1")

	require.NoError(t, res.Cancel(context.Background()))
	assert.Equal(t, 0, fake.Calls("CancelStatement"))
	assert.Equal(t, StatusAvailable, res.Status())
}

func TestPollTransportErrorKeepsRunning(t *testing.T) {
	fake := backendtest.New()
	nb := newTestNotebook(t, fake)
	res, err := nb.Execute(context.Background(), "select 1", ExecOptions{})
	require.NoError(t, err)

	fake.StatusErr = herrors.New(herrors.Transport, "connection reset")
	st, err := res.Poll(context.Background())
	assert.Equal(t, StatusRunning, st)
	assert.Equal(t, herrors.Transport, herrors.KindOf(err))
	assert.Equal(t, StatusRunning, res.Status())
}

type recordingWriter struct {
	headers int
	columns []string
	rows    [][]any
	err     error
}

func (w *recordingWriter) WriteHeader(columns []string) error {
	w.headers++
	w.columns = columns
	return w.err
}

func (w *recordingWriter) WriteRows(rows [][]any) error {
	w.rows = append(w.rows, rows...)
	return w.err
}
