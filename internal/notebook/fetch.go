// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package notebook

import (
	"context"
	"html"
	"log/slog"
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"

	"hueq/cli/internal/backend"
	herrors "hueq/cli/internal/errors"
)

// RowWriter receives a result page by page. WriteHeader is called once, before any rows.
type RowWriter interface {
	WriteHeader(columns []string) error
	WriteRows(rows [][]any) error
}

// Table is a fully materialized result.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Page is one normalized slice of a result.
type Page struct {
	Columns []string
	Rows    [][]any
	HasMore bool
}

// FetchPage requests one page of RowsPerFetch rows. startOver restarts from row zero.
func (r *Result) FetchPage(ctx context.Context, startOver bool) (Page, error) {
	if err := r.usable(); err != nil {
		return Page{}, err
	}
	raw, err := r.api.FetchResult(ctx, r.doc, r.snippet, r.RowsPerFetch, startOver)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Columns: columnNames(raw.Meta),
		Rows:    normalizeRows(raw.Data),
		HasMore: raw.HasMore,
	}, nil
}

// FetchAll reads every page into memory.
func (r *Result) FetchAll(ctx context.Context) (Table, error) {
	var t collector
	if err := r.Stream(ctx, &t); err != nil {
		return Table{}, err
	}
	return t.table, nil
}

// Stream hands the result to w page by page without keeping rows around.
//
// When the proxy refuses a page, memory is reclaimed, the page size is halved and the read
// restarts from row zero, skipping the rows w already received. Restarting does not rely on
// the server cursor having stayed put after the refused response.
func (r *Result) Stream(ctx context.Context, w RowWriter) error {
	r.log.Info("fetching result")
	startOver := true
	headerDone := false
	delivered, skip := 0, 0

	for {
		page, err := r.FetchPage(ctx, startOver)
		if herrors.IsKind(err, herrors.ProxyOverloaded) && r.RowsPerFetch > 1 {
			runtime.GC()
			r.RowsPerFetch = max(1, r.RowsPerFetch/2)
			r.log.Warn("page refused by proxy, retrying with smaller pages",
				slog.Int("rows_per_fetch", r.RowsPerFetch),
				slog.Int("delivered", delivered))
			startOver, skip = true, delivered
			continue
		}
		if err != nil {
			return err
		}
		startOver = false

		if !headerDone {
			if err := w.WriteHeader(page.Columns); err != nil {
				return err
			}
			headerDone = true
		}

		rows := page.Rows
		if skip > 0 {
			n := min(skip, len(rows))
			rows, skip = rows[n:], skip-n
		}
		if len(rows) > 0 {
			if err := w.WriteRows(rows); err != nil {
				return err
			}
			delivered += len(rows)
		}
		if !page.HasMore {
			r.log.Debug("result exhausted", slog.Int("rows", delivered))
			return nil
		}
	}
}

type collector struct {
	table Table
}

func (c *collector) WriteHeader(columns []string) error {
	c.table.Columns = columns
	c.table.Rows = [][]any{}
	return nil
}

func (c *collector) WriteRows(rows [][]any) error {
	c.table.Rows = append(c.table.Rows, rows...)
	return nil
}

// NormalizeCell undoes the server's HTML escaping and applies NFKC to string cells.
// Other values are returned unchanged.
func NormalizeCell(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return norm.NFKC.String(html.UnescapeString(s))
}

func normalizeRows(data [][]any) [][]any {
	for _, row := range data {
		for i, cell := range row {
			row[i] = NormalizeCell(cell)
		}
	}
	return data
}

// columnNames drops the table qualifier: "t.id" becomes "id".
func columnNames(meta []backend.ColumnMeta) []string {
	out := make([]string, len(meta))
	for i, m := range meta {
		out[i] = m.Name[strings.LastIndex(m.Name, ".")+1:]
	}
	return out
}
