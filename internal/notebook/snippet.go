// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package notebook

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hueq/cli/internal/backend"
)

// newSnippet builds the payload for one statement. Multi-statement text is split on ";".
func newSnippet(sql, database, engine string, now time.Time) backend.Snippet {
	statements := strings.Split(sql, ";")
	ts := timestamp(now)
	return backend.Snippet{
		ID:             uuid.NewString(),
		Type:           engine,
		Status:         "running",
		StatementType:  "text",
		Statement:      sql,
		StatementRaw:   sql,
		StatementsList: statements,
		Properties: backend.SnippetProperties{
			Settings:  []backend.Setting{},
			Files:     []any{},
			Functions: []any{},
			Arguments: []any{},
		},
		Result: backend.SnippetResult{
			ID:   uuid.NewString(),
			Type: "table",
			Handle: backend.Handle{
				"has_more_statements":     len(statements) > 1,
				"statement_id":            0,
				"statements_count":        len(statements),
				"previous_statement_hash": nil,
			},
			StatementsCount: len(statements),
			StartTime:       ts,
			EndTime:         ts,
		},
		Database:     database,
		LastExecuted: now.UnixMilli(),
	}
}

// timestamp renders t the way the editor UI does: UTC with milliseconds after a colon.
func timestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s:%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/int(time.Millisecond))
}
