// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	herrors "hueq/cli/internal/errors"
)

// maxBindParams is the Postgres limit on parameters per statement.
const maxBindParams = 65535

// Postgres loads rows into a table, creating it with one text column per result column when
// it does not exist. Each WriteRows call is one transaction.
type Postgres struct {
	ctx    context.Context
	db     *sql.DB
	ownsDB bool
	table  pgx.Identifier

	columns []string
	insert  string
}

// OpenPostgres connects to dsn and returns a sink for table ("name" or "schema.name").
// ctx bounds every statement the sink runs.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	db, _, err := connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	p, err := NewPostgres(ctx, db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// VerifyPostgres checks that dsn is reachable and returns its normalized form.
func VerifyPostgres(ctx context.Context, dsn string) (string, error) {
	db, parsed, err := connect(ctx, dsn)
	if err != nil {
		return "", err
	}
	_ = db.Close()
	return parsed.String(), nil
}

func connect(ctx context.Context, dsn string) (*sql.DB, *PostgresDSN, error) {
	parsed, err := ParsePostgresDSN(dsn)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("pgx", parsed.String())
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect to postgres at %s:%s: %w", parsed.Host, parsed.Port, err)
	}
	return db, parsed, nil
}

// NewPostgres returns a sink over an existing handle. Close leaves db open.
func NewPostgres(ctx context.Context, db *sql.DB, table string) (*Postgres, error) {
	ident, err := parseTable(table)
	if err != nil {
		return nil, err
	}
	return &Postgres{ctx: ctx, db: db, table: ident}, nil
}

func parseTable(table string) (pgx.Identifier, error) {
	parts := strings.Split(strings.TrimSpace(table), ".")
	if len(parts) > 2 {
		return nil, herrors.New(herrors.InvalidArgument, fmt.Sprintf("table %q has more than two parts", table))
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, herrors.New(herrors.InvalidArgument, fmt.Sprintf("table name %q is incomplete", table))
		}
	}
	return pgx.Identifier(parts), nil
}

func (p *Postgres) WriteHeader(columns []string) error {
	if len(columns) == 0 {
		return herrors.New(herrors.InvalidArgument, "result has no columns")
	}
	p.columns = uniqueNames(columns)

	quoted := make([]string, len(p.columns))
	defs := make([]string, len(p.columns))
	for i, c := range p.columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		defs[i] = quoted[i] + " text"
	}
	table := p.table.Sanitize()
	p.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := p.db.ExecContext(p.ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) WriteRows(rows [][]any) error {
	if p.insert == "" {
		return fmt.Errorf("postgres rows written before header")
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(p.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	perStmt := max(1, maxBindParams/len(p.columns))
	for start := 0; start < len(rows); start += perStmt {
		chunk := rows[start:min(start+perStmt, len(rows))]
		query, args, err := p.statement(chunk)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(p.ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert into %s: %w", p.table.Sanitize(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (p *Postgres) statement(rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString(p.insert)
	args := make([]any, 0, len(rows)*len(p.columns))
	for i, row := range rows {
		if len(row) != len(p.columns) {
			return "", nil, fmt.Errorf("row has %d cells, header has %d", len(row), len(p.columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, textArg(v))
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

func textArg(v any) any {
	s, ok := formatCell(v)
	if !ok {
		return nil
	}
	return s
}

func (p *Postgres) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}
