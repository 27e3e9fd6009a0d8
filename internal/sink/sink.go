// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sink holds the destinations a query result can be streamed into: delimited files,
// Parquet files and Postgres tables. Every sink receives the header once and then pages of
// rows, so a result never has to be held in memory as a whole.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	herrors "hueq/cli/internal/errors"
)

// Writer is a row destination that must be closed to flush its output.
type Writer interface {
	WriteHeader(columns []string) error
	WriteRows(rows [][]any) error
	Close() error
}

// Format names a file sink.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatOf returns the format implied by path's extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", herrors.New(herrors.InvalidArgument,
			fmt.Sprintf("unsupported output %q: use a .csv or .parquet file", path))
	}
}

// Create creates the file at path, with any missing parent directories, and returns the sink
// for its format.
func Create(path string) (Writer, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	switch format {
	case FormatParquet:
		return NewParquet(f), nil
	default:
		return NewCSV(f), nil
	}
}

// DefaultPath returns dir/name.<format>, adding the extension when name lacks it.
func DefaultPath(dir, name string, format Format) string {
	if !strings.EqualFold(filepath.Ext(name), "."+string(format)) {
		name += "." + string(format)
	}
	return filepath.Join(dir, name)
}

// formatCell renders a cell as text. ok is false for SQL NULL.
func formatCell(v any) (s string, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), true
		}
		return string(b), true
	default:
		return fmt.Sprint(t), true
	}
}

// Text renders a cell for display, showing SQL NULL as "NULL".
func Text(v any) string {
	if s, ok := formatCell(v); ok {
		return s
	}
	return "NULL"
}

// uniqueNames makes column names usable as field names: blanks become col_<i> and repeats
// get a numeric suffix.
func uniqueNames(columns []string) []string {
	out := make([]string, len(columns))
	used := make(map[string]bool, len(columns))
	suffix := map[string]int{}
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if name == "" {
			name = fmt.Sprintf("col_%d", i)
		}
		if used[name] {
			base := name
			for used[name] {
				suffix[base]++
				name = fmt.Sprintf("%s_%d", base, suffix[base])
			}
		}
		used[name] = true
		out[i] = name
	}
	return out
}
