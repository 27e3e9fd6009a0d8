// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pterm/pterm"
)

// Options controls how NewLogger renders records.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Unknown values fall back to info.
	Level string
	// JSON switches the pterm logger to its JSON formatter.
	JSON bool
	// Writer receives the output; defaults to stderr so stdout stays clean for results.
	Writer io.Writer
}

// NewLogger returns a *slog.Logger whose records are rendered by pterm.
// Every component takes the returned handle explicitly; nothing here is global.
func NewLogger(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	pl := pterm.DefaultLogger.
		WithLevel(ParseLevel(opts.Level)).
		WithWriter(w)
	if opts.JSON {
		pl = pl.WithFormatter(pterm.LogFormatterJSON)
	}
	return slog.New(pterm.NewSlogHandler(pl))
}

// Discard returns a logger that drops every record. Intended for tests and library callers
// that do not care about diagnostics.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a configuration string to a pterm level.
func ParseLevel(level string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "off", "disabled":
		return pterm.LogLevelDisabled
	default:
		return pterm.LogLevelInfo
	}
}
