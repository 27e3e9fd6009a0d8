// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package backend provides the authenticated transport to the remote notebook service and the
// notebook API spoken over it. Session is the single chokepoint for outbound calls: it logs in,
// carries the CSRF token and session cookie, re-authenticates when the server rejects a call and
// wraps every request in the retry policy. HTTP implements API on top of a Session.
package backend

import "context"

// API defines the remote notebook operations the client depends on.
// Implementations may call the real HTTP endpoints or provide fakes for tests.
type API interface {
	// CreateNotebook opens a new workspace of the given engine type.
	CreateNotebook(ctx context.Context, engine string) (Document, error)
	// CreateSession opens an execution slot for doc with the engine settings applied.
	CreateSession(ctx context.Context, doc Document, engine string, settings []Setting) (EngineSession, error)
	CloseSession(ctx context.Context, session EngineSession) error

	// Execute submits snippet. A non-zero reply status is returned as-is for the caller to interpret.
	Execute(ctx context.Context, doc Document, snippet Snippet) (ExecuteReply, error)
	CheckStatus(ctx context.Context, docUUID string) (StatusReply, error)
	// FetchResult returns one page of rows; startOver restarts pagination from row zero.
	FetchResult(ctx context.Context, doc Document, snippet Snippet, rows int, startOver bool) (Page, error)
	// GetLogs returns the statement log starting at line offset from.
	GetLogs(ctx context.Context, doc Document, snippet Snippet, from int, jobs []Job) (LogsReply, error)
	CancelStatement(ctx context.Context, doc Document, snippet Snippet) error
	CloseStatement(ctx context.Context, doc Document, snippet Snippet) error

	CloseNotebook(ctx context.Context, doc Document) error
	ClearHistory(ctx context.Context, doc Document, engine string) error

	// Logout invalidates the authenticated session. Calling it twice is harmless.
	Logout(ctx context.Context) error
}
