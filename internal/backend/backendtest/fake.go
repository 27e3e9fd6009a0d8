// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package backendtest provides an in-memory backend.API for tests. Statements are scripted
// by their text; everything else behaves like a well-mannered server.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"hueq/cli/internal/backend"
	herrors "hueq/cli/internal/errors"
)

// Script describes how the fake answers one statement.
type Script struct {
	Columns []string
	Rows    [][]any
	// Polls is the number of status checks answered "running" before the outcome.
	Polls int
	// Fail makes the statement end as "failed" with Message.
	Fail    bool
	Message string
	// Reject makes the submission itself answer status 1.
	Reject bool
	// InvalidSessionOnce makes the first submission answer status -1.
	InvalidSessionOnce bool
	Logs               []string
}

// Fake implements backend.API. The zero value is not usable; call New.
type Fake struct {
	mu      sync.Mutex
	scripts map[string]*Script
	// Default answers statements without a script.
	Default Script
	// OverloadAbove makes FetchResult fail with proxy_overloaded when more rows are requested.
	// The cursor still advances past the refused page, as a real proxy drop would.
	OverloadAbove int
	// RefuseCall makes the n-th FetchResult call (1-based) fail with proxy_overloaded after
	// advancing the cursor.
	RefuseCall int
	// StatusErr is returned by every CheckStatus call when set.
	StatusErr error
	// NotebookLimit makes CreateNotebook fail once it has created that many workspaces.
	NotebookLimit int

	calls     map[string]int
	next      int
	stmts     map[string]*stmt
	inflight  int
	maxFlight int
	executed  []string
	settings  [][]backend.Setting
	closed    []int64
}

type stmt struct {
	script  Script
	polls   int
	cursor  int
	handled bool
}

func New() *Fake {
	return &Fake{
		scripts: map[string]*Script{},
		calls:   map[string]int{},
		stmts:   map[string]*stmt{},
	}
}

var _ backend.API = (*Fake)(nil)

// Script registers the behavior for sql.
func (f *Fake) Script(sql string, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[sql] = &s
}

// Calls returns how often op was called. Ops are the API method names.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Executed returns the submitted statements in order.
func (f *Fake) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// MaxInFlight returns the highest number of statements that were submitted but not yet
// reported done by CheckStatus.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight
}

// SessionSettings returns the settings of every CreateSession call.
func (f *Fake) SessionSettings() [][]backend.Setting {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]backend.Setting(nil), f.settings...)
}

// ClosedSessions returns the IDs passed to CloseSession, in call order.
func (f *Fake) ClosedSessions() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.closed...)
}

func (f *Fake) count(op string) {
	f.calls[op]++
}

func (f *Fake) CreateNotebook(_ context.Context, engine string) (backend.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateNotebook")
	if f.NotebookLimit > 0 && f.calls["CreateNotebook"] > f.NotebookLimit {
		return backend.Document{}, herrors.New(herrors.Transport, "create notebook: workspace limit reached")
	}
	f.next++
	return backend.Document{
		UUID:     "nb-" + strconv.Itoa(f.next),
		Type:     engine,
		Sessions: []backend.EngineSession{},
	}, nil
}

func (f *Fake) CreateSession(_ context.Context, _ backend.Document, engine string, settings []backend.Setting) (backend.EngineSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateSession")
	f.next++
	f.settings = append(f.settings, settings)
	return backend.EngineSession{ID: int64(f.next), Type: engine}, nil
}

func (f *Fake) CloseSession(_ context.Context, s backend.EngineSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CloseSession")
	f.closed = append(f.closed, s.ID)
	return nil
}

func (f *Fake) Execute(_ context.Context, _ backend.Document, snippet backend.Snippet) (backend.ExecuteReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Execute")

	script := f.Default
	if s, ok := f.scripts[snippet.Statement]; ok {
		if s.InvalidSessionOnce {
			s.InvalidSessionOnce = false
			return backend.ExecuteReply{Reply: backend.Reply{Status: -1, Message: "invalid session"}}, nil
		}
		script = *s
	}
	if script.Reject {
		return backend.ExecuteReply{Reply: backend.Reply{Status: 1, Message: script.Message}}, nil
	}

	f.executed = append(f.executed, snippet.Statement)
	f.next++
	id := int64(f.next)
	uuid := "hist-" + strconv.Itoa(f.next)
	f.stmts[uuid] = &stmt{script: script}
	f.inflight++
	f.maxFlight = max(f.maxFlight, f.inflight)
	return backend.ExecuteReply{
		HistoryID:   &id,
		HistoryUUID: uuid,
		Handle:      backend.Handle{"guid": uuid},
	}, nil
}

func (f *Fake) CheckStatus(_ context.Context, docUUID string) (backend.StatusReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CheckStatus")
	if f.StatusErr != nil {
		return backend.StatusReply{}, f.StatusErr
	}

	var reply backend.StatusReply
	s, ok := f.stmts[docUUID]
	if !ok {
		reply.Status = 1
		reply.Message = "unknown notebook " + docUUID
		return reply, nil
	}
	if s.polls < s.script.Polls {
		s.polls++
		reply.QueryStatus.Status = "running"
		return reply, nil
	}
	if !s.handled {
		s.handled = true
		f.inflight--
	}
	if s.script.Fail {
		reply.QueryStatus.Status = "failed"
		reply.Message = s.script.Message
		return reply, nil
	}
	reply.QueryStatus.Status = "available"
	return reply, nil
}

func (f *Fake) FetchResult(_ context.Context, doc backend.Document, _ backend.Snippet, rows int, startOver bool) (backend.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("FetchResult")

	s, ok := f.stmts[doc.UUID]
	if !ok {
		return backend.Page{}, herrors.New(herrors.RemoteExecution, "fetch result: unknown notebook "+doc.UUID)
	}
	if startOver {
		s.cursor = 0
	}
	end := min(s.cursor+rows, len(s.script.Rows))
	if (f.OverloadAbove > 0 && rows > f.OverloadAbove) || f.calls["FetchResult"] == f.RefuseCall {
		s.cursor = end
		return backend.Page{}, herrors.New(herrors.ProxyOverloaded, fmt.Sprintf("refused %d rows", rows))
	}

	page := backend.Page{HasMore: end < len(s.script.Rows), Data: [][]any{}}
	for _, row := range s.script.Rows[s.cursor:end] {
		page.Data = append(page.Data, cloneRow(row))
	}
	for _, c := range s.script.Columns {
		page.Meta = append(page.Meta, backend.ColumnMeta{Name: "t." + c, Type: "STRING_TYPE"})
	}
	s.cursor = end
	return page, nil
}

func (f *Fake) GetLogs(_ context.Context, doc backend.Document, _ backend.Snippet, from int, _ []backend.Job) (backend.LogsReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetLogs")

	var reply backend.LogsReply
	s, ok := f.stmts[doc.UUID]
	if !ok {
		return reply, nil
	}
	if from < len(s.script.Logs) {
		for _, line := range s.script.Logs[from:] {
			reply.Logs += line + "\n"
		}
	}
	reply.Jobs = []backend.Job{{Name: "job_" + doc.UUID, Started: true, Finished: s.handled}}
	reply.Progress = 50
	if s.handled {
		reply.Progress = 100
	}
	return reply, nil
}

func (f *Fake) CancelStatement(_ context.Context, doc backend.Document, _ backend.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CancelStatement")
	if s, ok := f.stmts[doc.UUID]; ok && !s.handled {
		s.handled = true
		f.inflight--
	}
	return nil
}

func (f *Fake) CloseStatement(context.Context, backend.Document, backend.Snippet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CloseStatement")
	return nil
}

func (f *Fake) CloseNotebook(context.Context, backend.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CloseNotebook")
	return nil
}

func (f *Fake) ClearHistory(context.Context, backend.Document, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ClearHistory")
	return nil
}

func (f *Fake) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Logout")
	return nil
}

// cloneRow copies row, turning Go ints into json.Number as the HTTP client would.
func cloneRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch n := v.(type) {
		case int:
			out[i] = json.Number(strconv.Itoa(n))
		case int64:
			out[i] = json.Number(strconv.FormatInt(n, 10))
		default:
			out[i] = v
		}
	}
	return out
}
