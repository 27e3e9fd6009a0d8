// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

// Document is the notebook workspace as the server describes it. It is sent back verbatim
// (as a JSON form field) on every statement call.
type Document struct {
	ID                   *int64          `json:"id"`
	UUID                 string          `json:"uuid"`
	ParentSavedQueryUUID *string         `json:"parentSavedQueryUuid"`
	IsSaved              bool            `json:"isSaved"`
	IsHistory            bool            `json:"isHistory"`
	IsBatchable          bool            `json:"isBatchable"`
	Sessions             []EngineSession `json:"sessions"`
	Type                 string          `json:"type"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Snippets             []Snippet       `json:"snippets,omitempty"`
}

// EngineSession is the server-side execution slot bound to a notebook.
type EngineSession struct {
	ID         int64             `json:"id,omitempty"`
	Type       string            `json:"type"`
	Properties []SessionProperty `json:"properties,omitempty"`
}

// SessionProperty is one entry of EngineSession.Properties. For the "settings" key the value
// is a list of Setting.
type SessionProperty struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Setting is a single engine tuning parameter, equivalent to SET key=value.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Handle is the opaque remote cursor of an executed statement.
type Handle map[string]any

// Snippet is one statement submission inside a notebook.
type Snippet struct {
	ID                     string            `json:"id"`
	Type                   string            `json:"type"`
	Status                 string            `json:"status"`
	StatementType          string            `json:"statementType"`
	Statement              string            `json:"statement"`
	StatementRaw           string            `json:"statement_raw"`
	StatementsList         []string          `json:"statementsList"`
	StatementPath          string            `json:"statementPath"`
	AssociatedDocumentUUID *string           `json:"associatedDocumentUuid"`
	Properties             SnippetProperties `json:"properties"`
	Result                 SnippetResult     `json:"result"`
	Database               string            `json:"database"`
	LastExecuted           int64             `json:"lastExecuted"`
	WasBatchExecuted       bool              `json:"wasBatchExecuted"`
}

type SnippetProperties struct {
	Settings  []Setting `json:"settings"`
	Files     []any     `json:"files"`
	Functions []any     `json:"functions"`
	Arguments []any     `json:"arguments"`
}

type SnippetResult struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Handle          Handle `json:"handle"`
	StatementID     int    `json:"statement_id"`
	StatementsCount int    `json:"statements_count"`
	FetchedOnce     bool   `json:"fetchedOnce"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	ExecutionTime   int64  `json:"executionTime"`
}

// Reply is the envelope every notebook API answer shares. Status 0 means ok.
type Reply struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// ExecuteReply answers a statement submission. Status -1 means the engine session is no
// longer valid, status 1 means the statement was rejected.
type ExecuteReply struct {
	Reply
	Handle      Handle `json:"handle"`
	HistoryID   *int64 `json:"history_id"`
	HistoryUUID string `json:"history_uuid"`
}

// StatusReply answers a status check.
type StatusReply struct {
	Reply
	QueryStatus struct {
		Status string `json:"status"`
	} `json:"query_status"`
}

// Page is one bounded slice of result rows. Cells keep json.Number for numerics.
type Page struct {
	HasMore bool         `json:"has_more"`
	Data    [][]any      `json:"data"`
	Meta    []ColumnMeta `json:"meta"`
}

// ColumnMeta describes one result column. Name is usually qualified as table.column.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Job is a remote engine job referenced by the statement logs.
type Job struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Started  bool   `json:"started"`
	Finished bool   `json:"finished"`
}

// LogsReply answers an incremental log request.
type LogsReply struct {
	Reply
	Logs       string `json:"logs"`
	Progress   int    `json:"progress"`
	Jobs       []Job  `json:"jobs"`
	IsFullLogs bool   `json:"isFullLogs"`
}
