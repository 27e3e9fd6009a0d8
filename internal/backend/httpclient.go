// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	herrors "hueq/cli/internal/errors"
)

// HTTP implements API over the notebook REST endpoints. Every payload is a form whose
// values are JSON documents.
type HTTP struct {
	session   *Session
	endpoints Endpoints
	log       *slog.Logger
}

var _ API = (*HTTP)(nil)

// Session returns the transport the client calls through.
func (h *HTTP) Session() *Session { return h.session }

// CreateNotebook calls create_notebook and returns the fresh workspace document.
func (h *HTTP) CreateNotebook(ctx context.Context, engine string) (Document, error) {
	var out struct {
		Reply
		Notebook Document `json:"notebook"`
	}
	form := url.Values{"type": {engine}, "directory_uuid": {""}}
	if err := h.post(ctx, h.endpoints.CreateNotebook, form, &out, nil); err != nil {
		return Document{}, err
	}
	if err := expectOK(out.Reply, "create notebook"); err != nil {
		return Document{}, err
	}
	return out.Notebook, nil
}

// CreateSession opens an execution slot with settings attached as session properties.
func (h *HTTP) CreateSession(ctx context.Context, doc Document, engine string, settings []Setting) (EngineSession, error) {
	if settings == nil {
		settings = []Setting{}
	}
	sessions := doc.Sessions
	if sessions == nil {
		sessions = []EngineSession{}
	}
	notebook := map[string]any{
		"id":                   nil,
		"uuid":                 doc.UUID,
		"parentSavedQueryUuid": nil,
		"isSaved":              doc.IsSaved,
		"sessions":             sessions,
		"type":                 doc.Type,
		"name":                 doc.Name,
		"description":          doc.Description,
	}
	session := EngineSession{
		Type:       engine,
		Properties: []SessionProperty{{Key: "settings", Value: settings}},
	}
	form, err := encodeForm(map[string]any{"notebook": notebook, "session": session})
	if err != nil {
		return EngineSession{}, err
	}

	var out struct {
		Reply
		Session EngineSession `json:"session"`
	}
	if err := h.post(ctx, h.endpoints.CreateSession, form, &out, nil); err != nil {
		return EngineSession{}, err
	}
	if err := expectOK(out.Reply, "create session"); err != nil {
		return EngineSession{}, err
	}
	return out.Session, nil
}

func (h *HTTP) CloseSession(ctx context.Context, session EngineSession) error {
	return h.simple(ctx, h.endpoints.CloseSession, "close session", map[string]any{"session": session})
}

func (h *HTTP) Execute(ctx context.Context, doc Document, snippet Snippet) (ExecuteReply, error) {
	form, err := encodeForm(map[string]any{"notebook": doc, "snippet": snippet})
	if err != nil {
		return ExecuteReply{}, err
	}
	var out ExecuteReply
	if err := h.post(ctx, h.endpoints.Execute+snippet.Type, form, &out, nil); err != nil {
		return ExecuteReply{}, err
	}
	return out, nil
}

func (h *HTTP) CheckStatus(ctx context.Context, docUUID string) (StatusReply, error) {
	form, err := encodeForm(map[string]any{"notebook": map[string]string{"id": docUUID}})
	if err != nil {
		return StatusReply{}, err
	}
	var out StatusReply
	if err := h.post(ctx, h.endpoints.CheckStatus, form, &out, nil); err != nil {
		return StatusReply{}, err
	}
	return out, nil
}

// FetchResult asks for one page. A proxy refusing the response is reported as
// proxy_overloaded without retrying, since the same page size would be refused again.
func (h *HTTP) FetchResult(ctx context.Context, doc Document, snippet Snippet, rows int, startOver bool) (Page, error) {
	form, err := encodeForm(map[string]any{
		"notebook":  doc,
		"snippet":   snippet,
		"rows":      strconv.Itoa(rows),
		"startOver": strconv.FormatBool(startOver),
	})
	if err != nil {
		return Page{}, err
	}

	check := func(resp *Response) error {
		if proxyRefused(resp.Code) {
			return herrors.New(herrors.ProxyOverloaded,
				fmt.Sprintf("proxy refused a page of %d rows with status %d", rows, resp.Code))
		}
		return nil
	}
	var out struct {
		Reply
		Result Page `json:"result"`
	}
	if err := h.post(ctx, h.endpoints.FetchResult, form, &out, check); err != nil {
		return Page{}, err
	}
	if err := expectOK(out.Reply, "fetch result"); err != nil {
		return Page{}, err
	}
	return out.Result, nil
}

func (h *HTTP) GetLogs(ctx context.Context, doc Document, snippet Snippet, from int, jobs []Job) (LogsReply, error) {
	if jobs == nil {
		jobs = []Job{}
	}
	form, err := encodeForm(map[string]any{
		"notebook": doc,
		"snippet":  snippet,
		"from":     strconv.Itoa(from),
		"jobs":     jobs,
		"full_log": "",
	})
	if err != nil {
		return LogsReply{}, err
	}
	var out LogsReply
	if err := h.post(ctx, h.endpoints.GetLogs, form, &out, nil); err != nil {
		return LogsReply{}, err
	}
	return out, expectOK(out.Reply, "get logs")
}

func (h *HTTP) CancelStatement(ctx context.Context, doc Document, snippet Snippet) error {
	return h.simple(ctx, h.endpoints.CancelStatement, "cancel statement",
		map[string]any{"notebook": doc, "snippet": snippet})
}

func (h *HTTP) CloseStatement(ctx context.Context, doc Document, snippet Snippet) error {
	return h.simple(ctx, h.endpoints.CloseStatement, "close statement",
		map[string]any{"notebook": doc, "snippet": snippet})
}

func (h *HTTP) CloseNotebook(ctx context.Context, doc Document) error {
	return h.simple(ctx, h.endpoints.CloseNotebook, "close notebook", map[string]any{"notebook": doc})
}

func (h *HTTP) ClearHistory(ctx context.Context, doc Document, engine string) error {
	return h.simple(ctx, h.endpoints.ClearHistory, "clear history",
		map[string]any{"notebook": doc, "doc_type": engine})
}

func (h *HTTP) Logout(ctx context.Context) error {
	return h.session.Logout(ctx)
}

// simple posts fields and only checks the reply status.
func (h *HTTP) simple(ctx context.Context, path, op string, fields map[string]any) error {
	form, err := encodeForm(fields)
	if err != nil {
		return err
	}
	var out Reply
	if err := h.post(ctx, path, form, &out, nil); err != nil {
		return err
	}
	return expectOK(out, op)
}

func (h *HTTP) post(ctx context.Context, path string, form url.Values, out any, check func(*Response) error) error {
	resp, err := h.session.Call(ctx, Request{Method: http.MethodPost, Path: path, Form: form, Check: check})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		h.log.Debug("undecodable response", slog.String("path", path), slog.Int("status", resp.Code))
		return herrors.Wrap(herrors.Transport, "decode "+path, err)
	}
	return nil
}

// encodeForm renders every non-string field as JSON.
func encodeForm(fields map[string]any) (url.Values, error) {
	form := url.Values{}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			form.Set(k, s)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, herrors.Wrap(herrors.InvalidArgument, "encode "+k, err)
		}
		form.Set(k, string(b))
	}
	return form, nil
}

func expectOK(r Reply, op string) error {
	if r.Status == 0 {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", r.Status)
	}
	return herrors.New(herrors.RemoteExecution, op+": "+msg)
}

func proxyRefused(code int) bool {
	switch code {
	case http.StatusRequestEntityTooLarge, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
