// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/retry"
)

const userAgent = "hueq-cli"

// Options configures a Session.
type Options struct {
	BaseURL  string
	Username string
	Password string
	// Timeout bounds a single HTTP exchange. Zero means 60 seconds.
	Timeout time.Duration
	// IdleTimeout forces a fresh login when the session saw no traffic for this long.
	// Zero disables idle expiry.
	IdleTimeout time.Duration
	Policy      retry.Policy
	Endpoints   Endpoints
	Logger      *slog.Logger
	// HTTPClient replaces the default client. Its Jar is replaced when nil.
	HTTPClient *http.Client
	Now        func() time.Time
}

// Session is one authenticated connection to the server. It is safe for concurrent use;
// notebooks cloned on the fast path share a single Session.
type Session struct {
	baseURL     *url.URL
	endpoints   Endpoints
	client      *http.Client
	policy      retry.Policy
	log         *slog.Logger
	idleTimeout time.Duration
	now         func() time.Time

	mu            sync.Mutex
	username      string
	password      string
	authenticated bool
	csrfToken     string
	lastActivity  time.Time
	// generation increments on every successful login, so concurrent callers that hit the
	// same rejection re-authenticate only once.
	generation uint64
}

// Request is one outbound call.
type Request struct {
	Method string
	Path   string
	Form   url.Values
	// Check inspects a response before the retry policy classifies it. Returning an
	// *errors.E makes the outcome fatal.
	Check func(*Response) error
}

// Response is the buffered answer to a Request.
type Response struct {
	Code    int
	Header  http.Header
	Payload []byte
}

func (r *Response) Status() int  { return r.Code }
func (r *Response) Body() []byte { return r.Payload }

// Decode unmarshals the payload keeping numbers as json.Number.
func (r *Response) Decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(r.Payload))
	dec.UseNumber()
	return dec.Decode(v)
}

// NewSession validates opts and returns an unauthenticated Session.
func NewSession(opts Options) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, herrors.New(herrors.InvalidArgument, fmt.Sprintf("invalid base url %q", opts.BaseURL))
	}
	if opts.Username == "" {
		return nil, herrors.New(herrors.InvalidArgument, "username is required")
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	endpoints := opts.Endpoints
	if endpoints == (Endpoints{}) {
		endpoints = DefaultEndpoints()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.Policy
	if policy.Logger == nil {
		policy.Logger = log
	}

	return &Session{
		baseURL:     base,
		endpoints:   endpoints,
		client:      client,
		policy:      policy,
		log:         log.With(slog.String("component", "session")),
		idleTimeout: opts.IdleTimeout,
		now:         now,
		username:    opts.Username,
		password:    opts.Password,
	}, nil
}

// Username returns the account the session logs in as.
func (s *Session) Username() string { return s.username }

// BaseURL returns the server root without a trailing slash.
func (s *Session) BaseURL() string { return s.baseURL.String() }

// IsAuthenticated reports whether the last login succeeded and was not invalidated since.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Call sends req through the retry policy. A response asking for a login triggers one
// re-authentication and one re-issue of the same request inside the same attempt.
func (s *Session) Call(ctx context.Context, req Request) (*Response, error) {
	name := req.Method + " " + req.Path
	return retry.Do(ctx, s.policy, name, func(ctx context.Context) (*Response, error) {
		gen, err := s.ensureAuthenticated(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := s.send(ctx, req)
		if err != nil {
			return nil, err
		}
		if loginRequired(resp) {
			s.log.Info("server requested login, re-authenticating", slog.String("op", name))
			if err := s.reauthenticate(ctx, gen); err != nil {
				return nil, err
			}
			if resp, err = s.send(ctx, req); err != nil {
				return nil, err
			}
			if loginRequired(resp) {
				return resp, herrors.New(herrors.AuthFailed, "server rejected the session right after login")
			}
		}
		if req.Check != nil {
			if err := req.Check(resp); err != nil {
				return resp, err
			}
		}
		return resp, nil
	})
}

func (s *Session) send(ctx context.Context, req Request) (*Response, error) {
	target := s.baseURL.String() + req.Path
	var body io.Reader
	if req.Method != http.MethodGet && req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	} else if req.Form != nil {
		target += "?" + req.Form.Encode()
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	s.setStandardHeaders(hr)

	resp, err := s.client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()

	return &Response{Code: resp.StatusCode, Header: resp.Header, Payload: payload}, nil
}

func (s *Session) setStandardHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	req.Header.Set("Referer", s.baseURL.String()+"/")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}

	s.mu.Lock()
	token := s.csrfToken
	s.mu.Unlock()
	if token != "" {
		req.Header.Set("X-CSRFToken", token)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
}
