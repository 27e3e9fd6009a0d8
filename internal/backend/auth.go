// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/retry"
)

// Authenticate performs the login handshake. When the server rejects the credentials the
// stored password is cleared and an auth_failed error is returned.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(ctx)
}

// ensureAuthenticated logs in when needed and returns the login generation in use.
func (s *Session) ensureAuthenticated(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authenticated {
		if s.idleTimeout <= 0 || s.now().Sub(s.lastActivity) < s.idleTimeout {
			return s.generation, nil
		}
		s.log.Info("session idle too long, logging in again",
			slog.Duration("idle", s.now().Sub(s.lastActivity)))
	}
	if err := s.login(ctx); err != nil {
		return 0, err
	}
	return s.generation, nil
}

// reauthenticate logs in again unless another caller already did so after gen.
func (s *Session) reauthenticate(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authenticated && s.generation != gen {
		return nil
	}
	s.authenticated = false
	return s.login(ctx)
}

// login must be called with s.mu held.
func (s *Session) login(ctx context.Context) error {
	s.authenticated = false
	if s.password == "" {
		return herrors.New(herrors.AuthFailed, fmt.Sprintf("no password available for user [%s]", s.username))
	}

	loginURL := s.baseURL.String() + s.endpoints.Login
	s.log.Info("logging in", slog.String("user", s.username), slog.String("url", s.baseURL.String()))

	if err := s.fetchLoginPage(ctx, loginURL); err != nil {
		return err
	}
	csrf := cookieValue(s.client.Jar, s.baseURL, csrfCookie)
	if csrf == "" {
		return herrors.New(herrors.AuthFailed, "login page did not set a "+csrfCookie+" cookie")
	}

	form := url.Values{
		"username":            {s.username},
		"password":            {s.password},
		"csrfmiddlewaretoken": {csrf},
		"next":                {"/"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", loginURL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK || cookieValue(s.client.Jar, s.baseURL, sessionCookie) == "" {
		s.password = ""
		s.log.Error("login failed", slog.String("user", s.username), slog.Int("status", resp.StatusCode))
		return herrors.New(herrors.AuthFailed,
			fmt.Sprintf("login failed for user [%s] at %s", s.username, s.baseURL.String()))
	}

	// Django rotates the token on login.
	if fresh := cookieValue(s.client.Jar, s.baseURL, csrfCookie); fresh != "" {
		csrf = fresh
	}
	s.csrfToken = csrf
	s.authenticated = true
	s.lastActivity = s.now()
	s.generation++
	s.log.Info("login successful", slog.String("user", s.username))
	return nil
}

func (s *Session) fetchLoginPage(ctx context.Context, loginURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login page returned status %d", resp.StatusCode)
	}
	return nil
}

// Logout invalidates the session on the server. It is a no-op when not logged in.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.log.Info("logging out", slog.String("user", s.username))
	policy := s.policy
	policy.Accept = []int{http.StatusOK, http.StatusFound}
	_, err := retry.Do(ctx, policy, "GET "+s.endpoints.Logout, func(ctx context.Context) (*Response, error) {
		return s.send(ctx, Request{Method: http.MethodGet, Path: s.endpoints.Logout})
	})

	s.mu.Lock()
	s.authenticated = false
	s.csrfToken = ""
	s.mu.Unlock()
	return err
}
