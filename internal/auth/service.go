// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package auth manages the login lifecycle of the CLI: resolving the Hue password, verifying it
// with a login handshake, and remembering who is logged in. The password and the login state
// are kept in the OS keychain, never in the config file.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"hueq/cli/internal/backend"
	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/keychain"
)

// EnvPassword supplies the password non-interactively.
const EnvPassword = "HUEQ_PASSWORD"

// Secrets is the subset of the keychain the service needs.
type Secrets interface {
	SavePassword(baseURL, user, password string) error
	LoadPassword(baseURL, user string) (string, error)
	ClearPassword(baseURL, user string) error
	SaveAuthState(data []byte) error
	LoadAuthState() ([]byte, error)
	ClearAuthState() error
}

// PromptFunc asks the user for a secret.
type PromptFunc func(label string) (string, error)

// PasswordSource tells where a resolved password came from.
type PasswordSource string

const (
	SourceFlag     PasswordSource = "flag"
	SourceEnv      PasswordSource = "env"
	SourceKeychain PasswordSource = "keychain"
	SourcePrompt   PasswordSource = "prompt"
)

// Service centralizes authentication operations.
type Service struct {
	secrets Secrets
	prompt  PromptFunc
	getenv  func(string) string
	now     func() time.Time
	// authenticate runs the login handshake; replaced in tests.
	authenticate func(ctx context.Context, opts backend.Options) (*backend.HTTP, error)
}

// NewService builds a Service. A nil prompt disables interactive password entry.
func NewService(secrets Secrets, prompt PromptFunc) *Service {
	return &Service{
		secrets:      secrets,
		prompt:       prompt,
		getenv:       os.Getenv,
		now:          time.Now,
		authenticate: handshake,
	}
}

// NewKeychainService builds a Service over the OS keychain.
func NewKeychainService(prompt PromptFunc) (*Service, error) {
	km, err := keychain.GetManager()
	if err != nil {
		return nil, err
	}
	return NewService(km, prompt), nil
}

func handshake(ctx context.Context, opts backend.Options) (*backend.HTTP, error) {
	api, err := backend.New(opts)
	if err != nil {
		return nil, err
	}
	if err := api.Session().Authenticate(ctx); err != nil {
		return nil, err
	}
	return api, nil
}

// ResolvePassword returns the password for user on baseURL, looking at the flag value, the
// environment, the keychain and finally the prompt.
func (s *Service) ResolvePassword(baseURL, user, flag string) (string, PasswordSource, error) {
	return s.resolve(baseURL, user, flag, true)
}

// FreshPassword is ResolvePassword without the keychain, for logins that replace it.
func (s *Service) FreshPassword(user, flag string) (string, PasswordSource, error) {
	return s.resolve("", user, flag, false)
}

func (s *Service) resolve(baseURL, user, flag string, stored bool) (string, PasswordSource, error) {
	if flag != "" {
		return flag, SourceFlag, nil
	}
	if pw := s.getenv(EnvPassword); pw != "" {
		return pw, SourceEnv, nil
	}
	if stored {
		pw, err := s.secrets.LoadPassword(baseURL, user)
		switch {
		case err == nil:
			return pw, SourceKeychain, nil
		case !errors.Is(err, keychain.ErrNotFound):
			return "", "", fmt.Errorf("read keychain: %w", err)
		}
	}
	if s.prompt == nil {
		return "", "", herrors.New(herrors.AuthFailed,
			fmt.Sprintf("no password for %s; pass --password, set %s or run hueq login", user, EnvPassword))
	}
	pw, err := s.prompt(fmt.Sprintf("Password for %s", user))
	if err != nil {
		return "", "", err
	}
	if pw == "" {
		return "", "", herrors.New(herrors.AuthFailed, "empty password")
	}
	return pw, SourcePrompt, nil
}

// HasPassword reports whether a password for user on baseURL is stored.
func (s *Service) HasPassword(baseURL, user string) bool {
	_, err := s.secrets.LoadPassword(baseURL, user)
	return err == nil
}

// Login verifies the credentials in opts against the server, stores the password in the
// keychain and records the login state. The authenticated API is returned for reuse.
func (s *Service) Login(ctx context.Context, opts backend.Options) (*backend.HTTP, error) {
	api, err := s.authenticate(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := s.secrets.SavePassword(opts.BaseURL, opts.Username, opts.Password); err != nil {
		return nil, fmt.Errorf("store password: %w", err)
	}
	st := State{LoggedIn: true, Account: opts.Username, BaseURL: opts.BaseURL, LoggedInAt: s.now().UTC()}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return api, nil
}

// Logout logs the API out when one is given (best-effort) and forgets the stored password
// and login state.
func (s *Service) Logout(ctx context.Context, api backend.API) error {
	if api != nil {
		_ = api.Logout(ctx)
	}
	st, err := s.Load()
	if err != nil {
		return err
	}
	if st.Account != "" {
		if err := s.secrets.ClearPassword(st.BaseURL, st.Account); err != nil {
			return err
		}
	}
	return s.Clear()
}

// WhoAmI returns the stored login state. ok is false when nobody is logged in.
func (s *Service) WhoAmI() (State, bool, error) {
	st, err := s.Load()
	if err != nil {
		return State{}, false, err
	}
	return st, st.LoggedIn && st.Account != "", nil
}
