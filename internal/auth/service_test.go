// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hueq/cli/internal/backend"
	"hueq/cli/internal/backend/backendtest"
	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/keychain"
)

const baseURL = "http://hue.example.com:8888"

func newTestService(t *testing.T, prompt PromptFunc) (*Service, *keychain.Manager) {
	t.Helper()
	km := keychain.New(keyring.NewArrayKeyring(nil))
	s := NewService(km, prompt)
	s.getenv = func(string) string { return "" }
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	s.authenticate = func(_ context.Context, opts backend.Options) (*backend.HTTP, error) {
		if opts.Password != "right" {
			return nil, herrors.New(herrors.AuthFailed, "invalid username or password")
		}
		return nil, nil
	}
	return s, km
}

func TestResolvePasswordOrder(t *testing.T) {
	prompted := 0
	s, km := newTestService(t, func(string) (string, error) {
		prompted++
		return "typed", nil
	})

	pw, src, err := s.ResolvePassword(baseURL, "analyst", "")
	require.NoError(t, err)
	assert.Equal(t, "typed", pw)
	assert.Equal(t, SourcePrompt, src)

	require.NoError(t, km.SavePassword(baseURL, "analyst", "stored"))
	pw, src, err = s.ResolvePassword(baseURL, "analyst", "")
	require.NoError(t, err)
	assert.Equal(t, "stored", pw)
	assert.Equal(t, SourceKeychain, src)

	s.getenv = func(k string) string {
		if k == EnvPassword {
			return "from-env"
		}
		return ""
	}
	pw, src, err = s.ResolvePassword(baseURL, "analyst", "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)
	assert.Equal(t, SourceEnv, src)

	pw, src, err = s.ResolvePassword(baseURL, "analyst", "flagged")
	require.NoError(t, err)
	assert.Equal(t, "flagged", pw)
	assert.Equal(t, SourceFlag, src)

	assert.Equal(t, 1, prompted)
}

func TestResolvePasswordWithoutPrompt(t *testing.T) {
	s, _ := newTestService(t, nil)
	_, _, err := s.ResolvePassword(baseURL, "analyst", "")
	assert.True(t, herrors.IsKind(err, herrors.AuthFailed))

	s.prompt = func(string) (string, error) { return "", errors.New("no tty") }
	_, _, err = s.ResolvePassword(baseURL, "analyst", "")
	assert.EqualError(t, err, "no tty")
}

func TestLoginStoresPasswordAndState(t *testing.T) {
	s, km := newTestService(t, nil)
	ctx := context.Background()

	_, err := s.Login(ctx, backend.Options{BaseURL: baseURL, Username: "analyst", Password: "wrong"})
	require.Error(t, err)
	_, err = km.LoadPassword(baseURL, "analyst")
	assert.ErrorIs(t, err, keychain.ErrNotFound, "failed logins store nothing")

	_, err = s.Login(ctx, backend.Options{BaseURL: baseURL, Username: "analyst", Password: "right"})
	require.NoError(t, err)

	pw, err := km.LoadPassword(baseURL, "analyst")
	require.NoError(t, err)
	assert.Equal(t, "right", pw)

	st, ok, err := s.WhoAmI()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, State{
		LoggedIn:   true,
		Account:    "analyst",
		BaseURL:    baseURL,
		LoggedInAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}, st)
}

func TestLogoutClearsEverything(t *testing.T) {
	s, km := newTestService(t, nil)
	ctx := context.Background()
	_, err := s.Login(ctx, backend.Options{BaseURL: baseURL, Username: "analyst", Password: "right"})
	require.NoError(t, err)

	fake := backendtest.New()
	require.NoError(t, s.Logout(ctx, fake))
	assert.Equal(t, 1, fake.Calls("Logout"))

	_, ok, err := s.WhoAmI()
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = km.LoadPassword(baseURL, "analyst")
	assert.ErrorIs(t, err, keychain.ErrNotFound)

	require.NoError(t, s.Logout(ctx, nil), "logging out twice is harmless")
}

func TestFreshPasswordSkipsKeychain(t *testing.T) {
	s, km := newTestService(t, func(string) (string, error) { return "typed", nil })
	require.NoError(t, km.SavePassword(baseURL, "analyst", "stored"))
	assert.True(t, s.HasPassword(baseURL, "analyst"))

	pw, src, err := s.FreshPassword("analyst", "")
	require.NoError(t, err)
	assert.Equal(t, "typed", pw)
	assert.Equal(t, SourcePrompt, src)
}
