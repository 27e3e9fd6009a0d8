// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package keychain keeps hueq's secrets in the OS credential store: the Hue password of each
// account, the serialized login state and the DSN of the Postgres sink.
//
// macOS uses the login Keychain, Windows the Credential Manager and Linux the Secret Service
// or KWallet. Where none of those is reachable an encrypted file keyring under the XDG data
// directory is used, unlocked with HUEQ_KEYRING_PASSWORD or an interactive prompt.
package keychain

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/99designs/keyring"

	"hueq/cli/internal/xdg"
)

// ServiceName identifies our credential store namespace.
const ServiceName = "hueq"

// Keys used for secrets that are not tied to an account.
const (
	KeyAuthState = "auth_state"
	KeySinkDSN   = "sink_dsn"
)

// EnvKeyringPassword unlocks the file keyring without a prompt.
const EnvKeyringPassword = "HUEQ_KEYRING_PASSWORD"

// ErrNotFound is returned when a secret is not stored.
var ErrNotFound = errors.New("secret not found")

var (
	globalManager *Manager
	mu            sync.Mutex
)

// Manager provides thread-safe access to the credential store.
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// New wraps an opened keyring.
func New(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// GetManager returns the process-wide manager, opening the OS keyring on first use. A failed
// open is retried on the next call.
func GetManager() (*Manager, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalManager != nil {
		return globalManager, nil
	}
	ring, err := openRing()
	if err != nil {
		return nil, err
	}
	globalManager = New(ring)
	return globalManager, nil
}

func openRing() (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName:             ServiceName,
		PassPrefix:              ServiceName,
		WinCredPrefix:           ServiceName,
		KeychainName:            "login",
		LibSecretCollectionName: "login",
		KWalletAppID:            ServiceName,
		KWalletFolder:           ServiceName,
	}
	switch runtime.GOOS {
	case "darwin":
		cfg.AllowedBackends = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		cfg.AllowedBackends = []keyring.BackendType{keyring.WinCredBackend}
	default:
		dir, err := xdg.DataDir()
		if err != nil {
			return nil, err
		}
		cfg.AllowedBackends = []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
		cfg.FileDir = filepath.Join(dir, "keyring")
		cfg.FilePasswordFunc = filePassword
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return ring, nil
}

func filePassword(prompt string) (string, error) {
	if pw := os.Getenv(EnvKeyringPassword); pw != "" {
		return pw, nil
	}
	return keyring.TerminalPrompt(prompt)
}

// PasswordKey is the key of the password of user on the server at baseURL.
func PasswordKey(baseURL, user string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("password:%s@%s", user, host)
}

// Set stores value under key.
func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: ServiceName + " " + key})
}

// Get returns the value under key, or ErrNotFound.
func (m *Manager) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, err := m.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) || (err == nil && len(it.Data) == 0) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(it.Data), nil
}

// Remove deletes key. Removing a missing key is not an error.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (m *Manager) SavePassword(baseURL, user, password string) error {
	return m.Set(PasswordKey(baseURL, user), password)
}

func (m *Manager) LoadPassword(baseURL, user string) (string, error) {
	return m.Get(PasswordKey(baseURL, user))
}

func (m *Manager) ClearPassword(baseURL, user string) error {
	return m.Remove(PasswordKey(baseURL, user))
}

func (m *Manager) SaveAuthState(data []byte) error { return m.Set(KeyAuthState, string(data)) }

// LoadAuthState returns the stored login state, or nil when there is none.
func (m *Manager) LoadAuthState() ([]byte, error) {
	s, err := m.Get(KeyAuthState)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return []byte(s), err
}

func (m *Manager) ClearAuthState() error { return m.Remove(KeyAuthState) }

func (m *Manager) SaveSinkDSN(dsn string) error { return m.Set(KeySinkDSN, dsn) }

func (m *Manager) LoadSinkDSN() (string, error) { return m.Get(KeySinkDSN) }

func (m *Manager) ClearSinkDSN() error { return m.Remove(KeySinkDSN) }
