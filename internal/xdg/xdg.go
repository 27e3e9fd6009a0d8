// Package xdg resolves the XDG base directories hueq keeps its files in.
//
// Directories are created on first use with private permissions. When the XDG variables are
// unset the conventional locations under the home directory are used.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "hueq"

// ConfigDir returns $XDG_CONFIG_HOME/hueq, falling back to ~/.config/hueq.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/hueq, falling back to ~/.local/share/hueq. The file keyring
// lives here on systems without a native credential store.
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func dir(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallback)
	}
	d := filepath.Join(base, appName)
	if err := os.MkdirAll(d, 0o700); err != nil {
		return "", err
	}
	return d, nil
}
