// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "hueq/cli/internal/errors"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	c, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, "tez", c.EngineSettings["hive.execution.engine"])
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
base_url: https://hue.example.com
username: analyst
jobs: 6
retry:
  attempts: 5
  wait: 1s
engine_settings:
  hive.exec.parallel: "true"
`), 0o600))

	t.Setenv("HUEQ_JOBS", "8")
	t.Setenv("HUEQ_RETRY_BACKOFF", "exponential")

	l := NewLoader(file)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("database", "default", "")
	require.NoError(t, l.BindFlag(Key{"database"}, flags.Lookup("database")))
	require.NoError(t, flags.Parse([]string{"--database", "sales"}))

	c, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://hue.example.com", c.BaseURL)
	assert.Equal(t, "analyst", c.Username)
	assert.Equal(t, 8, c.Jobs, "environment beats file")
	assert.Equal(t, "sales", c.Database, "flag beats default")
	assert.Equal(t, 5, c.Retry.Attempts)
	assert.Equal(t, time.Second, c.Retry.Wait)
	assert.Equal(t, "exponential", c.Retry.Backoff)
	assert.Equal(t, map[string]string{"hive.exec.parallel": "true"}, c.EngineSettings)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("jobs: 0\n"), 0o600))

	_, err := NewLoader(file).Load()
	require.Error(t, err)
	assert.True(t, herrors.IsKind(err, herrors.InvalidArgument))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.BaseURL = "" }},
		{"relative base url", func(c *Config) { c.BaseURL = "hue.local" }},
		{"no jobs", func(c *Config) { c.Jobs = 0 }},
		{"no rows", func(c *Config) { c.RowsPerFetch = 0 }},
		{"negative attempts", func(c *Config) { c.Retry.Attempts = -1 }},
		{"unknown backoff", func(c *Config) { c.Retry.Backoff = "fibonacci" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestKeyNames(t *testing.T) {
	k := Key{"retry", "attempts"}
	assert.Equal(t, "retry-attempts", k.FlagName())
	assert.Equal(t, "HUEQ_RETRY_ATTEMPTS", k.EnvName())
	assert.Equal(t, "HUEQ_ROWS_PER_FETCH", Key{"rows_per_fetch"}.EnvName())
	assert.Equal(t, "rows-per-fetch", Key{"rows_per_fetch"}.FlagName())
}

func TestPersistKeepsOtherKeys(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("base_url: https://hue.example.com\n"), 0o600))

	require.NoError(t, Persist(file, Key{"username"}, "analyst"))

	c, err := NewLoader(file).Load()
	require.NoError(t, err)
	assert.Equal(t, "https://hue.example.com", c.BaseURL)
	assert.Equal(t, "analyst", c.Username)
}

func TestPersistReplacesMaps(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Persist(file, Key{"engine_settings"}, map[string]string{
		"hive.exec.parallel":         "true",
		"hive.exec.parallel.threads": "8",
	}))
	require.NoError(t, Persist(file, Key{"retry", "attempts"}, 5))
	require.NoError(t, Persist(file, Key{"engine_settings"}, map[string]string{"hive.exec.parallel": "false"}))

	c, err := NewLoader(file).Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hive.exec.parallel": "false"}, c.EngineSettings)
	assert.Equal(t, 5, c.Retry.Attempts)
}
