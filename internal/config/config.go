// Package config loads CLI settings with viper from, in increasing precedence, built-in
// defaults, $XDG_CONFIG_HOME/hueq/config.yaml, HUEQ_* environment variables and flags.
// Only non-secret settings live here; passwords and DSNs go to the OS keychain.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/notebook"
	"hueq/cli/internal/retry"
	"hueq/cli/internal/scheduler"
	"hueq/cli/internal/xdg"
)

// keyDelimiter separates nested keys. Engine setting names contain dots, so "." cannot be used.
const keyDelimiter = ".."

const (
	fileName  = "config"
	fileType  = "yaml"
	envPrefix = "HUEQ"
)

// Config holds non-sensitive CLI settings.
type Config struct {
	BaseURL          string            `mapstructure:"base_url"`
	Username         string            `mapstructure:"username"`
	Database         string            `mapstructure:"database"`
	Jobs             int               `mapstructure:"jobs"`
	RowsPerFetch     int               `mapstructure:"rows_per_fetch"`
	SessionTimeout   time.Duration     `mapstructure:"session_timeout"`
	PollInterval     time.Duration     `mapstructure:"poll_interval"`
	ScheduleInterval time.Duration     `mapstructure:"schedule_interval"`
	HTTPTimeout      time.Duration     `mapstructure:"http_timeout"`
	Retry            RetryConfig       `mapstructure:"retry"`
	LogLevel         string            `mapstructure:"log_level"`
	LogJSON          bool              `mapstructure:"log_json"`
	EngineSettings   map[string]string `mapstructure:"engine_settings"`
	MetricsAddr      string            `mapstructure:"metrics_addr"`
	S3               S3Config          `mapstructure:"s3"`
}

// RetryConfig shapes the retry policy around every remote call.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Wait     time.Duration `mapstructure:"wait"`
	Backoff  string        `mapstructure:"backoff"`
}

// S3Config is where exported files are uploaded. The secret key is read from
// HUEQ_S3_SECRET_ACCESS_KEY only.
type S3Config struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	AccessKeyID string `mapstructure:"access_key_id"`
	UseSSL      bool   `mapstructure:"use_ssl"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BaseURL:          "http://localhost:8888",
		Database:         notebook.DefaultDatabase,
		Jobs:             scheduler.DefaultJobs,
		RowsPerFetch:     notebook.DefaultRowsPerFetch,
		SessionTimeout:   notebook.DefaultSessionTimeout,
		PollInterval:     notebook.DefaultPollInterval,
		ScheduleInterval: scheduler.DefaultInterval,
		HTTPTimeout:      60 * time.Second,
		Retry: RetryConfig{
			Attempts: retry.DefaultAttempts,
			Wait:     retry.DefaultWait,
			Backoff:  retry.BackoffConstant,
		},
		LogLevel:       "info",
		EngineSettings: notebook.PerformanceSettings(),
	}
}

// Key is a configuration key as a path of components, e.g. {"retry", "attempts"}.
type Key []string

// FlagName is the command-line flag for the key, e.g. "retry-attempts".
func (k Key) FlagName() string {
	return strings.ReplaceAll(strings.Join(k, "-"), "_", "-")
}

// EnvName is the environment variable for the key, e.g. "HUEQ_RETRY_ATTEMPTS".
func (k Key) EnvName() string {
	return envPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k.FlagName()), "-", "_")
}

// Path is the viper access path for the key.
func (k Key) Path() string {
	return strings.Join(k, keyDelimiter)
}

// Loader binds defaults, environment variables, flags and the config file.
type Loader struct {
	v    *viper.Viper
	file string
}

// NewLoader returns a loader with defaults and environment bindings registered. file
// overrides the config file location when not empty.
func NewLoader(file string) *Loader {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetTypeByDefaultValue(true)
	l := &Loader{v: v, file: file}

	d := Default()
	l.bind(Key{"base_url"}, d.BaseURL)
	l.bind(Key{"username"}, d.Username)
	l.bind(Key{"database"}, d.Database)
	l.bind(Key{"jobs"}, d.Jobs)
	l.bind(Key{"rows_per_fetch"}, d.RowsPerFetch)
	l.bind(Key{"session_timeout"}, d.SessionTimeout)
	l.bind(Key{"poll_interval"}, d.PollInterval)
	l.bind(Key{"schedule_interval"}, d.ScheduleInterval)
	l.bind(Key{"http_timeout"}, d.HTTPTimeout)
	l.bind(Key{"retry", "attempts"}, d.Retry.Attempts)
	l.bind(Key{"retry", "wait"}, d.Retry.Wait)
	l.bind(Key{"retry", "backoff"}, d.Retry.Backoff)
	l.bind(Key{"log_level"}, d.LogLevel)
	l.bind(Key{"log_json"}, d.LogJSON)
	l.bind(Key{"metrics_addr"}, d.MetricsAddr)
	l.bind(Key{"s3", "endpoint"}, d.S3.Endpoint)
	l.bind(Key{"s3", "region"}, d.S3.Region)
	l.bind(Key{"s3", "bucket"}, d.S3.Bucket)
	l.bind(Key{"s3", "prefix"}, d.S3.Prefix)
	l.bind(Key{"s3", "access_key_id"}, d.S3.AccessKeyID)
	l.bind(Key{"s3", "use_ssl"}, d.S3.UseSSL)
	return l
}

func (l *Loader) bind(k Key, def any) {
	l.v.SetDefault(k.Path(), def)
	_ = l.v.BindEnv(k.Path(), k.EnvName())
}

// BindFlag makes flag override key when set on the command line.
func (l *Loader) BindFlag(k Key, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for %s", k.FlagName())
	}
	return l.v.BindPFlag(k.Path(), flag)
}

// Load reads the config file, if any, and returns the merged settings.
func (l *Loader) Load() (Config, error) {
	if err := l.readFile(); err != nil {
		return Config{}, err
	}
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	// A configured engine_settings map replaces the defaults rather than merging with them.
	if c.EngineSettings == nil {
		c.EngineSettings = notebook.PerformanceSettings()
	}
	return c, c.Validate()
}

func (l *Loader) readFile() error {
	if l.file != "" {
		l.v.SetConfigFile(l.file)
	} else {
		dir, err := xdg.ConfigDir()
		if err != nil {
			return err
		}
		l.v.AddConfigPath(dir)
		l.v.SetConfigName(fileName)
		l.v.SetConfigType(fileType)
	}
	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("read configuration: %w", err)
	}
	return nil
}

// Path returns the config file the loader writes to.
func (l *Loader) Path() (string, error) {
	if l.file != "" {
		return l.file, nil
	}
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName+"."+fileType), nil
}

// Persist writes key=value into the config file, keeping whatever else it holds. A map value
// replaces the stored map instead of merging into it.
func Persist(file string, k Key, value any) error {
	p, err := NewLoader(file).Path()
	if err != nil {
		return err
	}
	r := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	r.SetConfigFile(p)
	r.SetConfigType(fileType)
	if _, err := os.Stat(p); err == nil {
		if err := r.ReadInConfig(); err != nil {
			return fmt.Errorf("read configuration: %w", err)
		}
	}
	settings := r.AllSettings()
	setPath(settings, k, value)

	w := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	w.SetConfigType(fileType)
	if err := w.MergeConfigMap(settings); err != nil {
		return err
	}
	if err := w.WriteConfigAs(p); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}

func setPath(m map[string]any, k Key, value any) {
	for _, part := range k[:len(k)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	m[k[len(k)-1]] = value
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return invalid("base_url is empty")
	case err != nil || u.Scheme == "" || u.Host == "":
		return invalid(fmt.Sprintf("base_url %q is not an absolute URL", c.BaseURL))
	case c.Jobs < 1:
		return invalid("jobs must be at least 1")
	case c.RowsPerFetch < 1:
		return invalid("rows_per_fetch must be at least 1")
	case c.Retry.Attempts < 0:
		return invalid("retry.attempts must not be negative")
	case c.Retry.Backoff != retry.BackoffConstant && c.Retry.Backoff != retry.BackoffExponential:
		return invalid(fmt.Sprintf("retry.backoff %q must be constant or exponential", c.Retry.Backoff))
	}
	return nil
}

func invalid(msg string) error {
	return herrors.New(herrors.InvalidArgument, "config: "+msg)
}

// RetryPolicy renders the retry settings as a policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.Retry.Attempts,
		Wait:     c.Retry.Wait,
		Backoff:  c.Retry.Backoff,
	}
}

// NotebookConfig renders the execution settings for notebook.NewFactory.
func (c Config) NotebookConfig() notebook.Config {
	return notebook.Config{
		Database:       c.Database,
		Settings:       c.EngineSettings,
		SessionTimeout: c.SessionTimeout,
		RowsPerFetch:   c.RowsPerFetch,
		PollInterval:   c.PollInterval,
	}
}
