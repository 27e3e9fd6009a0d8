// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface of hueq. It runs SQL on a Hue server through
// notebook sessions, one statement at a time or as a bounded batch, and writes results to the
// terminal, CSV or Parquet files, Postgres tables and S3. Settings come from the config file,
// HUEQ_* variables and the persistent flags declared here.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/config"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/scheduler"
)

// app is the state shared by the commands of one invocation.
type app struct {
	cfg     config.Config
	file    string
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *scheduler.Metrics
	stop    func(context.Context) error
}

var (
	showVersion  bool
	configFile   string
	passwordFlag string
	current      app
)

// boundKeys are the config keys exposed as persistent flags.
var boundKeys = []config.Key{
	{"base_url"},
	{"username"},
	{"database"},
	{"jobs"},
	{"rows_per_fetch"},
	{"session_timeout"},
	{"poll_interval"},
	{"schedule_interval"},
	{"http_timeout"},
	{"retry", "attempts"},
	{"retry", "wait"},
	{"retry", "backoff"},
	{"log_level"},
	{"log_json"},
	{"metrics_addr"},
}

// rootCmd is the entry point of the hueq CLI.
var rootCmd = &cobra.Command{
	Use:           "hueq",
	Short:         "Run SQL on Hue notebooks from the command line",
	Long:          `hueq submits statements to a Hue server through notebook sessions, runs batches concurrently on a pool of sessions and exports results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(configFile)
		flags := cmd.Flags()
		for _, k := range boundKeys {
			if f := flags.Lookup(k.FlagName()); f != nil {
				if err := loader.BindFlag(k, f); err != nil {
					return err
				}
			}
		}
		cfg, err := loader.Load()
		if err != nil {
			pterm.Println(logging.PresentError("❌ Invalid configuration", err))
			return err
		}
		file, err := loader.Path()
		if err != nil {
			return err
		}

		current = app{cfg: cfg, file: file, reg: prometheus.NewRegistry()}
		current.log = logging.NewLogger(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
		current.metrics = scheduler.NewMetrics(current.reg)
		current.stop, err = serveMetrics(cfg.MetricsAddr, current.reg, current.log)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current.stop == nil {
			return nil
		}
		return current.stop(context.WithoutCancel(cmd.Context()))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion()
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the CLI application.
// Ctrl-C cancels the command context, which cancels statements still in flight.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/hueq/config.yaml)")
	pf.StringVar(&passwordFlag, "password", "", "Hue password (prefer HUEQ_PASSWORD or hueq login)")
	pf.String(config.Key{"base_url"}.FlagName(), d.BaseURL, "Hue server URL")
	pf.String(config.Key{"username"}.FlagName(), d.Username, "Hue user")
	pf.String(config.Key{"database"}.FlagName(), d.Database, "database statements run in")
	pf.Int(config.Key{"jobs"}.FlagName(), d.Jobs, "statements run concurrently")
	pf.Int(config.Key{"rows_per_fetch"}.FlagName(), d.RowsPerFetch, "rows requested per result page")
	pf.Duration(config.Key{"session_timeout"}.FlagName(), d.SessionTimeout, "idle time after which a session is recreated")
	pf.Duration(config.Key{"poll_interval"}.FlagName(), d.PollInterval, "interval between status checks of a statement")
	pf.Duration(config.Key{"schedule_interval"}.FlagName(), d.ScheduleInterval, "interval between scheduler passes")
	pf.Duration(config.Key{"http_timeout"}.FlagName(), d.HTTPTimeout, "timeout of a single HTTP request")
	pf.Int(config.Key{"retry", "attempts"}.FlagName(), d.Retry.Attempts, "retried attempts before the final one")
	pf.Duration(config.Key{"retry", "wait"}.FlagName(), d.Retry.Wait, "wait between attempts")
	pf.String(config.Key{"retry", "backoff"}.FlagName(), d.Retry.Backoff, "constant or exponential")
	pf.String(config.Key{"log_level"}.FlagName(), d.LogLevel, "trace, debug, info, warn, error or off")
	pf.Bool(config.Key{"log_json"}.FlagName(), d.LogJSON, "log as JSON")
	pf.String(config.Key{"metrics_addr"}.FlagName(), d.MetricsAddr, "serve prometheus metrics on this address")

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}
