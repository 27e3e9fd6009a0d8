// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/keychain"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/notebook"
	"hueq/cli/internal/scheduler"
	"hueq/cli/internal/sink"
)

type runFlags struct {
	file        string
	async       bool
	newNotebook bool
	priority    string
	output      string
	upload      bool
	pgDSN       string
	pgTable     string
	limit       int
}

var runOpts runFlags

// runCmd runs one statement and shows or stores its result.
var runCmd = &cobra.Command{
	Use:   "run [sql]",
	Short: "Run one statement and print or export its result",
	Long: `The run command submits one statement to the root notebook (or a fresh one with
--new-notebook), waits for it while showing the progress reported by the engine, and then:

  • prints the first --limit rows, or
  • streams every row to --output (.csv or .parquet), optionally uploading the file to S3, or
  • loads every row into the Postgres table --pg-table.

With --async the statement is only submitted; it keeps running in Hue.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if runOpts.file != "" {
			files = []string{runOpts.file}
		}
		sqls, err := readStatements(args, files)
		if err != nil {
			return report("reading the statement", err)
		}
		if len(sqls) != 1 {
			return report("reading the statement", herrors.New(herrors.InvalidArgument, "run takes exactly one statement; use batch for more"))
		}
		if runOpts.priority != "" && runOpts.newNotebook {
			return report("reading flags", herrors.New(herrors.InvalidArgument, "--priority applies to the root notebook and cannot be combined with --new-notebook"))
		}
		ctx := cmd.Context()
		if runOpts.async {
			if runOpts.output != "" || runOpts.pgTable != "" {
				return report("reading flags", herrors.New(herrors.InvalidArgument, "--async cannot write results"))
			}
			client, err := openClient(ctx)
			if err != nil {
				return report("connecting to Hue", err)
			}
			return runAsync(ctx, client, sqls[0])
		}

		out, err := openRunSink(ctx)
		if err != nil {
			return report("opening the output", err)
		}
		if out != nil {
			defer out.Close()
		}
		client, err := openClient(ctx)
		if err != nil {
			return report("connecting to Hue", err)
		}
		defer closeClient(ctx, client)

		if runOpts.priority != "" {
			if _, err := client.Root().SetPriority(ctx, runOpts.priority); err != nil {
				return report("setting the priority", err)
			}
		}

		res, err := client.RunSQL(ctx, sqls[0], scheduler.SQLOptions{NewNotebook: runOpts.newNotebook})
		if err != nil {
			return report("submitting the statement", err)
		}
		if err := awaitWithProgress(ctx, res); err != nil {
			return report("running the statement", err)
		}

		if out == nil {
			t, err := res.FetchAll(ctx)
			if err != nil {
				return report("fetching rows", err)
			}
			return printTable(t, runOpts.limit)
		}
		return report("writing rows", writeResult(ctx, res, out))
	},
}

// runAsync submits sql and leaves it running. The client is not closed so the statement
// survives the process.
func runAsync(ctx context.Context, client *scheduler.Client, sql string) error {
	res, err := client.RunSQL(ctx, sql, scheduler.SQLOptions{NewNotebook: runOpts.newNotebook})
	if err != nil {
		return report("submitting the statement", err)
	}
	pterm.Printf("🚀 Submitted %s\n", logging.SQL(res.Statement()))
	where := client.Root().Name()
	if runOpts.newNotebook {
		where = "a new notebook cloned from " + where
	}
	pterm.Printf("   Running in %s; open it in Hue to follow the statement.\n", where)
	return nil
}

// awaitWithProgress polls res until it is done, drawing the progress the engine reports.
func awaitWithProgress(ctx context.Context, res *notebook.Result) error {
	start := time.Now()
	area := startStatusArea(func(frame string) string {
		line := fmt.Sprintf("%s %3d%% %s", frame, res.Progress(), time.Since(start).Truncate(time.Second))
		if job := res.ActiveJob(); job != "" {
			line += "  " + job
		}
		return line
	})
	defer area.Stop()

	for {
		st, err := res.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = res.Cancel(context.WithoutCancel(ctx))
			}
			return err
		}
		if st == notebook.StatusAvailable {
			return nil
		}
		if _, err := res.FetchLogs(ctx); err != nil {
			current.log.Debug("fetching logs failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			_ = res.Cancel(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-time.After(current.cfg.PollInterval):
		}
	}
}

// runSink is where run writes rows, and what to do once they are written.
type runSink struct {
	w      sink.Writer
	path   string
	upload bool
	table  string
	closed bool
}

func (s *runSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

func openRunSink(ctx context.Context) (*runSink, error) {
	switch {
	case runOpts.pgTable != "":
		dsn := runOpts.pgDSN
		for _, env := range []string{"HUEQ_PG_DSN", "DATABASE_URL"} {
			if dsn == "" {
				dsn = os.Getenv(env)
			}
		}
		if dsn == "" {
			km, err := keychain.GetManager()
			if err != nil {
				return nil, err
			}
			if dsn, err = km.LoadSinkDSN(); err != nil {
				return nil, herrors.New(herrors.InvalidArgument, "no Postgres connection: pass --pg-dsn or run hueq connect")
			}
		}
		w, err := sink.OpenPostgres(ctx, dsn, runOpts.pgTable)
		if err != nil {
			return nil, err
		}
		return &runSink{w: w, table: runOpts.pgTable}, nil
	case runOpts.output != "":
		w, err := sink.Create(runOpts.output)
		if err != nil {
			return nil, err
		}
		return &runSink{w: w, path: runOpts.output, upload: runOpts.upload}, nil
	case runOpts.upload:
		return nil, herrors.New(herrors.InvalidArgument, "--upload needs --output")
	}
	return nil, nil
}

func writeResult(ctx context.Context, res *notebook.Result, out *runSink) error {
	counter := &rowCounter{RowWriter: out.w}
	err := res.Stream(ctx, counter)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	switch {
	case out.table != "":
		pterm.Printf("✅ Loaded %d rows into %s\n", counter.rows, out.table)
	case out.upload:
		uploader, err := sink.NewS3Uploader(s3Config())
		if err != nil {
			return err
		}
		obj, err := uploader.UploadFile(ctx, out.path, "")
		if err != nil {
			return err
		}
		pterm.Printf("✅ Wrote %d rows to s3://%s/%s\n", counter.rows, obj.Bucket, obj.Key)
	default:
		pterm.Printf("✅ Wrote %d rows to %s\n", counter.rows, out.path)
	}
	return nil
}

type rowCounter struct {
	notebook.RowWriter
	rows int
}

func (c *rowCounter) WriteRows(rows [][]any) error {
	if err := c.RowWriter.WriteRows(rows); err != nil {
		return err
	}
	c.rows += len(rows)
	return nil
}

// s3Config merges the configured bucket with the secret key from the environment.
func s3Config() sink.S3Config {
	c := current.cfg.S3
	return sink.S3Config{
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		Bucket:          c.Bucket,
		Prefix:          c.Prefix,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: os.Getenv("HUEQ_S3_SECRET_ACCESS_KEY"),
		UseSSL:          c.UseSSL,
	}
}

func statementName(file string, i int) string {
	if file == "" {
		return fmt.Sprintf("statement_%d", i+1)
	}
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.file, "file", "f", "", "read the statement from a file (- for stdin)")
	f.BoolVar(&runOpts.async, "async", false, "submit and return without waiting")
	f.BoolVar(&runOpts.newNotebook, "new-notebook", false, "run on a fresh notebook with its own session")
	f.StringVar(&runOpts.priority, "priority", "", "job priority: "+strings.Join(notebook.Priorities, ", "))
	f.StringVarP(&runOpts.output, "output", "o", "", "write rows to a .csv or .parquet file")
	f.BoolVar(&runOpts.upload, "upload", false, "upload --output to the configured S3 bucket")
	f.StringVar(&runOpts.pgDSN, "pg-dsn", "", "Postgres DSN for --pg-table (default: HUEQ_PG_DSN, DATABASE_URL, then hueq connect)")
	f.StringVar(&runOpts.pgTable, "pg-table", "", "load rows into this Postgres table")
	f.IntVar(&runOpts.limit, "limit", 50, "rows printed to the terminal")
	rootCmd.AddCommand(runCmd)
}
