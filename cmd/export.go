// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/logging"
	"hueq/cli/internal/scheduler"
	"hueq/cli/internal/sink"
)

var (
	exportDir    string
	exportFormat string
	exportUpload bool
)

// exportCmd streams the results of many statements into files.
var exportCmd = &cobra.Command{
	Use:   "export file.sql...",
	Short: "Run statement files concurrently and write each result to a file",
	Long: `The export command runs the statement of every file on its own notebook, at most --jobs at
a time, and streams the rows into <output-dir>/<file name>.<format> without holding them in
memory. With --upload every written file is copied to the configured S3 bucket.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := sink.Format(exportFormat)
		if format != sink.FormatCSV && format != sink.FormatParquet {
			return report("reading flags", fmt.Errorf("unknown format %q", exportFormat))
		}
		var uploader *sink.S3Uploader
		if exportUpload {
			var err error
			if uploader, err = sink.NewS3Uploader(s3Config()); err != nil {
				return report("configuring the upload", err)
			}
		}

		jobs := make([]scheduler.ExportJob, 0, len(args))
		writers := make([]sink.Writer, 0, len(args))
		paths := make([]string, 0, len(args))
		defer func() {
			for _, w := range writers {
				_ = w.Close()
			}
		}()
		for i, file := range args {
			sqls, err := readStatements(nil, []string{file})
			if err != nil {
				return report("reading statements", err)
			}
			name := statementName(file, i)
			path := sink.DefaultPath(exportDir, name, format)
			w, err := sink.Create(path)
			if err != nil {
				return report("creating "+path, err)
			}
			writers = append(writers, w)
			paths = append(paths, path)
			jobs = append(jobs, scheduler.ExportJob{Name: name, SQL: sqls[0], Writer: w})
		}

		ctx := cmd.Context()
		client, err := openClient(ctx)
		if err != nil {
			return report("connecting to Hue", err)
		}
		defer closeClient(ctx, client)

		bar, _ := pterm.DefaultProgressbar.WithTotal(len(jobs)).WithTitle("Exporting").WithRemoveWhenDone(true).Start()
		results := client.Export(ctx, jobs, current.cfg.Jobs, func(done, total int) {
			if bar != nil {
				bar.Increment()
			}
		})
		if bar != nil {
			_, _ = bar.Stop()
		}

		data := [][]string{{"File", "Rows", "Status"}}
		var failures *multierror.Error
		for i, r := range results {
			err := r.Err
			if cerr := writers[i].Close(); err == nil {
				err = cerr
			}
			status := pterm.Green("written")
			if err == nil && uploader != nil {
				if obj, uerr := uploader.UploadFile(ctx, paths[i], ""); uerr != nil {
					err = uerr
				} else {
					status = pterm.Green("s3://" + obj.Bucket + "/" + obj.Key)
				}
			}
			if err != nil {
				failures = multierror.Append(failures, fmt.Errorf("%s: %w", paths[i], err))
				status = pterm.Red(logging.Preview(oneLine(logging.Mask(err.Error())), 80))
			}
			data = append(data, []string{paths[i], fmt.Sprint(r.Value), status})
		}
		writers = nil
		_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
		return failures.ErrorOrNil()
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportDir, "output-dir", "o", ".", "directory the files are written to")
	exportCmd.Flags().StringVar(&exportFormat, "format", string(sink.FormatCSV), "csv or parquet")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "upload every file to the configured S3 bucket")
	rootCmd.AddCommand(exportCmd)
}
