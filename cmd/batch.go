// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/logging"
	"hueq/cli/internal/notebook"
	"hueq/cli/internal/scheduler"
)

var (
	batchFiles []string
	batchAsync bool
)

// batchCmd runs many statements on the session pool.
var batchCmd = &cobra.Command{
	Use:   "batch [sql]...",
	Short: "Run statements concurrently on a pool of sessions",
	Long: `The batch command runs every statement given as an argument or with -f on a pool of
notebook sessions, at most --jobs at a time. Results are reported in input order regardless
of completion order. One failing statement does not stop the others.

With --async every statement is submitted and checked once; those still running are left
running in Hue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sqls, err := readStatements(args, batchFiles)
		if err != nil {
			return report("reading statements", err)
		}
		ctx := cmd.Context()
		client, err := openClient(ctx)
		if err != nil {
			return report("connecting to Hue", err)
		}
		if !batchAsync {
			defer closeClient(ctx, client)
		}

		bar, _ := pterm.DefaultProgressbar.
			WithTotal(len(sqls)).
			WithTitle("Running statements").
			WithRemoveWhenDone(true).
			Start()
		seen := 0
		tracker := scheduler.NewTracker(sqls)
		outcomes, runErr := client.RunSQLs(ctx, sqls, scheduler.RunOptions{
			Jobs:    current.cfg.Jobs,
			Sync:    !batchAsync,
			Tracker: tracker,
			OnProgress: func(settled, total int) {
				if bar != nil {
					bar.UpdateTitle(fmt.Sprintf("Running statements (%d in flight)", tracker.InFlight()))
					bar.Add(settled - seen)
				}
				seen = settled
			},
		})
		if bar != nil {
			_, _ = bar.Stop()
		}
		if outcomes == nil {
			return report("running statements", runErr)
		}

		renderOutcomes(outcomes, tracker)
		if runErr != nil {
			return report("running statements", runErr)
		}
		if tracker.HasFailures() {
			return fmt.Errorf("%d of %d statements failed", tracker.Counts()[scheduler.JobFailed], len(outcomes))
		}
		return nil
	},
}

// renderOutcomes prints one row per statement in input order.
func renderOutcomes(outcomes []scheduler.Outcome, tracker *scheduler.Tracker) {
	data := append([][]string{{"#", "Statement", "Status", "Took", "Finished", "Detail"}},
		outcomeRows(outcomes, tracker.Jobs(), tracker.DoneOrder())...)
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

// outcomeRows renders outcomes with the timing of the matching jobs. Finished is the rank in
// which a statement settled.
func outcomeRows(outcomes []scheduler.Outcome, jobs []scheduler.Job, order []int) [][]string {
	rank := make(map[int]int, len(order))
	for i, slot := range order {
		rank[slot] = i + 1
	}
	rows := make([][]string, 0, len(outcomes))
	for i, o := range outcomes {
		status, detail := outcomeStatus(o)
		took, finished := "", ""
		if i < len(jobs) && !jobs[i].Submitted.IsZero() && !jobs[i].Finished.IsZero() {
			took = jobs[i].Finished.Sub(jobs[i].Submitted).Truncate(time.Millisecond).String()
		}
		if r, ok := rank[i]; ok {
			finished = fmt.Sprint(r)
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			logging.Preview(oneLine(o.SQL), 60),
			status,
			took,
			finished,
			detail,
		})
	}
	return rows
}

func outcomeStatus(o scheduler.Outcome) (string, string) {
	switch {
	case o.Failed():
		return pterm.Red("failed"), logging.Preview(oneLine(logging.Mask(o.Err.Error())), 80)
	case o.Result == nil:
		return pterm.Yellow("not started"), ""
	default:
		if st := o.Result.Status(); st != notebook.StatusAvailable {
			return string(st), ""
		}
		return pterm.Green("done"), ""
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func init() {
	batchCmd.Flags().StringArrayVarP(&batchFiles, "file", "f", nil, "read a statement from a file (repeatable, - for stdin)")
	batchCmd.Flags().BoolVar(&batchAsync, "async", false, "submit without waiting for completion")
	rootCmd.AddCommand(batchCmd)
}
