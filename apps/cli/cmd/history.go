package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/db"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyConfig string
	historyDB     string
	historyLimit  int
	historyBug    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from the history database",
	Long: `Show recent runs recorded in the history database, newest first, or the
history of one bug fingerprint.

Examples:
  qarun history
  qarun history --limit 20 --history-db sqlite://ci/history.db
  qarun history --bug 3f2b8c1e0a9d4b71`,
	Args: cobra.NoArgs,
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().StringVar(&historyConfig, "config", getEnvString("QARUN_CONFIG", ""), "Path to config file (env: QARUN_CONFIG)")
	historyCmd.Flags().StringVar(&historyDB, "history-db", getEnvString("QARUN_HISTORY_DB", ""), "SQLite database for run history (env: QARUN_HISTORY_DB)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to show")
	historyCmd.Flags().StringVar(&historyBug, "bug", "", "Show the history of one bug fingerprint")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(historyConfig)
	if err != nil {
		return err
	}
	conn := cfg.HistoryDB
	if historyDB != "" {
		conn = historyDB
	}
	if conn == "" {
		return exitWith(ExitUsageError, errors.New("no history database configured (use --history-db or historyDB in the config file)"))
	}

	ctx := context.Background()
	store, err := db.Open(ctx, conn)
	if err != nil {
		return exitWith(ExitSetupError, err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if historyBug != "" {
		h, ok, err := store.BugHistory(ctx, historyBug)
		if err != nil {
			return err
		}
		if !ok {
			return exitWith(ExitUsageError, fmt.Errorf("no bug with fingerprint %s", historyBug))
		}
		fmt.Fprintf(out, "Fingerprint:  %s\n", historyBug)
		fmt.Fprintf(out, "First seen:   %s\n", h.FirstSeen.Local().Format(time.DateTime))
		fmt.Fprintf(out, "Last seen:    %s\n", h.LastSeen.Local().Format(time.DateTime))
		fmt.Fprintf(out, "Runs:         %d\n", h.Runs)
		fmt.Fprintf(out, "Occurrences:  %d\n", h.TotalOccurrences)
		return nil
	}

	runs, err := store.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tENV\tUNITS\tPASS\tFLAKY\tFAIL\tERROR\tTIMEOUT\tSKIP\tBUGS\tTIME\t")
	for _, r := range runs {
		result := green("ok")
		if r.Counts.Failed+r.Counts.Errored > 0 {
			result = red("failed")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s %s\t\n",
			r.StartedAt.Local().Format(time.DateTime),
			shortID(r.ID),
			r.Environment,
			r.Counts.Total, r.Counts.Passed, r.Counts.Flaky, r.Counts.Failed,
			r.Counts.Errored, r.Counts.Timeout, r.Counts.Skipped,
			r.Bugs,
			r.Duration().Round(time.Millisecond), result,
		)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
