package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"coursedump/pkg/journal"
	"coursedump/pkg/ui"
)

var runLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the run journal",
	Long:  `Query the SQLite journal written by 'coursedump crawl --journal' or journal.enabled.`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer j.Close()

		runs, err := j.Runs(cmd.Context(), runLimit)
		if err != nil {
			ui.PrintError("Failed to read runs", err.Error())
			return err
		}
		if len(runs) == 0 {
			ui.PrintInfo("Journal", "no runs recorded")
			return nil
		}

		for _, r := range runs {
			status := ui.Yellow("running")
			switch {
			case r.Complete:
				status = ui.Green("complete")
			case r.Aborted:
				status = ui.Red("aborted")
			case r.FinishedAt != nil:
				status = ui.Yellow("incomplete")
			}
			fmt.Fprintf(ui.Output, "#%-4d %s  %-10s files=%d failures=%d skipped=%d last=%s\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04"), status, r.Files, r.Failures, r.Skipped, r.LastPosition)
		}
		return nil
	},
}

var journalFailuresCmd = &cobra.Command{
	Use:   "failures [run-id]",
	Short: "List the failures of a run (default: the last run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer j.Close()

		runID, err := pickRun(cmd.Context(), j, args)
		if err != nil {
			return err
		}

		failures, err := j.Failures(cmd.Context(), runID)
		if err != nil {
			ui.PrintError("Failed to read failures", err.Error())
			return err
		}
		if len(failures) == 0 {
			ui.PrintInfo(fmt.Sprintf("Run #%d", runID), "no failures")
			return nil
		}

		for _, f := range failures {
			fmt.Fprintf(ui.Output, "%s %s %s\n", ui.Yellow(f.Position), ui.Dim(f.Kind), f.Name)
			if f.Locator != "" {
				fmt.Fprintf(ui.Output, "   Location: %s\n", f.Locator)
			}
			fmt.Fprintf(ui.Output, "   Error (%s): %s\n", f.ErrorKind, f.Error)
			fmt.Fprintf(ui.Output, "   Decision: %s\n", f.Decision)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd, journalFailuresCmd)

	journalCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "journal file (default: <output>/journal.db)")
	journalCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory the journal belongs to")
	journalRunsCmd.Flags().IntVarP(&runLimit, "limit", "n", 10, "number of runs to show")
}

func openJournal(cmd *cobra.Command) (*journal.Journal, error) {
	flags := globalFlags(cmd)
	if journalPath != "" {
		flags["journal"] = journalPath
	}
	if outputDir != "" {
		flags["output"] = outputDir
	}

	cfg, log, err := setup(flags)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(cfg.JournalPath(), log)
	if err != nil {
		ui.PrintError("Failed to open journal", err.Error())
		return nil, err
	}
	return j, nil
}

func pickRun(ctx context.Context, j *journal.Journal, args []string) (int64, error) {
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid run id %q", args[0])
		}
		return id, nil
	}

	last, err := j.LastRun(ctx)
	if err != nil {
		ui.PrintError("No runs recorded", err.Error())
		return 0, err
	}
	return last.ID, nil
}
