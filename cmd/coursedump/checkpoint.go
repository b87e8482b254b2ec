package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/ui"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or discard the saved crawl position",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCheckpoint(cmd)
		if err != nil {
			return err
		}

		if !store.Exists() {
			ui.PrintInfo("Checkpoint", "none")
			return nil
		}

		pos := store.Load()
		if len(pos) == 0 {
			ui.PrintWarning("Checkpoint file is empty or damaged", store.Path())
			return nil
		}

		ui.PrintInfo("File", store.Path())
		ui.PrintInfo("Position", pos.String())
		if info, err := os.Stat(store.Path()); err == nil {
			ui.PrintInfo("Saved", info.ModTime().Format("2006-01-02 15:04:05"))
		}
		ui.PrintInfo("Top-level entry", fmt.Sprintf("%d", pos[0]))
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved position so the next crawl starts over",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCheckpoint(cmd)
		if err != nil {
			return err
		}

		if !store.Exists() {
			ui.PrintInfo("Checkpoint", "none")
			return nil
		}
		if err := store.Clear(); err != nil {
			ui.PrintError("Failed to clear checkpoint", err.Error())
			return err
		}
		ui.PrintSuccess("Checkpoint cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)

	checkpointCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory the checkpoint belongs to")
	checkpointCmd.PersistentFlags().StringVar(&checkpointFile, "checkpoint", "", "checkpoint file")
}

func openCheckpoint(cmd *cobra.Command) (*checkpoint.FileStore, error) {
	flags := globalFlags(cmd)
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if checkpointFile != "" {
		flags["checkpoint"] = checkpointFile
	}

	cfg, log, err := setup(flags)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewFileStore(cfg.CheckpointPath(), log), nil
}
