package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"coursedump/pkg/config"
	"coursedump/pkg/crawl"
	"coursedump/pkg/logger"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/ui"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the top-level entries with their indices",
	Long: `List every entry directly below the root, i.e. the messaging folder followed
by all courses and projects. The index in the first column is what --start-index
expects. Entries excluded by --start-index or --scope are marked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := globalFlags(cmd)
		if cmd.Flags().Changed("start-index") {
			flags["start-index"] = startIndex
		}
		if scope != "" {
			flags["scope"] = scope
		}

		cfg, log, err := setup(flags)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		site, _, err := connect(cfg, ratelimit.NewDelay(cfg.Crawl.RateLimitDelay), log)
		if err != nil {
			return err
		}

		entries, err := crawl.ListTopLevel(ctx, site, site.Root(), crawlOptions(cfg))
		if err != nil {
			ui.PrintError("Failed to list entries", err.Error())
			return err
		}

		shown := 0
		for _, e := range entries {
			if !e.Included && !listAll {
				continue
			}
			label := e.Node.Label()
			if !e.Included {
				label += ui.Dim(" (skipped)")
			}
			ui.PrintEntry(e.Index, string(e.Node.Kind), label)
			shown++
		}
		fmt.Fprintf(ui.Output, "\n%d of %d entries\n", shown, len(entries))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().IntVar(&startIndex, "start-index", 0, "mark entries before this index as skipped")
	listCmd.Flags().StringVar(&scope, "scope", "", "all, containers-only or leaf-messages-only")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "also print entries a crawl would skip")
}

// setup loads the configuration and installs the global logger
func setup(flags map[string]interface{}) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		return nil, nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		return nil, nil, err
	}
	return cfg, logger.GetLogger(), nil
}
