package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"coursedump/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	logFile       string
	profile       string
	baseURL       string
	notifications bool
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "coursedump",
	Short: "Archive the content tree of a learning platform to disk",
	Long: `coursedump walks every course, project, folder and message thread visible to
your session and writes the files it finds into a mirrored directory tree.

Features:
  - Resumable runs: an interrupted crawl continues where it stopped
  - Failure policy: skip or abort on broken entries, interactively or not
  - Path length handling with an overflow folder for deep trees
  - Session cookies stored in the system keychain
  - Optional SQLite journal of every write and failure`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() != "version" && cmd.Name() != "help" && !useTUI {
			ui.PrintBanner()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coursedump %s\n", rootCmd.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s\nOS/Arch: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.coursedump.yaml or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "stored session profile to use")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "base URL of the platform")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", false, "send a desktop notification when the run ends")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every written file")

	rootCmd.SetVersionTemplate(`coursedump {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags collects the persistent flags the user actually set
func globalFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if logFile != "" {
		flags["log-file"] = logFile
	}
	if profile != "" {
		flags["profile"] = profile
	}
	if baseURL != "" {
		flags["base-url"] = baseURL
	}
	if cmd.Flags().Changed("notifications") {
		flags["notifications"] = notifications
	}
	return flags
}
