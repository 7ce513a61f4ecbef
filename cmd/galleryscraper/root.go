package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"galleryscraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "galleryscraper",
	Short: "Durable metadata extraction for paginated media galleries",
	Long: `galleryscraper enumerates every item of a paginated or infinitely scrolling
gallery in a real browser and extracts structured metadata for each one.

Features:
  - Scroll, "next" and "load more" discovery with a loop guard
  - Concurrent extraction across long-lived browser sessions
  - Status-aware navigation backoff and multi-round failure retries
  - Proxy rotation with health tracking and optional VPN rotation
  - Resumable discovery and an aggregated per-job failure log`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet || cmd.Name() == "version" || cmd.Name() == "help" {
			return
		}
		ui.NewPrinter(cmd.OutOrStdout(), noColor).Banner(version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.galleryscraper.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress banner and progress output")

	rootCmd.SetVersionTemplate(`galleryscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "galleryscraper %s (commit: %s, built: %s) %s %s/%s\n",
			version, gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
