// Package commands implements the CLI commands for the bookingest services.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bookingest",
	Short: "Bookingest - Reservation spreadsheet ingestion pipeline",
	Long: `Bookingest ingests hotel reservation spreadsheets uploaded in chunks,
assembles them in object storage, and processes them asynchronously through
a transactional outbox and a message bus.

The pipeline is split into two long-running services:

  api     Accepts chunked uploads, serves task status and error reports,
          and publishes outbox events to the broker.
  worker  Consumes task events, validates spreadsheet rows, and upserts
          reservations.

Use "bookingest [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/bookingest/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(initCmd)

	// Hide the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
