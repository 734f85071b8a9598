package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var version string

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "polymath",
	Short: "Offline-first capture client for the Polymath backend",
	Long: `polymath - offline-first capture and sync client.

Voice captures and mutations made while offline land in a durable local
queue and sync to the backend when connectivity returns.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
