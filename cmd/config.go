package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"polymath/internal/syncconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change client configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dropDir, err := syncconfig.GetDropDir()
		if err != nil {
			return err
		}
		fmt.Printf("server_url      %s\n", syncconfig.GetServerURL())
		fmt.Printf("sync_enabled    %v\n", syncconfig.GetSyncEnabled())
		fmt.Printf("drop_dir        %s\n", dropDir)
		fmt.Printf("probe_interval  %s\n", syncconfig.GetProbeInterval())
		fmt.Printf("max_attempts    %d\n", syncconfig.GetMaxAttempts())
		fmt.Printf("authenticated   %v\n", syncconfig.IsAuthenticated())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  `Keys: server-url, sync-enabled, drop-dir, probe-interval.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return err
		}

		key, value := args[0], args[1]
		switch key {
		case "server-url":
			cfg.Sync.URL = value
		case "sync-enabled":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("sync-enabled wants true or false, got %q", value)
			}
			cfg.Sync.Enabled = &enabled
		case "drop-dir":
			cfg.Capture.DropDir = value
		case "probe-interval":
			cfg.Sync.ProbeInterval = value
		default:
			return fmt.Errorf("unknown config key %q", key)
		}

		if err := syncconfig.SaveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("%s %s = %s\n", okMark, key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
