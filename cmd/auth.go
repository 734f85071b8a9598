package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"polymath/internal/syncconfig"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage backend credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login <api-key>",
	Short: "Store an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil {
			creds = &syncconfig.AuthCredentials{}
		}
		creds.APIKey = args[0]
		if serverURL, _ := cmd.Flags().GetString("server"); serverURL != "" {
			creds.ServerURL = serverURL
		}
		if creds.DeviceID == "" {
			creds.DeviceID, err = syncconfig.GenerateDeviceID()
			if err != nil {
				return err
			}
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			return err
		}
		fmt.Printf("%s credentials saved (device %s)\n", okMark, shortID(creds.DeviceID))
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil || creds.APIKey == "" {
			fmt.Println(dimStyle.Render("not logged in"))
			return nil
		}
		fmt.Printf("%s logged in  device %s  server %s\n",
			okMark, shortID(creds.DeviceID), syncconfig.GetServerURL())
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			return err
		}
		fmt.Printf("%s logged out\n", okMark)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("server", "", "backend URL to store alongside the key")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}
