package cmd

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the offline queue now",
	Long: `Attempt one submission for every queued item. Items that fail stay
queued for the next sync; nothing is removed before the server confirms.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		s, err := newSyncer(q)
		if err != nil {
			return err
		}
		result, err := s.Drain(cmd.Context())
		if err != nil {
			return err
		}
		printDrainResult(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
