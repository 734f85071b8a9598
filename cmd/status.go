package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"polymath/internal/syncconfig"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and server reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		pending, dead, err := q.Counts(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s %d pending", boldStyle.Render("queue:"), pending)
		if dead > 0 {
			fmt.Printf("  %s %d dead-lettered", deadMark, dead)
		}
		fmt.Println()

		client, err := newClient()
		if err != nil {
			return err
		}
		if _, err := client.HealthCheck(cmd.Context()); err != nil {
			fmt.Printf("%s %s %s\n", boldStyle.Render("server:"), failMark,
				dimStyle.Render(syncconfig.GetServerURL()+" unreachable"))
		} else {
			fmt.Printf("%s %s %s\n", boldStyle.Render("server:"), okMark,
				dimStyle.Render(syncconfig.GetServerURL()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
