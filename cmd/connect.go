package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"polymath/internal/models"
)

func parseEntityType(s string) (models.EntityType, error) {
	t := models.EntityType(s)
	if !models.AllEntityTypes()[t] {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

var connectCmd = &cobra.Command{
	Use:   "connect <source-type> <source-id> <target-type> <target-id>",
	Short: "Link two entities",
	Long: `Create a connection between two entities. The connection appears
immediately; if the backend is unreachable it is queued durably and syncs
later. Each entity keeps at most five persisted connections; creating a
sixth evicts the oldest AI-suggested one first. User-made connections are
never evicted ahead of suggested ones.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sourceType, err := parseEntityType(args[0])
		if err != nil {
			return err
		}
		targetType, err := parseEntityType(args[2])
		if err != nil {
			return err
		}

		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		m, err := newMutator(q)
		if err != nil {
			return err
		}

		// Seed the existing set so cap enforcement sees server state.
		// When the lookup fails the add below still queues durably.
		_, _ = m.Connections(ctx, sourceType, args[1])

		queued, err := m.AddConnection(ctx, sourceType, args[1], models.Connection{
			SourceType: sourceType,
			SourceID:   args[1],
			TargetType: targetType,
			TargetID:   args[3],
			CreatedBy:  models.OriginUser,
		})
		if err != nil {
			return err
		}
		if queued {
			fmt.Printf("%s offline: connection %s/%s -> %s/%s queued, will sync\n",
				okMark, sourceType, args[1], targetType, args[3])
			return nil
		}
		fmt.Printf("%s connected %s/%s -> %s/%s\n", okMark, sourceType, args[1], targetType, args[3])
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <item-type> <item-id>",
	Short: "Show suggested connections for an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemType, err := parseEntityType(args[0])
		if err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		suggestions, err := client.Suggestions(cmd.Context(), itemType, args[1])
		if err != nil {
			return err
		}
		if len(suggestions) == 0 {
			fmt.Println(dimStyle.Render("no suggestions"))
			return nil
		}
		for _, s := range suggestions {
			fmt.Printf("%s %-10s %s  %s\n",
				okMark, s.TargetType, boldStyle.Render(s.Title),
				dimStyle.Render(fmt.Sprintf("%s  score %.2f", shortID(s.TargetID), s.Score)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(suggestCmd)
}
