package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage list items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add <list-id> <content>",
	Short: "Add an item to a list",
	Long: `Add an item to a list. The item is created immediately; if the
backend is unreachable it is queued durably and syncs later.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		m, err := newMutator(q)
		if err != nil {
			return err
		}

		item, queued, err := m.AddListItem(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if queued {
			fmt.Printf("%s offline: item %s queued, will sync\n", okMark, shortID(item.ID))
			return nil
		}
		fmt.Printf("%s item %s added to %s\n", okMark, shortID(item.ID), args[0])
		return nil
	},
}

var itemRemoveCmd = &cobra.Command{
	Use:   "remove <list-id> <item-id>",
	Short: "Remove an item from a list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		m, err := newMutator(q)
		if err != nil {
			return err
		}

		if err := m.RemoveListItem(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s item %s removed\n", okMark, shortID(args[1]))
		return nil
	},
}

func init() {
	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemRemoveCmd)
	rootCmd.AddCommand(itemCmd)
}
