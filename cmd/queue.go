package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"polymath/internal/models"
	"polymath/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		ctx := cmd.Context()
		pending, err := q.PendingOperations(ctx)
		if err != nil {
			return err
		}
		dead, err := q.DeadLettered(ctx)
		if err != nil {
			return err
		}

		if len(pending) == 0 && len(dead) == 0 {
			fmt.Println(dimStyle.Render("queue is empty"))
			return nil
		}

		for _, op := range pending {
			printOp(op)
		}
		for _, op := range dead {
			printOp(op)
		}
		return nil
	},
}

func printOp(op models.QueuedOperation) {
	mark := okMark
	note := ""
	if op.Dead {
		mark = deadMark
		note = dimStyle.Render("  dead-lettered, use 'queue retry'")
	} else if op.Attempts > 0 {
		mark = failMark
		note = dimStyle.Render(fmt.Sprintf("  %d failed attempts", op.Attempts))
	}
	fmt.Printf("%s %s  %-18s %s%s\n",
		mark, shortID(op.ID), op.Type,
		dimStyle.Render(op.CreatedAt.Local().Format("2006-01-02 15:04")), note)
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Revive a dead-lettered operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		id, err := resolveOpID(cmd, q, args[0])
		if err != nil {
			return err
		}
		if err := q.Retry(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s operation %s requeued\n", okMark, shortID(id))
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Drop an operation without sending it",
	Long:  `Permanently discard a queued operation and any audio payload it references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		id, err := resolveOpID(cmd, q, args[0])
		if err != nil {
			return err
		}
		if err := q.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s operation %s removed\n", okMark, shortID(id))
		return nil
	},
	Args: cobra.ExactArgs(1),
}

// resolveOpID accepts either a full operation ID or a unique prefix.
func resolveOpID(cmd *cobra.Command, q *queue.Store, arg string) (string, error) {
	ctx := cmd.Context()
	pending, err := q.PendingOperations(ctx)
	if err != nil {
		return "", err
	}
	dead, err := q.DeadLettered(ctx)
	if err != nil {
		return "", err
	}

	var match string
	for _, op := range append(pending, dead...) {
		if op.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(op.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("prefix %q is ambiguous", arg)
			}
			match = op.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no queued operation matches %q", arg)
	}
	return match, nil
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	rootCmd.AddCommand(queueCmd)
}
