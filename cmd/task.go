package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"polymath/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskToggleCmd = &cobra.Command{
	Use:   "toggle <task-id>",
	Short: "Set a task's done state",
	Long: `Mark a task done (or not done with --done=false). The change applies
immediately; if the backend is unreachable it is queued durably and syncs
later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		done, _ := cmd.Flags().GetBool("done")

		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		m, err := newMutator(q)
		if err != nil {
			return err
		}

		// Seed the pre-toggle state so the flip lands on the requested value.
		m.Store.SeedTask(models.Task{ID: taskID, Done: !done})

		queued, err := m.ToggleTask(cmd.Context(), taskID)
		if err != nil {
			return err
		}

		state := "done"
		if !done {
			state = "not done"
		}
		if queued {
			fmt.Printf("%s offline: task %s -> %s queued, will sync\n", okMark, shortID(taskID), state)
			return nil
		}
		fmt.Printf("%s task %s marked %s\n", okMark, shortID(taskID), state)
		return nil
	},
}

func init() {
	taskToggleCmd.Flags().Bool("done", true, "target done state")
	taskCmd.AddCommand(taskToggleCmd)
	rootCmd.AddCommand(taskCmd)
}
