package cmd

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"polymath/internal/queue"
)

var captureCmd = &cobra.Command{
	Use:   "capture <audio-file>",
	Short: "Enqueue an audio file for transcription",
	Long: `Store an audio file in the durable queue. The capture survives
restarts and uploads on the next sync, so this works fully offline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if len(data) == 0 {
			return fmt.Errorf("%s is empty", path)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		id, err := q.AddPendingCapture(cmd.Context(), data, mimeType)
		if err != nil {
			if errors.Is(err, queue.ErrStorage) {
				return fmt.Errorf("could not save offline: %w", err)
			}
			return err
		}

		fmt.Printf("%s capture %s queued (%d bytes, %s)\n", okMark, shortID(id), len(data), mimeType)

		if syncNow, _ := cmd.Flags().GetBool("sync"); syncNow {
			s, err := newSyncer(q)
			if err != nil {
				return err
			}
			result, err := s.Drain(cmd.Context())
			if err != nil {
				return err
			}
			printDrainResult(result)
		} else {
			fmt.Println(dimStyle.Render("saved offline, will sync"))
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().Bool("sync", false, "attempt an immediate sync after queuing")
	rootCmd.AddCommand(captureCmd)
}
