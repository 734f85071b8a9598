package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"polymath/internal/apiclient"
	"polymath/internal/capture"
	"polymath/internal/models"
	"polymath/internal/queue"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a voice note and transcribe it",
	Long: `Record from the microphone until interrupted (Ctrl-C), then upload
for transcription. If the backend is unreachable the recording is saved to
the durable queue and uploaded on the next sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sess, err := capture.Begin(ctx, capture.DefaultRecorder())
		if err != nil {
			if errors.Is(err, capture.ErrPermission) {
				return fmt.Errorf("microphone unavailable: %w", err)
			}
			return err
		}
		// The microphone is released on every exit path below.
		defer sess.Close()

		fmt.Println(dimStyle.Render("recording... press Ctrl-C to stop"))
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)
		select {
		case <-stop:
		case <-ctx.Done():
			return ctx.Err()
		}

		data, mimeType, err := sess.Finish(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrEmptyRecording) {
				return fmt.Errorf("nothing was recorded")
			}
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		pc := &models.PendingCapture{ID: "live", Payload: data, MimeType: mimeType, CreatedAt: time.Now().UTC()}
		resp, err := client.UploadCapture(ctx, pc)
		if err == nil {
			fmt.Printf("%s transcribed:\n%s\n", okMark, resp.Text)
			return nil
		}
		if !apiclient.IsConnectivityError(err) {
			// Remote rejection: actionable, not worth queueing as-is.
			return fmt.Errorf("transcription failed: %w", err)
		}

		// Offline: keep the audio durably and sync later.
		q, qErr := openQueue()
		if qErr != nil {
			return fmt.Errorf("offline and %w", qErr)
		}
		defer q.Close()

		id, qErr := q.AddPendingCapture(ctx, data, mimeType)
		if qErr != nil {
			if errors.Is(qErr, queue.ErrStorage) {
				return fmt.Errorf("could not save offline: %w", qErr)
			}
			return qErr
		}
		fmt.Printf("%s offline: capture %s saved, will sync\n", okMark, shortID(id))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
}
