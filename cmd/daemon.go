package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"polymath/internal/capture"
	"polymath/internal/syncconfig"
	"polymath/internal/trigger"
)

// drainInterval is the safety-net drain cadence when no trigger fires.
const drainInterval = 5 * time.Minute

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Watch the capture drop directory, probe backend connectivity, and
drain the offline queue whenever a sync trigger fires. Only one daemon
instance runs per data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logFile, _ := cmd.Flags().GetString("log-file")
		if logFile != "" {
			slog.SetDefault(slog.New(slog.NewTextHandler(&lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
			}, nil)))
		}

		if !syncconfig.GetSyncEnabled() {
			return errors.New("background sync is disabled; enable it with 'polymath config set sync-enabled true'")
		}

		dataDir, err := syncconfig.DataDir()
		if err != nil {
			return err
		}

		lock := flock.New(filepath.Join(dataDir, "daemon.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire daemon lock: %w", err)
		}
		if !locked {
			return errors.New("another daemon is already running")
		}
		defer lock.Unlock()

		return runDaemon(cmd.Context())
	},
}

func runDaemon(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	q, err := openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	s, err := newSyncer(q)
	if err != nil {
		return err
	}

	dropDir, err := syncconfig.GetDropDir()
	if err != nil {
		return err
	}

	trig := trigger.New()
	// Anything already queued from a previous run deserves a first try.
	trig.Register(trigger.TagSyncCaptures)

	prober := &trigger.Prober{
		Check: func(ctx context.Context) error {
			_, err := s.Client.HealthCheck(ctx)
			return err
		},
		Trigger:  trig,
		Tag:      trigger.TagSyncCaptures,
		Interval: syncconfig.GetProbeInterval(),
	}

	watcher := &capture.Watcher{
		Dir:    dropDir,
		Queue:  q,
		Notify: func() { trig.Register(trigger.TagSyncCaptures) },
	}

	slog.Info("daemon started", "data_dir", filepath.Dir(q.Path()), "drop_dir", dropDir)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prober.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-trig.Wake(trigger.TagSyncCaptures):
			case <-ticker.C:
			}

			result, err := s.Drain(ctx)
			if err != nil {
				slog.Error("drain", "err", err)
				continue
			}
			if result.Sent > 0 || result.Failed > 0 {
				slog.Info("drain complete", "sent", result.Sent, "failed", result.Failed, "dead", result.Dead)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		slog.Info("daemon stopped")
		return nil
	}
	return err
}

func init() {
	daemonCmd.Flags().String("log-file", "", "write logs to a rotating file instead of stderr")
	rootCmd.AddCommand(daemonCmd)
}
