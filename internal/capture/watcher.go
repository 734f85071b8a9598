package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a dropped file must stay quiet before ingestion,
// so partially written files are not picked up mid-copy.
const settleDelay = 500 * time.Millisecond

// mimeByExt maps recognized audio extensions to MIME types.
var mimeByExt = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
}

// Enqueuer stores a capture payload durably.
type Enqueuer interface {
	AddPendingCapture(ctx context.Context, payload []byte, mimeType string) (string, error)
}

// Watcher ingests audio files dropped into a directory: each recognized
// file is read, enqueued as a pending capture, and removed from disk.
type Watcher struct {
	Dir    string
	Queue  Enqueuer
	Notify func() // fired after each successful ingestion

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Run watches the directory until ctx is cancelled. Files already present
// at startup are ingested first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	w.scanExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, ok := mimeByExt[strings.ToLower(filepath.Ext(event.Name))]; !ok {
				continue
			}
			w.ingestAfterSettle(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		slog.Warn("scan watch dir", "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := mimeByExt[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		w.ingest(ctx, filepath.Join(w.Dir, entry.Name()))
	}
}

// ingestAfterSettle (re)arms a per-file timer so a file still being written
// is only ingested once writes stop.
func (w *Watcher) ingestAfterSettle(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timers == nil {
		w.timers = make(map[string]*time.Timer)
	}
	if timer, ok := w.timers[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.timers[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("read dropped file", "path", path, "err", err)
		}
		return
	}
	if len(data) == 0 {
		slog.Warn("skipping empty dropped file", "path", path)
		return
	}

	mimeType := mimeByExt[strings.ToLower(filepath.Ext(path))]
	id, err := w.Queue.AddPendingCapture(ctx, data, mimeType)
	if err != nil {
		// Leave the file in place; a later scan can retry.
		slog.Error("enqueue dropped file", "path", path, "err", err)
		return
	}

	if err := os.Remove(path); err != nil {
		slog.Warn("remove ingested file", "path", path, "err", err)
	}
	slog.Info("ingested capture", "path", filepath.Base(path), "capture", id)
	if w.Notify != nil {
		w.Notify()
	}
}
