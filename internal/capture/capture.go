// Package capture manages recording sessions: scoped microphone
// acquisition with guaranteed release on every exit path, and ingestion of
// audio files dropped into a watched directory.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Fail-fast conditions: retrying these without fixing the underlying cause
// is futile, so they never enter the durable queue.
var (
	ErrPermission     = errors.New("microphone permission denied")
	ErrEmptyRecording = errors.New("empty recording")
)

// stopConfirmTimeout bounds the wait for the platform's stop confirmation;
// the event may simply never fire.
const stopConfirmTimeout = 3 * time.Second

// Recorder acquires the platform microphone.
type Recorder interface {
	Start(ctx context.Context) (Stream, error)
}

// Stream is an active microphone capture.
type Stream interface {
	// Stop releases the underlying device. Idempotency is the session's
	// job; Stop itself is called at most once.
	Stop() error
	// Done is closed when the platform confirms the stream has flushed.
	Done() <-chan struct{}
	// Bytes returns the recorded payload after the stream stopped.
	Bytes() ([]byte, error)
	// MimeType reports the encoding of the recorded payload.
	MimeType() string
}

// Session owns one recording from acquisition to release. The microphone
// is released exactly once no matter which path exits first: success,
// error, or teardown.
type Session struct {
	stream   Stream
	stopOnce sync.Once
	stopErr  error
}

// Begin acquires the microphone and starts recording.
func Begin(ctx context.Context, rec Recorder) (*Session, error) {
	stream, err := rec.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}
	return &Session{stream: stream}, nil
}

// release stops the stream at most once.
func (s *Session) release() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stream.Stop()
	})
	return s.stopErr
}

// Finish stops the recording and returns the payload and its MIME type.
// The device is released before any payload handling, on every path. The
// stop confirmation wait is bounded: if the platform never confirms,
// Finish proceeds with whatever was flushed.
func (s *Session) Finish(ctx context.Context) ([]byte, string, error) {
	if err := s.release(); err != nil {
		return nil, "", fmt.Errorf("stop recording: %w", err)
	}

	select {
	case <-s.stream.Done():
	case <-time.After(stopConfirmTimeout):
		slog.Warn("capture: stop confirmation timed out, proceeding")
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	data, err := s.stream.Bytes()
	if err != nil {
		return nil, "", fmt.Errorf("read recording: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyRecording
	}
	return data, s.stream.MimeType(), nil
}

// Close releases the microphone. Safe to call on any path, any number of
// times; typically deferred at session start to cover teardown.
func (s *Session) Close() error {
	return s.release()
}
