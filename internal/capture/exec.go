package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// ExecRecorder records through an external capture tool (arecord, sox,
// ffmpeg) that writes the encoded audio to stdout until terminated.
type ExecRecorder struct {
	Command string   // e.g. "arecord"
	Args    []string // e.g. ["-f", "cd", "-t", "wav", "-"]
	Mime    string   // encoding produced by the tool
}

// DefaultRecorder captures WAV via arecord, the common ALSA tool.
func DefaultRecorder() *ExecRecorder {
	return &ExecRecorder{
		Command: "arecord",
		Args:    []string{"-f", "cd", "-t", "wav", "-"},
		Mime:    "audio/wav",
	}
}

// Start launches the capture process.
func (r *ExecRecorder) Start(ctx context.Context) (Stream, error) {
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s not installed: %w", r.Command, err)
		}
		return nil, err
	}

	s := &execStream{
		cmd:  cmd,
		out:  &out,
		errs: &errBuf,
		mime: r.Mime,
		done: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()
	return s, nil
}

type execStream struct {
	cmd     *exec.Cmd
	out     *bytes.Buffer
	errs    *bytes.Buffer
	mime    string
	done    chan struct{}
	waitErr error
}

// Stop asks the tool to finish; it flushes and exits on SIGTERM.
func (s *execStream) Stop() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal recorder: %w", err)
	}
	return nil
}

func (s *execStream) Done() <-chan struct{} { return s.done }

func (s *execStream) Bytes() ([]byte, error) {
	stderr := strings.TrimSpace(s.errs.String())
	if stderr != "" && s.out.Len() == 0 {
		if strings.Contains(strings.ToLower(stderr), "permission") ||
			strings.Contains(strings.ToLower(stderr), "busy") {
			return nil, fmt.Errorf("%w: %s", ErrPermission, stderr)
		}
	}
	return s.out.Bytes(), nil
}

func (s *execStream) MimeType() string { return s.mime }
