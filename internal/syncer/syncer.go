// Package syncer drains the durable queue against the backend. One
// submission attempt per item per invocation; retries arrive only through a
// future trigger, never by busy-looping.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"polymath/internal/apiclient"
	"polymath/internal/models"
	"polymath/internal/queue"
)

// DefaultMaxAttempts is the retry budget before an item is dead-lettered.
// Without a cap a permanently malformed item would retry forever.
const DefaultMaxAttempts = 10

// Syncer drains queued operations to the backend.
type Syncer struct {
	Queue       *queue.Store
	Client      *apiclient.Client
	MaxAttempts int
}

// New creates a syncer with the default retry budget.
func New(q *queue.Store, client *apiclient.Client) *Syncer {
	return &Syncer{Queue: q, Client: client, MaxAttempts: DefaultMaxAttempts}
}

// DrainResult summarises one drain pass.
type DrainResult struct {
	Sent   int
	Failed int
	Dead   int
}

// Drain attempts one submission for every live queued operation. A failing
// item is left in place for the next trigger and never blocks its siblings.
// Item outcomes are logged; only queue enumeration errors are returned.
func (s *Syncer) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	ops, err := s.Queue.PendingOperations(ctx)
	if err != nil {
		return result, fmt.Errorf("enumerate pending: %w", err)
	}

	for _, op := range ops {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if err := s.submit(ctx, op); err != nil {
			result.Failed++
			attempts := op.Attempts + 1
			slog.Warn("sync: submit failed", "op", op.ID, "type", op.Type, "attempt", attempts, "err", err)

			if markErr := s.Queue.MarkAttempt(ctx, op.ID); markErr != nil {
				slog.Error("sync: mark attempt", "op", op.ID, "err", markErr)
				continue
			}
			if attempts >= s.maxAttempts() {
				if dlErr := s.Queue.DeadLetter(ctx, op.ID); dlErr != nil {
					slog.Error("sync: dead-letter", "op", op.ID, "err", dlErr)
					continue
				}
				result.Dead++
				slog.Error("sync: dead-lettered after exhausting retries", "op", op.ID, "type", op.Type, "attempts", attempts)
			}
			continue
		}

		// Delete only after the remote call confirmed success.
		if err := s.Queue.Delete(ctx, op.ID); err != nil {
			slog.Error("sync: delete after success", "op", op.ID, "err", err)
			continue
		}
		result.Sent++
		slog.Info("sync: sent", "op", op.ID, "type", op.Type)
	}

	return result, nil
}

// submit performs exactly one network submission for the operation.
func (s *Syncer) submit(ctx context.Context, op models.QueuedOperation) error {
	switch op.Type {
	case models.OpCaptureMedia:
		capture, err := s.Queue.GetCapture(ctx, op.CaptureID)
		if err != nil {
			return fmt.Errorf("load capture: %w", err)
		}
		if _, err := s.Client.UploadCapture(ctx, capture); err != nil {
			return err
		}
		return nil

	case models.OpCreateListItem:
		var p struct {
			ListID  string `json:"list_id"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		_, err := s.Client.CreateListItem(ctx, p.ListID, p.Content)
		return err

	case models.OpToggleTask:
		var p struct {
			TaskID string `json:"task_id"`
			Done   bool   `json:"done"`
		}
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		_, err := s.Client.ToggleTask(ctx, p.TaskID, p.Done)
		return err

	case models.OpCreateConnection:
		var conn models.Connection
		if err := json.Unmarshal(op.Payload, &conn); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		_, err := s.Client.CreateConnection(ctx, &conn)
		return err

	default:
		return errors.New("unknown operation type " + string(op.Type))
	}
}

func (s *Syncer) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}
