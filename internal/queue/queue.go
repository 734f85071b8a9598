// Package queue implements the durable offline queue shared between the
// foreground CLI and the background sync daemon. Entries are append/delete
// only; the two contexts never mutate a payload in place.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"polymath/internal/models"
)

// ErrStorage marks failures of the local store itself (quota, I/O,
// corruption). Callers surface these as "could not save offline", distinct
// from network errors which stay retryable.
var ErrStorage = errors.New("local storage error")

// ErrNotFound is returned when an operation or capture does not exist.
var ErrNotFound = errors.New("not found")

const dbFile = "queue.db"

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w: %w", ErrStorage, err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w: %w", ErrStorage, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w: %w", pragma, ErrStorage, execErr)
		}
	}

	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.path = dbPath
	return store, nil
}

// New wraps an existing database connection and applies the schema.
// Tests use this with an in-memory database.
func New(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_captures (
			id         TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			mime_type  TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS queued_operations (
			id         TEXT PRIMARY KEY,
			op_type    TEXT NOT NULL,
			capture_id TEXT,
			payload    TEXT,
			created_at TEXT NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			dead       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_ops_dead ON queued_operations(dead);
	`)
	if err != nil {
		return nil, fmt.Errorf("init queue schema: %w: %w", ErrStorage, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the on-disk location of the queue database, if file-backed.
func (s *Store) Path() string {
	return s.path
}

// AddPendingCapture stores an audio payload and its paired capture_media
// operation in one transaction, returning the capture ID. Must succeed with
// no network available; it touches only local storage.
func (s *Store) AddPendingCapture(ctx context.Context, payload []byte, mimeType string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w: %w", ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_captures (id, payload, mime_type, created_at) VALUES (?, ?, ?, ?)`,
		id, payload, mimeType, now,
	); err != nil {
		return "", fmt.Errorf("insert capture: %w: %w", ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queued_operations (id, op_type, capture_id, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), string(models.OpCaptureMedia), id, now,
	); err != nil {
		return "", fmt.Errorf("insert operation: %w: %w", ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w: %w", ErrStorage, err)
	}
	return id, nil
}

// Enqueue adds an operation carrying its request body inline (no capture).
func (s *Store) Enqueue(ctx context.Context, opType models.OperationType, payload json.RawMessage) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO queued_operations (id, op_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		id, string(opType), string(payload), now,
	); err != nil {
		return "", fmt.Errorf("enqueue %s: %w: %w", opType, ErrStorage, err)
	}
	return id, nil
}

// GetAllCaptures returns every pending capture in insertion order.
func (s *Store) GetAllCaptures(ctx context.Context) ([]models.PendingCapture, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, mime_type, created_at FROM pending_captures ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	var captures []models.PendingCapture
	for rows.Next() {
		var c models.PendingCapture
		var ts string
		if err := rows.Scan(&c.ID, &c.Payload, &c.MimeType, &ts); err != nil {
			return nil, fmt.Errorf("scan capture: %w: %w", ErrStorage, err)
		}
		c.CreatedAt, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", c.ID, err)
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// GetCapture returns a single pending capture by ID.
func (s *Store) GetCapture(ctx context.Context, id string) (*models.PendingCapture, error) {
	var c models.PendingCapture
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload, mime_type, created_at FROM pending_captures WHERE id = ?`, id,
	).Scan(&c.ID, &c.Payload, &c.MimeType, &ts)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get capture: %w: %w", ErrStorage, err)
	}
	c.CreatedAt, err = parseTimestamp(ts)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PendingOperations returns all live (non-dead-lettered) operations in
// insertion order, so old items are never starved by new arrivals.
func (s *Store) PendingOperations(ctx context.Context) ([]models.QueuedOperation, error) {
	return s.listOperations(ctx, false)
}

// DeadLettered returns operations parked after exhausting their retries.
func (s *Store) DeadLettered(ctx context.Context) ([]models.QueuedOperation, error) {
	return s.listOperations(ctx, true)
}

func (s *Store) listOperations(ctx context.Context, dead bool) ([]models.QueuedOperation, error) {
	deadVal := 0
	if dead {
		deadVal = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, COALESCE(capture_id,''), COALESCE(payload,''), created_at, attempts, dead
		FROM queued_operations WHERE dead = ? ORDER BY rowid ASC`, deadVal)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	var ops []models.QueuedOperation
	for rows.Next() {
		var op models.QueuedOperation
		var opType, payload, ts string
		var deadInt int
		if err := rows.Scan(&op.ID, &opType, &op.CaptureID, &payload, &ts, &op.Attempts, &deadInt); err != nil {
			return nil, fmt.Errorf("scan operation: %w: %w", ErrStorage, err)
		}
		op.Type = models.OperationType(opType)
		if payload != "" {
			op.Payload = json.RawMessage(payload)
		}
		op.Dead = deadInt != 0
		op.CreatedAt, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Delete removes an operation and its associated capture, if any. Only ever
// called after the remote submission returned success; deleting first would
// break the at-least-once guarantee.
func (s *Store) Delete(ctx context.Context, opID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", ErrStorage, err)
	}
	defer tx.Rollback()

	var captureID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT capture_id FROM queued_operations WHERE id = ?`, opID).Scan(&captureID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup operation: %w: %w", ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queued_operations WHERE id = ?`, opID); err != nil {
		return fmt.Errorf("delete operation: %w: %w", ErrStorage, err)
	}
	if captureID.Valid && captureID.String != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_captures WHERE id = ?`, captureID.String); err != nil {
			return fmt.Errorf("delete capture: %w: %w", ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %w", ErrStorage, err)
	}
	return nil
}

// MarkAttempt increments the attempt counter after a failed submission.
func (s *Store) MarkAttempt(ctx context.Context, opID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queued_operations SET attempts = attempts + 1 WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("mark attempt: %w: %w", ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return nil
}

// DeadLetter parks an operation so the drain loop skips it.
func (s *Store) DeadLetter(ctx context.Context, opID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queued_operations SET dead = 1 WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("dead-letter: %w: %w", ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return nil
}

// Retry revives a dead-lettered operation with a fresh attempt budget.
func (s *Store) Retry(ctx context.Context, opID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queued_operations SET dead = 0, attempts = 0 WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("retry: %w: %w", ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return nil
}

// Counts returns the number of live and dead-lettered operations.
func (s *Store) Counts(ctx context.Context) (pending, dead int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN dead = 0 THEN 1 END),
			COUNT(CASE WHEN dead = 1 THEN 1 END)
		FROM queued_operations`).Scan(&pending, &dead)
	if err != nil {
		return 0, 0, fmt.Errorf("count operations: %w: %w", ErrStorage, err)
	}
	return pending, dead, nil
}

// parseTimestamp tries the timestamp formats SQLite may hand back.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
