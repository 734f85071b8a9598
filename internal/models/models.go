package models

import (
	"encoding/json"
	"time"
)

// EntityType represents the canonical entity types exposed by the backend.
type EntityType string

const (
	EntityProject    EntityType = "project"
	EntityList       EntityType = "list"
	EntityListItem   EntityType = "list_item"
	EntityTask       EntityType = "task"
	EntityNote       EntityType = "note"
	EntityConnection EntityType = "connection"
)

// AllEntityTypes returns all valid entity types.
func AllEntityTypes() map[EntityType]bool {
	return map[EntityType]bool{
		EntityProject:    true,
		EntityList:       true,
		EntityListItem:   true,
		EntityTask:       true,
		EntityNote:       true,
		EntityConnection: true,
	}
}

// Origin identifies who created a record.
type Origin string

const (
	OriginUser Origin = "user"
	OriginAI   Origin = "ai"
)

// OperationType represents the kind of work held in the durable queue.
type OperationType string

const (
	OpCaptureMedia     OperationType = "capture_media"
	OpCreateListItem   OperationType = "create_list_item"
	OpToggleTask       OperationType = "toggle_task"
	OpCreateConnection OperationType = "create_connection"
)

// AllOperationTypes returns all valid queued operation types.
func AllOperationTypes() map[OperationType]bool {
	return map[OperationType]bool{
		OpCaptureMedia:     true,
		OpCreateListItem:   true,
		OpToggleTask:       true,
		OpCreateConnection: true,
	}
}

// SyncState marks how a record relates to the backend.
type SyncState string

const (
	SyncConfirmed   SyncState = "confirmed"    // server-assigned, authoritative
	SyncOptimistic  SyncState = "optimistic"   // applied locally, request in flight
	SyncPendingSync SyncState = "pending_sync" // enqueued durably, awaiting drain
)

// ListItem is a single entry in a list.
type ListItem struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	SyncState SyncState `json:"-"`
}

// Task is a project task with a done toggle.
type Task struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
	SyncState SyncState `json:"-"`
}

// Connection links two entities, created either by the user or by suggestion.
type Connection struct {
	ID         string     `json:"id"`
	SourceType EntityType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	TargetType EntityType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	CreatedBy  Origin     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	SyncState  SyncState  `json:"-"`
}

// PendingCapture is an audio payload recorded while offline, held durably
// until the backend confirms receipt.
type PendingCapture struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"-"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// QueuedOperation is one unit of deferred work in the durable queue. For
// capture_media operations CaptureID references the PendingCapture holding
// the binary payload; other operations carry their request body inline.
type QueuedOperation struct {
	ID        string          `json:"id"`
	Type      OperationType   `json:"type"`
	CaptureID string          `json:"capture_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	Dead      bool            `json:"dead"`
}

// Suggestion is one AI-ranked connection candidate.
type Suggestion struct {
	TargetType EntityType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Title      string     `json:"title"`
	Score      float64    `json:"score"` // similarity in [0,1]
}
