package optimistic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"polymath/internal/apiclient"
	"polymath/internal/connections"
	"polymath/internal/models"
)

// Backend is the slice of the API client the mutator needs.
type Backend interface {
	CreateListItem(ctx context.Context, listID, content string) (*models.ListItem, error)
	DeleteListItem(ctx context.Context, listID, itemID string) error
	ToggleTask(ctx context.Context, taskID string, done bool) (*models.Task, error)
	CreateConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	DeleteConnection(ctx context.Context, connID string) error
	ListConnections(ctx context.Context, itemType models.EntityType, itemID string) ([]models.Connection, error)
}

// Outbox is the durable queue surface used for the offline fallback.
type Outbox interface {
	Enqueue(ctx context.Context, opType models.OperationType, payload json.RawMessage) (string, error)
}

// Mutator runs the full optimistic flow for each mutation: apply locally,
// issue the request, then confirm in place or roll back. When the request
// fails for connectivity reasons and an outbox is configured, the work is
// enqueued durably and the record is marked pending instead of rolled back.
type Mutator struct {
	Store   *Store
	Backend Backend
	// Outbox holds work when offline; nil disables the fallback.
	Outbox Outbox
	// Cache memoizes ListConnections lookups for the TTL window.
	Cache   *connections.Cache
	Offline func(error) bool
	// Notify fires after a durable enqueue, e.g. to register a sync trigger.
	Notify func()
}

// NewMutator wires a mutator with the default connectivity classifier.
func NewMutator(store *Store, backend Backend, outbox Outbox) *Mutator {
	return &Mutator{
		Store:   store,
		Backend: backend,
		Outbox:  outbox,
		Cache:   connections.NewCache(),
		Offline: apiclient.IsConnectivityError,
	}
}

func (m *Mutator) offline(err error) bool {
	if m.Offline == nil {
		return apiclient.IsConnectivityError(err)
	}
	return m.Offline(err)
}

func (m *Mutator) notify() {
	if m.Notify != nil {
		m.Notify()
	}
}

// AddListItem applies an optimistic item, then reconciles. queued reports
// the offline path: the item stays visible as pending and will sync later.
func (m *Mutator) AddListItem(ctx context.Context, listID, content string) (item models.ListItem, queued bool, err error) {
	cmd := &AddItem{Item: models.ListItem{
		ID:        NewTempID(),
		ListID:    listID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		SyncState: models.SyncOptimistic,
	}}
	m.Store.Apply(cmd)

	server, sendErr := m.Backend.CreateListItem(ctx, listID, content)
	if sendErr != nil {
		if m.offline(sendErr) && m.Outbox != nil {
			payload, _ := json.Marshal(map[string]string{"list_id": listID, "content": content})
			if _, qErr := m.Outbox.Enqueue(ctx, models.OpCreateListItem, payload); qErr == nil {
				m.Store.MarkItemPendingSync(listID, cmd.Item.ID)
				m.notify()
				slog.Info("add item: saved offline", "list", listID)
				return cmd.Item, true, nil
			} else {
				slog.Warn("add item: offline enqueue failed", "err", qErr)
			}
		}
		m.Store.Rollback(cmd)
		return models.ListItem{}, false, fmt.Errorf("create list item: %w", sendErr)
	}

	m.Store.ConfirmItem(listID, cmd.Item.ID, *server)
	return *server, false, nil
}

// RemoveListItem removes an item optimistically, restoring it on failure.
func (m *Mutator) RemoveListItem(ctx context.Context, listID, itemID string) error {
	cmd := &RemoveItem{ListID: listID, ItemID: itemID}
	m.Store.Apply(cmd)

	if err := m.Backend.DeleteListItem(ctx, listID, itemID); err != nil {
		m.Store.Rollback(cmd)
		return fmt.Errorf("delete list item: %w", err)
	}
	return nil
}

// ToggleTask flips a task optimistically, then reconciles.
func (m *Mutator) ToggleTask(ctx context.Context, taskID string) (queued bool, err error) {
	cmd := &ToggleTask{TaskID: taskID}
	m.Store.Apply(cmd)

	task, ok := m.Store.Task(taskID)
	if !ok {
		return false, fmt.Errorf("task %s: unknown", taskID)
	}

	server, sendErr := m.Backend.ToggleTask(ctx, taskID, task.Done)
	if sendErr != nil {
		if m.offline(sendErr) && m.Outbox != nil {
			payload, _ := json.Marshal(map[string]any{"task_id": taskID, "done": task.Done})
			if _, qErr := m.Outbox.Enqueue(ctx, models.OpToggleTask, payload); qErr == nil {
				m.Store.MarkTaskPendingSync(taskID)
				m.notify()
				return true, nil
			} else {
				slog.Warn("toggle task: offline enqueue failed", "err", qErr)
			}
		}
		m.Store.Rollback(cmd)
		return false, fmt.Errorf("toggle task: %w", sendErr)
	}

	m.Store.ConfirmTask(*server)
	return false, nil
}

// AddConnection links two entities optimistically. After the server
// confirms, the per-item cap is enforced: excess connections are pruned by
// the deterministic (createdBy, createdAt) policy and deleted remotely.
func (m *Mutator) AddConnection(ctx context.Context, itemType models.EntityType, itemID string, conn models.Connection) (queued bool, err error) {
	conn.ID = NewTempID()
	conn.CreatedAt = time.Now().UTC()
	conn.SyncState = models.SyncOptimistic
	cmd := &AddConnection{ItemType: itemType, ItemID: itemID, Conn: conn}
	m.Store.Apply(cmd)

	server, sendErr := m.Backend.CreateConnection(ctx, &conn)
	if sendErr != nil {
		if m.offline(sendErr) && m.Outbox != nil {
			payload, mErr := json.Marshal(conn)
			if mErr == nil {
				if _, qErr := m.Outbox.Enqueue(ctx, models.OpCreateConnection, payload); qErr == nil {
					m.Store.MarkConnectionPendingSync(itemType, itemID, conn.ID)
					m.notify()
					return true, nil
				}
			}
		}
		m.Store.Rollback(cmd)
		return false, fmt.Errorf("create connection: %w", sendErr)
	}

	m.Store.ConfirmConnection(itemType, itemID, conn.ID, *server)

	if current := m.Store.Connections(itemType, itemID); len(current) > connections.MaxPerItem {
		keep, deleted := connections.EnforceCap(ctx, m.Backend, current, connections.MaxPerItem)
		m.Store.SetConnections(itemType, itemID, keep)
		if deleted > 0 {
			slog.Info("connection cap enforced", "item", itemID, "deleted", deleted)
		}
	}
	if m.Cache != nil {
		m.Cache.Put(itemType, itemID, m.Store.Connections(itemType, itemID))
	}
	return false, nil
}

// Connections returns the entity's connection set, serving repeat lookups
// from the TTL cache. A fresh fetch also seeds the store so cap
// enforcement sees server state.
func (m *Mutator) Connections(ctx context.Context, itemType models.EntityType, itemID string) ([]models.Connection, error) {
	if m.Cache != nil {
		if conns, ok := m.Cache.Get(itemType, itemID); ok {
			return conns, nil
		}
	}

	conns, err := m.Backend.ListConnections(ctx, itemType, itemID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	m.Store.SetConnections(itemType, itemID, conns)
	if m.Cache != nil {
		m.Cache.Put(itemType, itemID, conns)
	}
	return conns, nil
}
