package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"polymath/internal/models"
)

var errDown = errors.New("connection refused")

// fakeBackend scripts per-call outcomes.
type fakeBackend struct {
	createItemErr error
	createConnErr error
	toggleErr     error
	deleteItemErr error
	listConnErr   error

	deletedConns []string
	listedConns  []models.Connection
	listCalls    int
	connSeq      int
}

func (f *fakeBackend) CreateListItem(_ context.Context, listID, content string) (*models.ListItem, error) {
	if f.createItemErr != nil {
		return nil, f.createItemErr
	}
	return &models.ListItem{ID: "srv-1", ListID: listID, Content: content}, nil
}

func (f *fakeBackend) DeleteListItem(_ context.Context, _, _ string) error {
	return f.deleteItemErr
}

func (f *fakeBackend) ToggleTask(_ context.Context, taskID string, done bool) (*models.Task, error) {
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}
	return &models.Task{ID: taskID, Done: done}, nil
}

func (f *fakeBackend) CreateConnection(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	if f.createConnErr != nil {
		return nil, f.createConnErr
	}
	f.connSeq++
	out := *conn
	out.ID = "srv-conn-" + string(rune('0'+f.connSeq))
	return &out, nil
}

func (f *fakeBackend) DeleteConnection(_ context.Context, connID string) error {
	f.deletedConns = append(f.deletedConns, connID)
	return nil
}

func (f *fakeBackend) ListConnections(_ context.Context, _ models.EntityType, _ string) ([]models.Connection, error) {
	f.listCalls++
	if f.listConnErr != nil {
		return nil, f.listConnErr
	}
	return f.listedConns, nil
}

// fakeOutbox records enqueued operations.
type fakeOutbox struct {
	ops  []models.OperationType
	err  error
	body []json.RawMessage
}

func (f *fakeOutbox) Enqueue(_ context.Context, opType models.OperationType, payload json.RawMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.ops = append(f.ops, opType)
	f.body = append(f.body, payload)
	return "op-1", nil
}

func newMutator(backend *fakeBackend, outbox *fakeOutbox) *Mutator {
	m := NewMutator(NewStore(), backend, nil)
	if outbox != nil {
		m.Outbox = outbox
	}
	m.Offline = func(err error) bool { return errors.Is(err, errDown) }
	return m
}

func TestAddListItem_Success(t *testing.T) {
	m := newMutator(&fakeBackend{}, nil)
	seedList(m.Store, "l1", 1)

	item, queued, err := m.AddListItem(context.Background(), "l1", "milk")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if queued {
		t.Fatal("online path should not queue")
	}
	if item.ID != "srv-1" {
		t.Errorf("returned item: got %s, want server record", item.ID)
	}

	items := m.Store.Items("l1")
	if len(items) != 2 || items[1].ID != "srv-1" {
		t.Fatalf("store items: got %+v", items)
	}
	if items[1].SyncState != models.SyncConfirmed {
		t.Errorf("sync state: got %s", items[1].SyncState)
	}
	if got := m.Store.ItemCount("l1"); got != 2 {
		t.Errorf("count: got %d, want 2", got)
	}
}

func TestAddListItem_RejectionRollsBack(t *testing.T) {
	m := newMutator(&fakeBackend{createItemErr: errors.New("422 content too long")}, &fakeOutbox{})
	seedList(m.Store, "l1", 2)
	before := m.Store.Items("l1")

	_, queued, err := m.AddListItem(context.Background(), "l1", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if queued {
		t.Fatal("a server rejection must not enter the retry queue")
	}

	if diff := cmp.Diff(before, m.Store.Items("l1")); diff != "" {
		t.Errorf("items after rollback (-want +got):\n%s", diff)
	}
	if got := m.Store.ItemCount("l1"); got != 2 {
		t.Errorf("count after rollback: got %d, want 2", got)
	}
}

func TestAddListItem_OfflineQueuesAndKeepsPlaceholder(t *testing.T) {
	outbox := &fakeOutbox{}
	m := newMutator(&fakeBackend{createItemErr: errDown}, outbox)
	notified := false
	m.Notify = func() { notified = true }
	seedList(m.Store, "l1", 1)

	item, queued, err := m.AddListItem(context.Background(), "l1", "offline note")
	if err != nil {
		t.Fatalf("offline add should not be a hard failure: %v", err)
	}
	if !queued {
		t.Fatal("expected the offline path")
	}
	if !IsTempID(item.ID) {
		t.Errorf("placeholder should keep its temp id, got %s", item.ID)
	}
	if !notified {
		t.Error("durable enqueue should fire the sync trigger hook")
	}

	if len(outbox.ops) != 1 || outbox.ops[0] != models.OpCreateListItem {
		t.Fatalf("outbox: got %v", outbox.ops)
	}
	var p struct {
		ListID  string `json:"list_id"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(outbox.body[0], &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ListID != "l1" || p.Content != "offline note" {
		t.Errorf("payload: got %+v", p)
	}

	items := m.Store.Items("l1")
	if len(items) != 2 || items[1].SyncState != models.SyncPendingSync {
		t.Fatalf("placeholder state: got %+v", items)
	}
}

func TestAddListItem_OfflineWithBrokenStorageRollsBack(t *testing.T) {
	outbox := &fakeOutbox{err: errors.New("disk full")}
	m := newMutator(&fakeBackend{createItemErr: errDown}, outbox)
	seedList(m.Store, "l1", 1)
	before := m.Store.Items("l1")

	_, _, err := m.AddListItem(context.Background(), "l1", "x")
	if err == nil {
		t.Fatal("expected hard failure when both network and storage fail")
	}
	if diff := cmp.Diff(before, m.Store.Items("l1")); diff != "" {
		t.Errorf("items after rollback (-want +got):\n%s", diff)
	}
}

func TestRemoveListItem_FailureRestores(t *testing.T) {
	m := newMutator(&fakeBackend{deleteItemErr: errors.New("403")}, nil)
	seedList(m.Store, "l1", 3)
	before := m.Store.Items("l1")

	if err := m.RemoveListItem(context.Background(), "l1", before[1].ID); err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(before, m.Store.Items("l1")); diff != "" {
		t.Errorf("items after rollback (-want +got):\n%s", diff)
	}
}

func TestToggleTask_OfflineQueues(t *testing.T) {
	outbox := &fakeOutbox{}
	m := newMutator(&fakeBackend{toggleErr: errDown}, outbox)
	m.Store.SeedTask(models.Task{ID: "t1", Done: false})

	queued, err := m.ToggleTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !queued {
		t.Fatal("expected offline path")
	}

	task, _ := m.Store.Task("t1")
	if !task.Done || task.SyncState != models.SyncPendingSync {
		t.Errorf("task state: got %+v", task)
	}
	if len(outbox.ops) != 1 || outbox.ops[0] != models.OpToggleTask {
		t.Errorf("outbox: got %v", outbox.ops)
	}
}

func TestAddConnection_EnforcesCapAfterConfirm(t *testing.T) {
	backend := &fakeBackend{}
	m := newMutator(backend, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedConns := []models.Connection{
		{ID: "u1", CreatedBy: models.OriginUser, CreatedAt: base},
		{ID: "a1", CreatedBy: models.OriginAI, CreatedAt: base.Add(24 * time.Hour)},
		{ID: "a2", CreatedBy: models.OriginAI, CreatedAt: base.Add(48 * time.Hour)},
		{ID: "a3", CreatedBy: models.OriginAI, CreatedAt: base.Add(72 * time.Hour)},
		{ID: "a4", CreatedBy: models.OriginAI, CreatedAt: base.Add(96 * time.Hour)},
	}
	m.Store.SetConnections(models.EntityNote, "n1", seedConns)

	queued, err := m.AddConnection(context.Background(), models.EntityNote, "n1", models.Connection{
		SourceType: models.EntityNote,
		SourceID:   "n1",
		TargetType: models.EntityListItem,
		TargetID:   "i1",
		CreatedBy:  models.OriginUser,
	})
	if err != nil {
		t.Fatalf("add connection: %v", err)
	}
	if queued {
		t.Fatal("online path should not queue")
	}

	// Six connections with cap five: the oldest AI one (a1) is evicted.
	if len(backend.deletedConns) != 1 || backend.deletedConns[0] != "a1" {
		t.Fatalf("remote deletions: got %v, want [a1]", backend.deletedConns)
	}
	final := m.Store.Connections(models.EntityNote, "n1")
	if len(final) != 5 {
		t.Fatalf("final connections: got %d, want 5", len(final))
	}
	for _, conn := range final {
		if conn.ID == "a1" {
			t.Error("evicted connection still present")
		}
	}
}

func TestAddConnection_OfflineQueuesAndMarksPending(t *testing.T) {
	outbox := &fakeOutbox{}
	m := newMutator(&fakeBackend{createConnErr: errDown}, outbox)

	queued, err := m.AddConnection(context.Background(), models.EntityNote, "n1", models.Connection{
		SourceType: models.EntityNote,
		SourceID:   "n1",
		TargetType: models.EntityTask,
		TargetID:   "t1",
		CreatedBy:  models.OriginUser,
	})
	if err != nil {
		t.Fatalf("offline add should not be a hard failure: %v", err)
	}
	if !queued {
		t.Fatal("expected the offline path")
	}
	if len(outbox.ops) != 1 || outbox.ops[0] != models.OpCreateConnection {
		t.Fatalf("outbox: got %v", outbox.ops)
	}

	// The placeholder must report the queued state, like items and tasks.
	conns := m.Store.Connections(models.EntityNote, "n1")
	if len(conns) != 1 {
		t.Fatalf("connections: got %d, want 1", len(conns))
	}
	if conns[0].SyncState != models.SyncPendingSync {
		t.Errorf("placeholder state: got %s, want %s", conns[0].SyncState, models.SyncPendingSync)
	}
}

func TestConnections_ServesRepeatLookupsFromCache(t *testing.T) {
	backend := &fakeBackend{listedConns: []models.Connection{
		{ID: "c1", CreatedBy: models.OriginUser},
		{ID: "c2", CreatedBy: models.OriginAI},
	}}
	m := newMutator(backend, nil)

	first, err := m.Connections(context.Background(), models.EntityNote, "n1")
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first lookup: got %d connections", len(first))
	}
	// The fetch also seeds the store for later cap enforcement.
	if got := m.Store.Connections(models.EntityNote, "n1"); len(got) != 2 {
		t.Fatalf("store after fetch: got %d connections", len(got))
	}

	second, err := m.Connections(context.Background(), models.EntityNote, "n1")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached lookup (-first +second):\n%s", diff)
	}
	if backend.listCalls != 1 {
		t.Errorf("backend calls: got %d, want 1 (second lookup should hit the cache)", backend.listCalls)
	}
}

func TestAddConnection_FailureRollsBack(t *testing.T) {
	m := newMutator(&fakeBackend{createConnErr: errors.New("500")}, nil)
	existing := []models.Connection{{ID: "c1"}}
	m.Store.SetConnections(models.EntityNote, "n1", existing)

	_, err := m.AddConnection(context.Background(), models.EntityNote, "n1", models.Connection{CreatedBy: models.OriginUser})
	if err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(existing, m.Store.Connections(models.EntityNote, "n1")); diff != "" {
		t.Errorf("connections after rollback (-want +got):\n%s", diff)
	}
}
