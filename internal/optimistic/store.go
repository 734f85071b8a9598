// Package optimistic holds the client-side state container. Mutations apply
// immediately with temporary IDs and reconcile once the backend answers:
// confirmed records replace the temporary ones in place, failed mutations
// roll back to the exact pre-mutation state, counters included.
package optimistic

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"polymath/internal/models"
)

const tempIDPrefix = "tmp-"

// NewTempID generates a client-side temporary identifier.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated client-side.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

type connKey struct {
	itemType models.EntityType
	itemID   string
}

// Store is an explicit state container: collections plus derived counters,
// serialized behind one mutex. It is passed around, never a package global.
type Store struct {
	mu     sync.Mutex
	items  map[string][]models.ListItem
	counts map[string]int
	tasks  map[string]models.Task
	conns  map[connKey][]models.Connection
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		items:  make(map[string][]models.ListItem),
		counts: make(map[string]int),
		tasks:  make(map[string]models.Task),
		conns:  make(map[connKey][]models.Connection),
	}
}

// Command is one optimistic mutation. apply inserts the temporary record
// and adjusts derived counters in the same update; rollback is its pure
// inverse. The command set is closed: reconciliation at the store boundary
// must be exhaustive.
type Command interface {
	apply(s *Store)
	rollback(s *Store)
}

// Apply runs the command's local mutation.
func (s *Store) Apply(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd.apply(s)
}

// Rollback undoes the command's local mutation.
func (s *Store) Rollback(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd.rollback(s)
}

// --- Commands ---

// AddItem inserts a list item with a temporary ID.
type AddItem struct {
	Item models.ListItem
}

func (c *AddItem) apply(s *Store) {
	s.items[c.Item.ListID] = append(s.items[c.Item.ListID], c.Item)
	s.counts[c.Item.ListID]++
}

func (c *AddItem) rollback(s *Store) {
	listID := c.Item.ListID
	idx := indexOfItem(s.items[listID], c.Item.ID)
	if idx < 0 {
		return
	}
	s.items[listID] = append(s.items[listID][:idx], s.items[listID][idx+1:]...)
	s.counts[listID]--
}

// RemoveItem deletes a list item, remembering enough to restore it.
type RemoveItem struct {
	ListID string
	ItemID string

	removed models.ListItem
	index   int
	applied bool
}

func (c *RemoveItem) apply(s *Store) {
	idx := indexOfItem(s.items[c.ListID], c.ItemID)
	if idx < 0 {
		return
	}
	c.removed = s.items[c.ListID][idx]
	c.index = idx
	c.applied = true
	s.items[c.ListID] = append(s.items[c.ListID][:idx], s.items[c.ListID][idx+1:]...)
	s.counts[c.ListID]--
}

func (c *RemoveItem) rollback(s *Store) {
	if !c.applied {
		return
	}
	list := s.items[c.ListID]
	idx := c.index
	if idx > len(list) {
		idx = len(list)
	}
	list = append(list[:idx], append([]models.ListItem{c.removed}, list[idx:]...)...)
	s.items[c.ListID] = list
	s.counts[c.ListID]++
	c.applied = false
}

// MoveItem reorders a list item from one position to another.
type MoveItem struct {
	ListID string
	From   int
	To     int

	applied bool
}

func (c *MoveItem) apply(s *Store) {
	list := s.items[c.ListID]
	if c.From < 0 || c.From >= len(list) || c.To < 0 || c.To >= len(list) {
		return
	}
	moved := list[c.From]
	list = append(list[:c.From], list[c.From+1:]...)
	list = append(list[:c.To], append([]models.ListItem{moved}, list[c.To:]...)...)
	s.items[c.ListID] = list
	c.applied = true
}

func (c *MoveItem) rollback(s *Store) {
	if !c.applied {
		return
	}
	inverse := &MoveItem{ListID: c.ListID, From: c.To, To: c.From}
	inverse.apply(s)
	c.applied = false
}

// ToggleTask flips a task's done flag.
type ToggleTask struct {
	TaskID string

	prev    bool
	applied bool
}

func (c *ToggleTask) apply(s *Store) {
	task, ok := s.tasks[c.TaskID]
	if !ok {
		return
	}
	c.prev = task.Done
	c.applied = true
	task.Done = !task.Done
	task.SyncState = models.SyncOptimistic
	s.tasks[c.TaskID] = task
}

func (c *ToggleTask) rollback(s *Store) {
	if !c.applied {
		return
	}
	task, ok := s.tasks[c.TaskID]
	if !ok {
		return
	}
	task.Done = c.prev
	task.SyncState = models.SyncConfirmed
	s.tasks[c.TaskID] = task
	c.applied = false
}

// AddConnection inserts a connection with a temporary ID.
type AddConnection struct {
	ItemType models.EntityType
	ItemID   string
	Conn     models.Connection
}

func (c *AddConnection) apply(s *Store) {
	key := connKey{itemType: c.ItemType, itemID: c.ItemID}
	s.conns[key] = append(s.conns[key], c.Conn)
}

func (c *AddConnection) rollback(s *Store) {
	key := connKey{itemType: c.ItemType, itemID: c.ItemID}
	conns := s.conns[key]
	for i, conn := range conns {
		if conn.ID == c.Conn.ID {
			s.conns[key] = append(conns[:i], conns[i+1:]...)
			return
		}
	}
}

// --- Reconciliation ---

// ConfirmItem replaces the temporary record with the server record in
// place, preserving its position. Unrelated records are untouched.
func (s *Store) ConfirmItem(listID, tempID string, server models.ListItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOfItem(s.items[listID], tempID)
	if idx < 0 {
		return false
	}
	server.SyncState = models.SyncConfirmed
	s.items[listID][idx] = server
	return true
}

// MarkItemPendingSync flags a temporary item as durably queued.
func (s *Store) MarkItemPendingSync(listID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOfItem(s.items[listID], id)
	if idx < 0 {
		return
	}
	s.items[listID][idx].SyncState = models.SyncPendingSync
}

// ConfirmTask replaces a task with the server record.
func (s *Store) ConfirmTask(server models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	server.SyncState = models.SyncConfirmed
	s.tasks[server.ID] = server
}

// MarkTaskPendingSync flags a toggled task as durably queued.
func (s *Store) MarkTaskPendingSync(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	task.SyncState = models.SyncPendingSync
	s.tasks[taskID] = task
}

// MarkConnectionPendingSync flags a temporary connection as durably queued.
func (s *Store) MarkConnectionPendingSync(itemType models.EntityType, itemID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connKey{itemType: itemType, itemID: itemID}
	for i, conn := range s.conns[key] {
		if conn.ID == id {
			s.conns[key][i].SyncState = models.SyncPendingSync
			return
		}
	}
}

// ConfirmConnection replaces the temporary connection in place.
func (s *Store) ConfirmConnection(itemType models.EntityType, itemID, tempID string, server models.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connKey{itemType: itemType, itemID: itemID}
	for i, conn := range s.conns[key] {
		if conn.ID == tempID {
			server.SyncState = models.SyncConfirmed
			s.conns[key][i] = server
			return true
		}
	}
	return false
}

// --- Seeding & accessors ---

// SeedItems loads server state for a list, resetting its derived counter.
func (s *Store) SeedItems(listID string, items []models.ListItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[listID] = append([]models.ListItem(nil), items...)
	s.counts[listID] = len(items)
}

// SeedTask loads server state for a task.
func (s *Store) SeedTask(task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// SetConnections replaces the connection set for an entity.
func (s *Store) SetConnections(itemType models.EntityType, itemID string, conns []models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connKey{itemType: itemType, itemID: itemID}] = append([]models.Connection(nil), conns...)
}

// Items returns a copy of a list's items.
func (s *Store) Items(listID string) []models.ListItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ListItem(nil), s.items[listID]...)
}

// ItemCount returns the derived item counter for a list.
func (s *Store) ItemCount(listID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[listID]
}

// Task returns a task by ID.
func (s *Store) Task(taskID string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	return task, ok
}

// Connections returns a copy of an entity's connection set.
func (s *Store) Connections(itemType models.EntityType, itemID string) []models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Connection(nil), s.conns[connKey{itemType: itemType, itemID: itemID}]...)
}

func indexOfItem(items []models.ListItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
