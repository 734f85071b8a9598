package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"polymath/internal/apiclient"
	"polymath/internal/models"
	"polymath/internal/optimistic"
	"polymath/internal/queue"
)

func setupQueue(t *testing.T) *queue.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := queue.New(db)
	if err != nil {
		t.Fatalf("init queue: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// recordingServer counts successful submissions by item content and can be
// told to reject specific contents.
type recordingServer struct {
	mu       sync.Mutex
	received map[string]int
	reject   map[string]bool
}

func newRecordingServer() *recordingServer {
	return &recordingServer{received: make(map[string]int), reject: make(map[string]bool)}
}

func (rs *recordingServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("bad request body: %v", err)
		}

		rs.mu.Lock()
		rejected := rs.reject[body.Content]
		if !rejected {
			rs.received[body.Content]++
		}
		rs.mu.Unlock()

		if rejected {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code":"internal","message":"nope"}`)
			return
		}
		fmt.Fprint(w, `{"id":"srv-1","list_id":"l1","content":"ok"}`)
	})
}

func (rs *recordingServer) count(content string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.received[content]
}

func enqueueItem(t *testing.T, q *queue.Store, content string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"list_id": "l1", "content": content})
	id, err := q.Enqueue(context.Background(), models.OpCreateListItem, payload)
	if err != nil {
		t.Fatalf("enqueue %q: %v", content, err)
	}
	return id
}

func TestDrain_SendsEverythingOnce(t *testing.T) {
	q := setupQueue(t)
	rs := newRecordingServer()
	srv := httptest.NewServer(rs.handler(t))
	defer srv.Close()

	// Queued while offline; now connectivity is back.
	for _, content := range []string{"a", "b", "c"} {
		enqueueItem(t, q, content)
	}

	s := New(q, apiclient.New(srv.URL, "k", "d"))
	result, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Sent != 3 || result.Failed != 0 {
		t.Fatalf("result: got %+v, want Sent=3 Failed=0", result)
	}

	for _, content := range []string{"a", "b", "c"} {
		if got := rs.count(content); got != 1 {
			t.Errorf("server received %q %d times, want exactly 1", content, got)
		}
	}

	ops, _ := q.PendingOperations(context.Background())
	if len(ops) != 0 {
		t.Errorf("queue after drain: got %d items, want 0", len(ops))
	}
}

func TestDrain_PartialFailureIsolation(t *testing.T) {
	q := setupQueue(t)
	rs := newRecordingServer()
	rs.reject["b"] = true
	srv := httptest.NewServer(rs.handler(t))
	defer srv.Close()

	id1 := enqueueItem(t, q, "a")
	id2 := enqueueItem(t, q, "b")
	id3 := enqueueItem(t, q, "c")
	_ = id1
	_ = id3

	s := New(q, apiclient.New(srv.URL, "k", "d"))
	result, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("result: got %+v, want Sent=2 Failed=1", result)
	}

	// Items 1 and 3 are gone; item 2 remains untouched apart from its
	// attempt counter, eligible for the next trigger.
	ops, _ := q.PendingOperations(context.Background())
	if len(ops) != 1 {
		t.Fatalf("queue after drain: got %d items, want 1", len(ops))
	}
	if ops[0].ID != id2 {
		t.Errorf("surviving item: got %s, want %s", ops[0].ID, id2)
	}
	if ops[0].Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", ops[0].Attempts)
	}
}

func TestDrain_NoDeleteBeforeSuccess(t *testing.T) {
	q := setupQueue(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	enqueueItem(t, q, "a")
	enqueueItem(t, q, "b")

	s := New(q, apiclient.New(srv.URL, "k", "d"))
	result, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Sent != 0 || result.Failed != 2 {
		t.Fatalf("result: got %+v, want Sent=0 Failed=2", result)
	}

	ops, _ := q.PendingOperations(context.Background())
	if len(ops) != 2 {
		t.Fatalf("queue must retain all items until confirmed success, got %d", len(ops))
	}
}

func TestDrain_DeadLetterAfterMaxAttempts(t *testing.T) {
	q := setupQueue(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"malformed","message":"bad payload"}`)
	}))
	defer srv.Close()

	enqueueItem(t, q, "poison")

	s := New(q, apiclient.New(srv.URL, "k", "d"))
	s.MaxAttempts = 2
	ctx := context.Background()

	if result, _ := s.Drain(ctx); result.Dead != 0 {
		t.Fatalf("first drain: got %+v, want Dead=0", result)
	}
	result, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if result.Dead != 1 {
		t.Fatalf("second drain: got %+v, want Dead=1", result)
	}

	pending, _ := q.PendingOperations(ctx)
	if len(pending) != 0 {
		t.Errorf("pending after dead-letter: got %d, want 0", len(pending))
	}
	dead, _ := q.DeadLettered(ctx)
	if len(dead) != 1 || dead[0].Attempts != 2 {
		t.Fatalf("dead-lettered: got %+v", dead)
	}
}

func TestDrain_UploadsCaptures(t *testing.T) {
	q := setupQueue(t)
	var gotAudio string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/captures" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		data, _ := io.ReadAll(f)
		gotAudio = string(data)
		fmt.Fprint(w, `{"capture_id":"cap-1","text":"transcribed"}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	if _, err := q.AddPendingCapture(ctx, []byte("voice-note"), "audio/webm"); err != nil {
		t.Fatalf("add capture: %v", err)
	}

	s := New(q, apiclient.New(srv.URL, "k", "d"))
	result, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("result: got %+v, want Sent=1", result)
	}
	if gotAudio != "voice-note" {
		t.Errorf("uploaded audio: got %q", gotAudio)
	}

	// Both the operation and its capture payload are gone.
	captures, _ := q.GetAllCaptures(ctx)
	if len(captures) != 0 {
		t.Errorf("captures after drain: got %d, want 0", len(captures))
	}
}

func TestDrain_DeliversOfflineQueuedMutations(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	// Offline: mutations fall through the optimistic layer into the
	// durable queue instead of failing.
	offline := apiclient.New("http://127.0.0.1:1", "k", "d")
	m := optimistic.NewMutator(optimistic.NewStore(), offline, q)

	_, queued, err := m.AddListItem(ctx, "l1", "offline milk")
	if err != nil {
		t.Fatalf("offline add item: %v", err)
	}
	if !queued {
		t.Fatal("add item should take the offline path")
	}
	queued, err = m.AddConnection(ctx, models.EntityNote, "n1", models.Connection{
		SourceType: models.EntityNote,
		SourceID:   "n1",
		TargetType: models.EntityTask,
		TargetID:   "t1",
		CreatedBy:  models.OriginUser,
	})
	if err != nil {
		t.Fatalf("offline add connection: %v", err)
	}
	if !queued {
		t.Fatal("add connection should take the offline path")
	}

	// Back online: the drain loop delivers exactly what was queued.
	var mu sync.Mutex
	var paths []string
	var itemContent string
	var connTarget string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/v1/lists/l1/items":
			var body struct {
				Content string `json:"content"`
			}
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &body)
			itemContent = body.Content
			fmt.Fprint(w, `{"id":"srv-i1","list_id":"l1","content":"offline milk"}`)
		case "/v1/connections":
			var conn models.Connection
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &conn)
			connTarget = conn.TargetID
			fmt.Fprint(w, `{"id":"srv-c1"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := New(q, apiclient.New(srv.URL, "k", "d"))
	result, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Sent != 2 || result.Failed != 0 {
		t.Fatalf("result: got %+v, want Sent=2 Failed=0", result)
	}
	if len(paths) != 2 {
		t.Fatalf("server calls: got %v", paths)
	}
	if itemContent != "offline milk" {
		t.Errorf("item content: got %q", itemContent)
	}
	if connTarget != "t1" {
		t.Errorf("connection target: got %q", connTarget)
	}

	ops, _ := q.PendingOperations(ctx)
	if len(ops) != 0 {
		t.Errorf("queue after drain: got %d items, want 0", len(ops))
	}
}
