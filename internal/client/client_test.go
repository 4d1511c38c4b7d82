package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulse/board-app/internal/board"
	"github.com/pulse/board-app/internal/protocol"
)

// fakeAPI scripts REST responses for mutation-path tests.
type fakeAPI struct {
	mu          sync.Mutex
	serverTasks []board.Task // what ListTasks returns
	updateErr   error
	deleteErr   error
	updates     []board.Task
	refetches   int
}

func (a *fakeAPI) ListTasks(ctx context.Context, projectID string) ([]board.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refetches++
	return append([]board.Task(nil), a.serverTasks...), nil
}

func (a *fakeAPI) ListMessages(ctx context.Context, projectID string, before int64, limit int) ([]board.ChatMessage, error) {
	return nil, nil
}

func (a *fakeAPI) CreateTask(ctx context.Context, projectID, content string, status board.TaskStatus) (*board.Task, error) {
	t := board.Task{ID: "created", ProjectID: projectID, Content: content, Status: status, CreatedAt: time.Now()}
	return &t, nil
}

func (a *fakeAPI) UpdateTask(ctx context.Context, t board.Task) (*board.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updateErr != nil {
		return nil, a.updateErr
	}
	a.updates = append(a.updates, t)
	return &t, nil
}

func (a *fakeAPI) DeleteTask(ctx context.Context, projectID, taskID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleteErr
}

func (a *fakeAPI) PostMessage(ctx context.Context, projectID, content string) (*board.ChatMessage, error) {
	m := board.ChatMessage{ID: 1, ProjectID: projectID, UserID: "u-alice", UserName: "Alice", Content: content}
	return &m, nil
}

// newTestClient builds a Client wired to a fake API with an active room,
// bypassing the WebSocket dial.
func newTestClient(api *fakeAPI, rec *Reconciler) *Client {
	return &Client{
		self:    alice,
		api:     api,
		active:  rec,
		joined:  map[string]struct{}{rec.RoomID(): {}},
		tracker: NewTracker(alice),
		done:    make(chan struct{}),
	}
}

func TestMoveTaskOptimistic(t *testing.T) {
	rec := NewReconciler(alice, "p1")
	task := taskAt("t1", "x", board.StatusToDo, time.Now())
	rec.SetTask(task)

	api := &fakeAPI{}
	c := newTestClient(api, rec)

	if err := c.MoveTask("t1", board.StatusDone); err != nil {
		t.Fatalf("MoveTask() error: %v", err)
	}

	// The local view reflects the move immediately, before the server
	// round trip completes.
	got, _ := rec.Task("t1")
	if got.Status != board.StatusDone {
		t.Fatalf("expected immediate local status done, got %q", got.Status)
	}
}

func TestMoveTaskRollbackOnFailure(t *testing.T) {
	serverTask := taskAt("t1", "x", board.StatusToDo, time.Now())

	rec := NewReconciler(alice, "p1")
	rec.SetTask(serverTask)

	api := &fakeAPI{
		serverTasks: []board.Task{serverTask},
		updateErr:   errors.New("persistence failed"),
	}
	c := newTestClient(api, rec)

	failed := make(chan error, 1)
	c.SetOnError(func(err error) { failed <- err })

	if err := c.MoveTask("t1", board.StatusDone); err != nil {
		t.Fatalf("MoveTask() error: %v", err)
	}

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rollback callback")
	}

	// Local state was replaced wholesale with the server's view: the task
	// is back in its original column.
	got, ok := rec.Task("t1")
	if !ok {
		t.Fatal("task vanished during rollback")
	}
	if got.Status != board.StatusToDo {
		t.Fatalf("expected status rolled back to todo, got %q", got.Status)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.refetches != 1 {
		t.Errorf("expected exactly 1 refetch, got %d", api.refetches)
	}
}

func TestDeleteTaskRollbackOnFailure(t *testing.T) {
	serverTask := taskAt("t1", "keep me", board.StatusToDo, time.Now())

	rec := NewReconciler(alice, "p1")
	rec.SetTask(serverTask)

	api := &fakeAPI{
		serverTasks: []board.Task{serverTask},
		deleteErr:   errors.New("persistence failed"),
	}
	c := newTestClient(api, rec)

	failed := make(chan error, 1)
	c.SetOnError(func(err error) { failed <- err })

	if err := c.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask() error: %v", err)
	}

	// Optimistically gone.
	if _, ok := rec.Task("t1"); ok {
		t.Fatal("expected task removed optimistically")
	}

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rollback callback")
	}

	// Refetch restored it.
	if _, ok := rec.Task("t1"); !ok {
		t.Fatal("expected task restored by rollback refetch")
	}
}

func TestSendMessageAppendsLocally(t *testing.T) {
	rec := NewReconciler(alice, "p1")
	c := newTestClient(&fakeAPI{}, rec)

	msg, err := c.SendMessage(context.Background(), "hello room")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("expected the posted message in local state, got %+v", msgs)
	}

	// The broadcast copy arrives later and must not duplicate it.
	rec.Apply(board.ChatMessageSent{Message: *msg})
	if got := len(rec.Messages()); got != 1 {
		t.Fatalf("broadcast copy duplicated the local message: %d messages", got)
	}
}

func TestRouteBeforeActivation(t *testing.T) {
	c := &Client{
		self:    alice,
		api:     &fakeAPI{},
		joined:  make(map[string]struct{}),
		tracker: NewTracker(alice),
		done:    make(chan struct{}),
	}

	// A frame with a valid type but no payload decodes to an event whose
	// room ID is empty. Routing it with no active room must be a no-op,
	// not a crash.
	ev, err := protocol.DecodeEvent([]byte(`{"type":"taskCreated"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	c.route(ev)

	ev, err = protocol.DecodeEvent([]byte(`{"type":"receiveMessage"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	c.route(ev)

	if st := c.tracker.State(""); st.HasNew {
		t.Error("empty-room event leaked into the notification tracker")
	}
}

func TestRouteEmptyRoomWithActiveRoom(t *testing.T) {
	rec := NewReconciler(alice, "p1")
	c := newTestClient(&fakeAPI{}, rec)

	ev, err := protocol.DecodeEvent([]byte(`{"type":"taskDeleted"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	c.route(ev)

	if got := len(rec.Tasks()); got != 0 {
		t.Fatalf("empty-room event reached the reconciler: %d tasks", got)
	}
}

func TestMutationsRequireActiveRoom(t *testing.T) {
	c := &Client{
		self:    alice,
		api:     &fakeAPI{},
		joined:  make(map[string]struct{}),
		tracker: NewTracker(alice),
		done:    make(chan struct{}),
	}

	if _, err := c.SendMessage(context.Background(), "hi"); err == nil {
		t.Error("expected error with no active room")
	}
	if err := c.MoveTask("t1", board.StatusDone); err == nil {
		t.Error("expected error with no active room")
	}
	if err := c.DeleteTask("t1"); err == nil {
		t.Error("expected error with no active room")
	}
}
