// Package client is the Go client library for the board server. It owns the
// client side of the synchronization design: idempotent reconciliation of
// inbound events, optimistic local mutation with rollback-by-refetch, and
// per-room unread/mention tracking.
//
// There is no reconnection or backfill protocol. A client that disconnects
// and rejoins resynchronizes with a fresh REST fetch of the room; events are
// never replayed.
package client

import (
	"sort"
	"sync"

	"github.com/pulse/board-app/internal/board"
)

// Reconciler maintains the authoritative-for-this-client view of one room:
// the task set and the recent chat messages. Events apply idempotently, so
// replaying a persist-ordered event sequence from empty state converges on
// the store's contents, and applying the same event twice is harmless.
type Reconciler struct {
	mu       sync.RWMutex
	self     board.User
	roomID   string
	tasks    map[string]board.Task
	messages *messageRing
}

// NewReconciler creates a reconciler for the given room on behalf of the
// given local user.
func NewReconciler(self board.User, roomID string) *Reconciler {
	return &Reconciler{
		self:     self,
		roomID:   roomID,
		tasks:    make(map[string]board.Task),
		messages: newMessageRing(defaultHistorySize),
	}
}

// RoomID returns the room this reconciler serves.
func (r *Reconciler) RoomID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomID
}

// Apply folds one inbound event into local state. Events for other rooms are
// ignored. It returns true if the event changed state, false if it was a
// no-op (duplicate create, delete of an absent task, suppressed self
// message).
func (r *Reconciler) Apply(ev board.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Room() != r.roomID {
		return false
	}

	switch e := ev.(type) {
	case board.TaskCreated:
		// Guards the race between a local optimistic create and the
		// corresponding inbound event.
		if _, ok := r.tasks[e.Task.ID]; ok {
			return false
		}
		r.tasks[e.Task.ID] = e.Task
		return true

	case board.TaskUpdated:
		// Upsert: create if absent, replace fields if present.
		r.tasks[e.Task.ID] = e.Task
		return true

	case board.TaskDeleted:
		if _, ok := r.tasks[e.TaskID]; !ok {
			return false
		}
		delete(r.tasks, e.TaskID)
		return true

	case board.ChatMessageSent:
		// The local user's own message was already appended from the
		// mutation response; the inbound broadcast copy must be suppressed.
		// De-duplication keys off the stable user ID rather than the display
		// name, so two users sharing a name do not swallow each other.
		if e.Message.UserID == r.self.ID {
			return false
		}
		r.messages.add(e.Message)
		return true
	}
	return false
}

// AddLocalMessage appends a message received synchronously from the mutation
// gateway's response (the sender's own message).
func (r *Reconciler) AddLocalMessage(m board.ChatMessage) {
	r.mu.Lock()
	r.messages.add(m)
	r.mu.Unlock()
}

// SetTask applies an optimistic local task mutation before the server has
// confirmed it.
func (r *Reconciler) SetTask(t board.Task) {
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
}

// RemoveTask applies an optimistic local task deletion.
func (r *Reconciler) RemoveTask(taskID string) {
	r.mu.Lock()
	delete(r.tasks, taskID)
	r.mu.Unlock()
}

// Task returns the task with the given ID, if present.
func (r *Reconciler) Task(taskID string) (board.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

// Tasks returns the current task set ordered by creation time, matching the
// store's read order.
func (r *Reconciler) Tasks() []board.Task {
	r.mu.RLock()
	out := make([]board.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Messages returns the retained messages in chronological order.
func (r *Reconciler) Messages() []board.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages.all()
}

// ReplaceTasks discards local task state wholesale and installs a fresh
// authoritative read. This is the rollback mechanism: refetch and replace,
// never field-level undo.
func (r *Reconciler) ReplaceTasks(tasks []board.Task) {
	r.mu.Lock()
	r.tasks = make(map[string]board.Task, len(tasks))
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	r.mu.Unlock()
}

// ReplaceMessages discards local message state and installs a fresh
// authoritative read.
func (r *Reconciler) ReplaceMessages(msgs []board.ChatMessage) {
	r.mu.Lock()
	r.messages = newMessageRing(defaultHistorySize)
	for _, m := range msgs {
		r.messages.add(m)
	}
	r.mu.Unlock()
}
