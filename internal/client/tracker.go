package client

import (
	"sync"

	"github.com/pulse/board-app/internal/board"
)

// NotificationState is the per-room unread/mention state shown on a room's
// badge while it is inactive.
type NotificationState struct {
	Unread int  // mentions of the local user since last activation
	HasNew bool // any message arrived since last activation
}

// Tracker maintains NotificationState per room for the lifetime of one
// session. Nothing is persisted server-side; reconnecting starts from zero
// by design.
type Tracker struct {
	mu    sync.Mutex
	self  board.User
	rooms map[string]*NotificationState
}

// NewTracker creates a tracker for the given local user.
func NewTracker(self board.User) *Tracker {
	return &Tracker{
		self:  self,
		rooms: make(map[string]*NotificationState),
	}
}

// Observe records an inbound chat message for a room that is not currently
// active. Any message sets HasNew; the unread count increments only when the
// message mentions the local user's display name. The count never decreases
// except through Activate.
func (t *Tracker) Observe(roomID string, m board.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rooms[roomID]
	if !ok {
		st = &NotificationState{}
		t.rooms[roomID] = st
	}
	st.HasNew = true
	if m.Mentions(t.self.Name) {
		st.Unread++
	}
}

// Activate resets the room's state to zero. Called when the user switches to
// the room; the caller is responsible for (re-)issuing a join so future
// events keep arriving.
func (t *Tracker) Activate(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.rooms[roomID]; ok {
		st.Unread = 0
		st.HasNew = false
	}
}

// State returns a copy of the room's current notification state.
func (t *Tracker) State(roomID string) NotificationState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.rooms[roomID]; ok {
		return *st
	}
	return NotificationState{}
}
