// Package room tracks which live sessions are subscribed to which project
// rooms. Membership is ephemeral: it is rebuilt from join requests on every
// connection and the persistent store remains the only ground truth for who
// belongs to a project.
package room

import (
	"log"
	"sync"

	"github.com/pulse/board-app/internal/board"
)

// Session is a live connection the registry can fan events out to. The
// WebSocket connection type satisfies it; tests use in-memory fakes.
type Session interface {
	SessionID() string
	Identity() board.User
	Send(data []byte) error
}

// Registry is the process-wide map from project ID to the set of subscribed
// sessions. It is created at service start, passed explicitly to the
// dispatcher and gateway, and torn down at shutdown. All methods are
// goroutine-safe.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Session // projectID -> sessionID -> Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]Session),
	}
}

// Join subscribes a session to a room. Joining a room the session is already
// in is a no-op.
func (r *Registry) Join(roomID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms == nil {
		return // registry closed
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Session)
		r.rooms[roomID] = members
	}
	if _, ok := members[s.SessionID()]; ok {
		return
	}
	members[s.SessionID()] = s
	log.Printf("room: join room=%s session=%s (members=%d)", roomID, s.SessionID(), len(members))
}

// Leave removes a session from one room. Removing a session that is not a
// member is a no-op. Empty rooms are dropped from the map.
func (r *Registry) Leave(roomID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := members[sessionID]; !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	log.Printf("room: leave room=%s session=%s (members=%d)", roomID, sessionID, len(members))
}

// DropSession removes a session from every room it joined. Called on
// disconnect.
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, members := range r.rooms {
		if _, ok := members[sessionID]; !ok {
			continue
		}
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Members returns a snapshot of the sessions currently in a room. The slice
// is safe to iterate without holding any lock.
func (r *Registry) Members(roomID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// MemberCount returns the number of sessions in a room.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close tears the registry down. Subsequent joins are ignored and membership
// queries return empty results.
func (r *Registry) Close() {
	r.mu.Lock()
	r.rooms = nil
	r.mu.Unlock()
}
