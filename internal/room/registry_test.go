package room

import (
	"testing"

	"github.com/pulse/board-app/internal/board"
)

// fakeSession is an in-memory Session for registry tests.
type fakeSession struct {
	id   string
	user board.User
}

func (s *fakeSession) SessionID() string      { return s.id }
func (s *fakeSession) Identity() board.User   { return s.user }
func (s *fakeSession) Send(data []byte) error { return nil }

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, user: board.User{ID: "u-" + id, Name: "user-" + id}}
}

func TestJoinAndMembers(t *testing.T) {
	r := NewRegistry()

	r.Join("p1", newFakeSession("s1"))
	r.Join("p1", newFakeSession("s2"))
	r.Join("p2", newFakeSession("s3"))

	if got := r.MemberCount("p1"); got != 2 {
		t.Fatalf("expected 2 members in p1, got %d", got)
	}
	if got := r.MemberCount("p2"); got != 1 {
		t.Fatalf("expected 1 member in p2, got %d", got)
	}
	if got := r.RoomCount(); got != 2 {
		t.Fatalf("expected 2 rooms, got %d", got)
	}
}

func TestJoinIdempotent(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession("s1")

	r.Join("p1", s)
	r.Join("p1", s)
	r.Join("p1", s)

	if got := r.MemberCount("p1"); got != 1 {
		t.Fatalf("expected 1 member after repeated joins, got %d", got)
	}
}

func TestLeave(t *testing.T) {
	r := NewRegistry()
	r.Join("p1", newFakeSession("s1"))
	r.Join("p1", newFakeSession("s2"))

	r.Leave("p1", "s1")
	if got := r.MemberCount("p1"); got != 1 {
		t.Fatalf("expected 1 member after leave, got %d", got)
	}

	// Leaving again, or leaving a room never joined, is a no-op.
	r.Leave("p1", "s1")
	r.Leave("nope", "s2")
	if got := r.MemberCount("p1"); got != 1 {
		t.Fatalf("expected 1 member after redundant leaves, got %d", got)
	}
}

func TestEmptyRoomIsDropped(t *testing.T) {
	r := NewRegistry()
	r.Join("p1", newFakeSession("s1"))
	r.Leave("p1", "s1")

	if got := r.RoomCount(); got != 0 {
		t.Fatalf("expected 0 rooms after last member left, got %d", got)
	}
}

func TestDropSessionRemovesFromAllRooms(t *testing.T) {
	r := NewRegistry()
	s := newFakeSession("s1")
	r.Join("p1", s)
	r.Join("p2", s)
	r.Join("p2", newFakeSession("s2"))

	r.DropSession("s1")

	if got := r.MemberCount("p1"); got != 0 {
		t.Errorf("expected s1 gone from p1, got %d members", got)
	}
	if got := r.MemberCount("p2"); got != 1 {
		t.Errorf("expected only s2 left in p2, got %d members", got)
	}
	if got := r.RoomCount(); got != 1 {
		t.Errorf("expected 1 room remaining, got %d", got)
	}
}

func TestMembersSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Join("p1", newFakeSession("s1"))

	members := r.Members("p1")
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}

	// Mutating the registry after taking the snapshot must not affect it.
	r.Leave("p1", "s1")
	if len(members) != 1 || members[0].SessionID() != "s1" {
		t.Fatal("snapshot changed after registry mutation")
	}
}

func TestJoinAfterClose(t *testing.T) {
	r := NewRegistry()
	r.Close()

	r.Join("p1", newFakeSession("s1"))
	if got := r.MemberCount("p1"); got != 0 {
		t.Fatalf("expected join after Close to be ignored, got %d members", got)
	}
	if got := len(r.Members("p1")); got != 0 {
		t.Fatalf("expected no members after Close, got %d", got)
	}
}
