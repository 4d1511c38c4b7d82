package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulse/board-app/internal/board"
	"github.com/pulse/board-app/internal/protocol"
	"github.com/pulse/board-app/internal/room"
)

// recordingSession captures every frame delivered to it.
type recordingSession struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (s *recordingSession) SessionID() string    { return s.id }
func (s *recordingSession) Identity() board.User { return board.User{ID: "u-" + s.id, Name: s.id} }

func (s *recordingSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *recordingSession) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// recordingMirror captures every mirrored frame.
type recordingMirror struct {
	mu    sync.Mutex
	rooms []string
	kinds []board.EventKind
}

func (m *recordingMirror) MirrorEvent(roomID string, kind board.EventKind, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, roomID)
	m.kinds = append(m.kinds, kind)
	return nil
}

func messageEvent(projectID string, id int64, content string) board.Event {
	return board.ChatMessageSent{Message: board.ChatMessage{
		ID:        id,
		ProjectID: projectID,
		UserID:    "u1",
		UserName:  "alice",
		Content:   content,
	}}
}

func TestPerRoomOrdering(t *testing.T) {
	registry := room.NewRegistry()
	s := &recordingSession{id: "s1"}
	registry.Join("p1", s)

	d := NewDispatcher(registry, nil)
	defer d.Close()

	const n = 50
	for i := 0; i < n; i++ {
		if err := d.Publish(messageEvent("p1", int64(i), fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	d.Drain()

	frames := s.received()
	if len(frames) != n {
		t.Fatalf("expected %d frames, got %d", n, len(frames))
	}
	for i, frame := range frames {
		ev, err := protocol.DecodeEvent(frame)
		if err != nil {
			t.Fatalf("frame %d: decode: %v", i, err)
		}
		msg, ok := ev.(board.ChatMessageSent)
		if !ok {
			t.Fatalf("frame %d: expected ChatMessageSent, got %T", i, ev)
		}
		if msg.Message.ID != int64(i) {
			t.Fatalf("frame %d: out of order, got message id=%d", i, msg.Message.ID)
		}
	}
}

func TestRoomIsolation(t *testing.T) {
	registry := room.NewRegistry()
	s1 := &recordingSession{id: "s1"}
	s2 := &recordingSession{id: "s2"}
	registry.Join("p1", s1)
	registry.Join("p2", s2)

	d := NewDispatcher(registry, nil)
	defer d.Close()

	if err := d.Publish(messageEvent("p1", 1, "hello p1")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	d.Drain()

	if got := len(s1.received()); got != 1 {
		t.Errorf("expected 1 frame in p1 session, got %d", got)
	}
	if got := len(s2.received()); got != 0 {
		t.Errorf("expected 0 frames in p2 session, got %d", got)
	}
}

func TestFailingSessionDoesNotBlockOthers(t *testing.T) {
	registry := room.NewRegistry()
	bad := &recordingSession{id: "bad", fail: true}
	good := &recordingSession{id: "good"}
	registry.Join("p1", bad)
	registry.Join("p1", good)

	d := NewDispatcher(registry, nil)
	defer d.Close()

	for i := 0; i < 3; i++ {
		if err := d.Publish(messageEvent("p1", int64(i), "hi")); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	d.Drain()

	if got := len(good.received()); got != 3 {
		t.Fatalf("expected healthy session to receive all 3 frames, got %d", got)
	}
}

func TestTaskEventsReachRoom(t *testing.T) {
	registry := room.NewRegistry()
	s := &recordingSession{id: "s1"}
	registry.Join("p1", s)

	d := NewDispatcher(registry, nil)
	defer d.Close()

	task := board.Task{ID: "t1", ProjectID: "p1", Content: "write docs", Status: board.StatusToDo}
	if err := d.Publish(board.TaskCreated{Task: task}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := d.Publish(board.TaskDeleted{ProjectID: "p1", TaskID: "t1"}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	d.Drain()

	frames := s.received()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	ev, err := protocol.DecodeEvent(frames[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	created, ok := ev.(board.TaskCreated)
	if !ok {
		t.Fatalf("expected TaskCreated, got %T", ev)
	}
	if created.Task.ID != "t1" || created.Task.Content != "write docs" {
		t.Errorf("unexpected task payload: %+v", created.Task)
	}

	ev, err = protocol.DecodeEvent(frames[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := ev.(board.TaskDeleted); !ok {
		t.Fatalf("expected TaskDeleted, got %T", ev)
	}
}

func TestMirrorReceivesEveryEvent(t *testing.T) {
	registry := room.NewRegistry()
	mirror := &recordingMirror{}

	d := NewDispatcher(registry, mirror)
	defer d.Close()

	if err := d.Publish(messageEvent("p1", 1, "a")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := d.Publish(messageEvent("p2", 2, "b")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	d.Drain()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.rooms) != 2 {
		t.Fatalf("expected 2 mirrored events, got %d", len(mirror.rooms))
	}
	if mirror.rooms[0] != "p1" || mirror.rooms[1] != "p2" {
		t.Errorf("unexpected mirrored rooms: %v", mirror.rooms)
	}
	if mirror.kinds[0] != board.KindChatMessageSent {
		t.Errorf("unexpected mirrored kind: %v", mirror.kinds[0])
	}
}

func TestDrainAfterPublishCloseRace(t *testing.T) {
	registry := room.NewRegistry()
	d := NewDispatcher(registry, nil)

	// Publishers race Close. Every Publish must either fail or leave its
	// event fully accounted for, so Drain always returns.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := d.Publish(messageEvent("p1", int64(n*100+j), "x")); err != nil {
					return
				}
			}
		}(i)
	}
	d.Close()
	wg.Wait()

	drained := make(chan struct{})
	go func() {
		d.Drain()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain hung after Publish/Close race")
	}
}

func TestPublishAfterClose(t *testing.T) {
	registry := room.NewRegistry()
	d := NewDispatcher(registry, nil)
	d.Close()

	if err := d.Publish(messageEvent("p1", 1, "late")); err == nil {
		t.Fatal("expected Publish after Close to fail")
	}
}
