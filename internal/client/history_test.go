package client

import (
	"testing"

	"github.com/pulse/board-app/internal/board"
)

func TestRingAddAndAll(t *testing.T) {
	rb := newMessageRing(5)

	for i := int64(1); i <= 3; i++ {
		rb.add(board.ChatMessage{ID: i})
	}

	msgs := rb.all()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != int64(i+1) {
			t.Errorf("index %d: expected ID %d, got %d", i, i+1, m.ID)
		}
	}
}

func TestRingWraparound(t *testing.T) {
	rb := newMessageRing(5)

	// Add 8 messages into a buffer of 5; only 4..8 survive.
	for i := int64(1); i <= 8; i++ {
		rb.add(board.ChatMessage{ID: i})
	}

	msgs := rb.all()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if want := int64(i + 4); m.ID != want {
			t.Errorf("index %d: expected ID %d, got %d", i, want, m.ID)
		}
	}
}

func TestRingEmpty(t *testing.T) {
	rb := newMessageRing(5)
	if msgs := rb.all(); len(msgs) != 0 {
		t.Fatalf("expected empty slice, got %d messages", len(msgs))
	}
}
