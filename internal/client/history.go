package client

import "github.com/pulse/board-app/internal/board"

// defaultHistorySize is the number of recent messages retained per room.
// Older history is served by the REST chat-history endpoint, not by local
// state.
const defaultHistorySize = 500

// messageRing is a fixed-size circular buffer of chat messages. When full,
// the oldest message is overwritten.
type messageRing struct {
	items []board.ChatMessage
	pos   int
	count int
}

func newMessageRing(size int) *messageRing {
	return &messageRing{
		items: make([]board.ChatMessage, size),
	}
}

// add appends a message, overwriting the oldest when full.
func (rb *messageRing) add(m board.ChatMessage) {
	rb.items[rb.pos] = m
	rb.pos = (rb.pos + 1) % len(rb.items)
	if rb.count < len(rb.items) {
		rb.count++
	}
}

// all returns the retained messages in chronological order (oldest first).
func (rb *messageRing) all() []board.ChatMessage {
	out := make([]board.ChatMessage, rb.count)
	// The oldest message sits at (pos - count) mod size.
	start := (rb.pos - rb.count + len(rb.items)) % len(rb.items)
	for i := 0; i < rb.count; i++ {
		out[i] = rb.items[(start+i)%len(rb.items)]
	}
	return out
}
