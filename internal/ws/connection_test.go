package ws

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pulse/board-app/internal/board"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	c := &Connection{
		ID:        "test-session",
		User:      board.User{ID: "u1", Name: "alice"},
		Conn:      server,
		CreatedAt: time.Now(),
	}
	c.TouchPing()
	return c
}

func TestTouchPingAdvances(t *testing.T) {
	c := newTestConnection(t)

	first := c.LastActive()
	if first.IsZero() {
		t.Fatal("expected an initial liveness timestamp")
	}

	time.Sleep(time.Millisecond)
	c.TouchPing()

	if !c.LastActive().After(first) {
		t.Fatalf("expected LastActive to advance past %v, got %v", first, c.LastActive())
	}
}

func TestLivenessConcurrentAccess(t *testing.T) {
	c := newTestConnection(t)

	// Workers record liveness while the heartbeat reads it; the race
	// detector verifies the accesses are synchronized.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.TouchPing()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		deadline := time.Now().Add(time.Minute)
		for j := 0; j < 1000; j++ {
			if c.LastActive().After(deadline) {
				t.Error("liveness timestamp in the future")
				return
			}
		}
	}()
	wg.Wait()
}
