// Package broadcast fans domain events out to every session subscribed to
// the event's room. A single consumer goroutine drains a typed event queue,
// which gives per-room FIFO ordering for free: events for one room are
// delivered in the order Publish was called. No ordering is guaranteed
// across rooms or across process restarts.
package broadcast

import (
	"fmt"
	"log"
	"sync"

	"github.com/pulse/board-app/internal/board"
	"github.com/pulse/board-app/internal/metrics"
	"github.com/pulse/board-app/internal/protocol"
	"github.com/pulse/board-app/internal/room"
)

// DefaultQueueSize is the capacity of the event queue. Publish blocks once
// the queue is full, which applies backpressure to mutation handlers rather
// than reordering or dropping events.
const DefaultQueueSize = 1024

// Mirror receives a copy of every dispatched event frame. The NATS event
// feed implements it; a nil mirror disables mirroring.
type Mirror interface {
	MirrorEvent(roomID string, kind board.EventKind, frame []byte) error
}

// Dispatcher delivers domain events to room members. Delivery to one session
// is independent of delivery to the others: a dead socket is logged and
// skipped, never allowed to block or fail the rest of the fan-out.
type Dispatcher struct {
	registry *room.Registry
	mirror   Mirror
	queue    chan board.Event
	done     chan struct{}
	pending  sync.WaitGroup

	mu        sync.RWMutex // guards closed; held across enqueue so Close cannot interleave
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher bound to the given registry and starts
// its consumer goroutine. mirror may be nil.
func NewDispatcher(registry *room.Registry, mirror Mirror) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		mirror:   mirror,
		queue:    make(chan board.Event, DefaultQueueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues an event for delivery to every member of its room. It
// returns an error only if the dispatcher has been closed; delivery itself
// is best effort and reports nothing back to the caller.
//
// The read lock is held across the enqueue: Close waits for in-flight
// Publish calls before signaling the consumer, so every accepted event is
// drained and every pending count is balanced.
func (d *Dispatcher) Publish(ev board.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("broadcast: dispatcher closed")
	}

	d.pending.Add(1)
	d.queue <- ev
	return nil
}

// Drain blocks until every event accepted by Publish so far has been
// dispatched. Used during shutdown and by tests.
func (d *Dispatcher) Drain() {
	d.pending.Wait()
}

// run is the single consumer loop. Running dispatch on one goroutine is what
// guarantees per-room ordering.
func (d *Dispatcher) run() {
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(ev)
		case <-d.done:
			// Drain what was enqueued before Close.
			for {
				select {
				case ev := <-d.queue:
					d.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// dispatch encodes the event once and writes the frame to every member of
// the room, the originating session included.
func (d *Dispatcher) dispatch(ev board.Event) {
	defer d.pending.Done()

	roomID := ev.Room()

	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		log.Printf("broadcast: encode event kind=%s room=%s: %v", ev.Kind(), roomID, err)
		return
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()

	members := d.registry.Members(roomID)
	for _, s := range members {
		if err := s.Send(frame); err != nil {
			metrics.BroadcastFailures.Inc()
			log.Printf("broadcast: deliver kind=%s room=%s session=%s: %v",
				ev.Kind(), roomID, s.SessionID(), err)
		}
	}

	if d.mirror != nil {
		if err := d.mirror.MirrorEvent(roomID, ev.Kind(), frame); err != nil {
			log.Printf("broadcast: mirror kind=%s room=%s: %v", ev.Kind(), roomID, err)
		}
	}
}

// Close stops the dispatcher after draining already-enqueued events.
// Publish calls issued after Close fail.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
	})
}
