package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pulse/board-app/internal/board"
	"github.com/pulse/board-app/internal/protocol"
)

// Client is a live connection to the board server for one user. It wires the
// WebSocket event stream into a Reconciler for the active room and the
// Tracker for everything else, and issues mutations through the REST API.
type Client struct {
	self board.User
	api  API

	conn      net.Conn
	sessionID string

	mu      sync.Mutex
	active  *Reconciler         // reconciler for the active room, nil before Activate
	joined  map[string]struct{} // rooms joined this connection
	tracker *Tracker

	onError func(err error) // invoked for async mutation failures, may be nil

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the board server's WebSocket endpoint and starts the read
// loop. wsURL is the base endpoint (e.g. "ws://localhost:8080/ws"); the user
// identity is appended as query parameters, matching the server's
// authenticated-upstream precondition.
func Dial(ctx context.Context, wsURL string, api API, self board.User) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", self.ID)
	q.Set("user_name", self.Name)
	u.RawQuery = q.Encode()

	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Client{
		self:    self,
		api:     api,
		conn:    conn,
		joined:  make(map[string]struct{}),
		tracker: NewTracker(self),
		done:    make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// SetOnError registers a callback for asynchronous mutation failures (the
// optimistic path). The callback runs on the mutation goroutine.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// SessionID returns the server-assigned session ID, empty until the
// sessionCreated frame has arrived.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Tracker returns the notification tracker.
func (c *Client) Tracker() *Tracker {
	return c.tracker
}

// Reconciler returns the active room's reconciler, or nil before Activate.
func (c *Client) Reconciler() *Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Join subscribes to a room's events without activating it. Messages for the
// room will feed the notification tracker.
func (c *Client) Join(roomID string) error {
	if err := c.send(protocol.TypeJoin, protocol.JoinMsg{ProjectID: roomID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[roomID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Leave unsubscribes from a room's events.
func (c *Client) Leave(roomID string) error {
	if err := c.send(protocol.TypeLeave, protocol.LeaveMsg{ProjectID: roomID}); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.joined, roomID)
	if c.active != nil && c.active.RoomID() == roomID {
		c.active = nil
	}
	c.mu.Unlock()
	return nil
}

// Activate switches the active room: it resets the room's notification
// state, (re-)issues a join so future events keep arriving, and replaces
// local state with a fresh authoritative read. Activation is also the
// recovery mechanism after a reconnect — there is no event backfill.
func (c *Client) Activate(ctx context.Context, roomID string) error {
	if err := c.Join(roomID); err != nil {
		return err
	}
	c.tracker.Activate(roomID)

	rec := NewReconciler(c.self, roomID)

	tasks, err := c.api.ListTasks(ctx, roomID)
	if err != nil {
		return fmt.Errorf("client: activate %s: %w", roomID, err)
	}
	rec.ReplaceTasks(tasks)

	msgs, err := c.api.ListMessages(ctx, roomID, 0, defaultHistorySize)
	if err != nil {
		return fmt.Errorf("client: activate %s: %w", roomID, err)
	}
	rec.ReplaceMessages(msgs)

	c.mu.Lock()
	c.active = rec
	c.mu.Unlock()
	return nil
}

// SendMessage posts a chat message to the active room. The canonical record
// from the mutation response is appended to local state directly; the
// matching broadcast event is suppressed by the reconciler.
func (c *Client) SendMessage(ctx context.Context, content string) (*board.ChatMessage, error) {
	rec := c.Reconciler()
	if rec == nil {
		return nil, fmt.Errorf("client: no active room")
	}

	msg, err := c.api.PostMessage(ctx, rec.RoomID(), content)
	if err != nil {
		return nil, err
	}
	rec.AddLocalMessage(*msg)
	return msg, nil
}

// CreateTask creates a task in the active room. The canonical record is
// applied locally; the inbound broadcast for it is a no-op thanks to the
// reconciler's insert-if-absent rule.
func (c *Client) CreateTask(ctx context.Context, content string, status board.TaskStatus) (*board.Task, error) {
	rec := c.Reconciler()
	if rec == nil {
		return nil, fmt.Errorf("client: no active room")
	}

	task, err := c.api.CreateTask(ctx, rec.RoomID(), content, status)
	if err != nil {
		return nil, err
	}
	rec.SetTask(*task)
	return task, nil
}

// MoveTask changes a task's status optimistically: local state updates
// immediately and the persistence request runs asynchronously. On failure,
// local task state is discarded wholesale and replaced by a fresh
// authoritative read of the room.
func (c *Client) MoveTask(taskID string, status board.TaskStatus) error {
	rec := c.Reconciler()
	if rec == nil {
		return fmt.Errorf("client: no active room")
	}

	task, ok := rec.Task(taskID)
	if !ok {
		return fmt.Errorf("client: unknown task %s", taskID)
	}

	task.Status = status
	rec.SetTask(task)

	go func() {
		if _, err := c.api.UpdateTask(context.Background(), task); err != nil {
			c.rollback(rec, err)
		}
	}()
	return nil
}

// DeleteTask removes a task from the active room optimistically, with the
// same rollback-by-refetch contract as MoveTask.
func (c *Client) DeleteTask(taskID string) error {
	rec := c.Reconciler()
	if rec == nil {
		return fmt.Errorf("client: no active room")
	}

	if _, ok := rec.Task(taskID); !ok {
		return fmt.Errorf("client: unknown task %s", taskID)
	}
	rec.RemoveTask(taskID)

	go func() {
		if err := c.api.DeleteTask(context.Background(), rec.RoomID(), taskID); err != nil {
			c.rollback(rec, err)
		}
	}()
	return nil
}

// rollback replaces local task state with a fresh authoritative read after a
// failed optimistic mutation, then reports the failure.
func (c *Client) rollback(rec *Reconciler, cause error) {
	log.Printf("client: optimistic mutation failed, refetching room=%s: %v", rec.RoomID(), cause)

	tasks, err := c.api.ListTasks(context.Background(), rec.RoomID())
	if err != nil {
		log.Printf("client: rollback refetch room=%s: %v", rec.RoomID(), err)
	} else {
		rec.ReplaceTasks(tasks)
	}

	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

// readLoop consumes server frames until the connection closes. Data frames
// are decoded into domain events and routed: events for the active room go
// to the reconciler; chat messages for any other joined room feed the
// notification tracker.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("client: read: %v", err)
			}
			return
		}

		if c.handleControlFrame(data) {
			continue
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			log.Printf("client: decode frame: %v", err)
			continue
		}
		if ev == nil {
			continue
		}

		c.route(ev)
	}
}

// handleControlFrame processes non-event frames (sessionCreated, error,
// pong). Returns true if the frame was consumed.
func (c *Client) handleControlFrame(data []byte) bool {
	var env protocol.Envelope
	if err := env.UnmarshalJSON(data); err != nil {
		return false
	}

	switch env.Type {
	case protocol.TypeSessionCreated:
		var m protocol.SessionCreatedMsg
		if err := json.Unmarshal(env.Raw, &m); err == nil {
			c.mu.Lock()
			c.sessionID = m.SessionID
			c.mu.Unlock()
		}
		return true
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(env.Raw, &m); err == nil {
			log.Printf("client: server error code=%s message=%q", m.Code, m.Message)
		}
		return true
	case protocol.TypePong:
		return true
	}
	return false
}

// route applies an inbound domain event to the right consumer. Events
// without a room ID carry a malformed payload and are dropped.
func (c *Client) route(ev board.Event) {
	if ev.Room() == "" {
		return
	}

	c.mu.Lock()
	rec := c.active
	c.mu.Unlock()

	if rec != nil && ev.Room() == rec.RoomID() {
		rec.Apply(ev)
		return
	}

	// Inactive room: only chat messages matter, and only for notifications.
	if msg, ok := ev.(board.ChatMessageSent); ok {
		c.tracker.Observe(ev.Room(), msg.Message)
	}
}

// send writes one client frame. The payload struct carries its own type
// discriminator, which is overwritten with msgType for safety.
func (c *Client) send(msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("client: build %s: %w", msgType, err)
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
