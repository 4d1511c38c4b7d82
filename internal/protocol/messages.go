// Package protocol defines the WebSocket message types and structures used
// for communication between the board client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pulse/board-app/internal/board"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSendMessage = "sendMessage"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "sessionCreated"
	TypeTaskCreated    = "taskCreated"
	TypeTaskUpdated    = "taskUpdated"
	TypeTaskDeleted    = "taskDeleted"
	TypeReceiveMessage = "receiveMessage"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg subscribes the session to a project's broadcast room.
type JoinMsg struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
}

// LeaveMsg unsubscribes the session from a project's broadcast room.
type LeaveMsg struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
}

// SendMessageMsg is the WebSocket convenience path for posting a chat
// message. The REST chat endpoint is the other entry point; both route
// through the same mutation gateway.
type SendMessageMsg struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	Content   string `json:"content"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	User      board.User `json:"user"`
}

// TaskEventMsg carries the canonical task record for taskCreated and
// taskUpdated events.
type TaskEventMsg struct {
	Type string     `json:"type"`
	Task board.Task `json:"task"`
}

// TaskDeletedMsg announces a removed task. Only the identifiers survive the
// delete, so only they are sent.
type TaskDeletedMsg struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id"`
}

// ReceiveMessageMsg carries the canonical chat message record.
type ReceiveMessageMsg struct {
	Type    string            `json:"type"`
	Message board.ChatMessage `json:"message"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// EncodeEvent converts a domain event into the wire frame delivered to
// clients. The switch is exhaustive over the four event kinds; an unknown
// concrete type is a programming error and is reported as one.
func EncodeEvent(ev board.Event) ([]byte, error) {
	switch e := ev.(type) {
	case board.TaskCreated:
		return NewServerMessage(TypeTaskCreated, TaskEventMsg{Task: e.Task})
	case board.TaskUpdated:
		return NewServerMessage(TypeTaskUpdated, TaskEventMsg{Task: e.Task})
	case board.TaskDeleted:
		return NewServerMessage(TypeTaskDeleted, TaskDeletedMsg{
			ProjectID: e.ProjectID,
			TaskID:    e.TaskID,
		})
	case board.ChatMessageSent:
		return NewServerMessage(TypeReceiveMessage, ReceiveMessageMsg{Message: e.Message})
	default:
		return nil, fmt.Errorf("protocol: unsupported event type %T", ev)
	}
}

// DecodeEvent is the inverse of EncodeEvent, used by the client library to
// turn inbound frames back into typed domain events. Frames that are not
// domain events (pong, error, sessionCreated) return a nil event and no
// error.
func DecodeEvent(data []byte) (board.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	switch env.Type {
	case TypeTaskCreated:
		var m TaskEventMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return board.TaskCreated{Task: m.Task}, nil
	case TypeTaskUpdated:
		var m TaskEventMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return board.TaskUpdated{Task: m.Task}, nil
	case TypeTaskDeleted:
		var m TaskDeletedMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return board.TaskDeleted{ProjectID: m.ProjectID, TaskID: m.TaskID}, nil
	case TypeReceiveMessage:
		var m ReceiveMessageMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return board.ChatMessageSent{Message: m.Message}, nil
	}
	return nil, nil
}
