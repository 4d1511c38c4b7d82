// Package board defines the domain model for the Pulse board application:
// projects, tasks, chat messages, invitations, and the domain events that
// describe mutations to them.
package board

import (
	"strings"
	"time"
)

// User is the identity attached to a live session: a stable ID plus the
// display name shown in chat and used for @-mentions.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TaskStatus is the kanban column a task currently sits in.
type TaskStatus string

const (
	StatusToDo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// Valid reports whether s is one of the three known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task is a single board item. The canonical form is whatever the store
// returned after a write; raw client payloads are never broadcast.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Content   string     `json:"content"`
	Status    TaskStatus `json:"status"`
	Assignee  *string    `json:"assignee,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChatMessage is a persisted project chat message. IDs are assigned by the
// store sequence, so they are unique and monotonic per database.
type ChatMessage struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Mentions reports whether the message text mentions the given display name
// with the literal "@name" convention.
//
// Display names are not unique, so two users sharing a name will see each
// other's mentions. A stable fix would key mentions off user IDs; kept as a
// literal substring test to match the product behavior.
func (m *ChatMessage) Mentions(displayName string) bool {
	if displayName == "" {
		return false
	}
	return strings.Contains(m.Content, "@"+displayName)
}

// Project is the unit of collaboration; its ID doubles as the room ID for
// broadcast purposes.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Invitation grants a user access to a project when redeemed. Tokens live in
// Redis with a TTL; this struct is the decoded form.
type Invitation struct {
	Token     string    `json:"token"`
	ProjectID string    `json:"project_id"`
	InviterID string    `json:"inviter_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
