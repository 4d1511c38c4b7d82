// Package gateway implements the persist-then-publish contract for every
// board mutation. The store write happens first; the event handed to the
// dispatcher is built from the record the store returned, never from the raw
// request. A failed persist aborts the mutation and nothing is published. A
// failed publish after a successful persist is logged and swallowed: the
// caller already has its confirmation in the persistence response.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/board-app/internal/board"
	"github.com/pulse/board-app/internal/metrics"
	"github.com/pulse/board-app/internal/store"
)

// Persister is the slice of the store the gateway needs. *store.Store
// satisfies it; tests substitute fakes.
type Persister interface {
	CreateTask(ctx context.Context, t *board.Task) (*board.Task, error)
	UpdateTask(ctx context.Context, t *board.Task) (*board.Task, error)
	DeleteTask(ctx context.Context, projectID, taskID string) error
	InsertMessage(ctx context.Context, m *board.ChatMessage) (*board.ChatMessage, error)
}

// Publisher delivers a canonical event to room subscribers.
type Publisher interface {
	Publish(ev board.Event) error
}

// RetryConfig bounds the retry loop around transient persistence errors.
// Retrying happens strictly before any publish, so the "no broadcast without
// a prior successful persist" ordering holds regardless of attempts.
type RetryConfig struct {
	Attempts int           // total attempts, including the first
	Backoff  time.Duration // sleep between attempts, multiplied by attempt number
}

// DefaultRetryConfig returns the standard bounded-retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 100 * time.Millisecond}
}

// Gateway routes every mutating operation through persist-then-publish.
type Gateway struct {
	store     Persister
	publisher Publisher
	retry     RetryConfig
}

// New creates a Gateway over the given store and publisher.
func New(store Persister, publisher Publisher, retry RetryConfig) *Gateway {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &Gateway{store: store, publisher: publisher, retry: retry}
}

// CreateTask persists a new task and broadcasts the canonical record.
func (g *Gateway) CreateTask(ctx context.Context, projectID, content string, status board.TaskStatus, assignee *string, due *time.Time) (*board.Task, error) {
	if err := board.ValidateTask(content, status); err != nil {
		return nil, err
	}

	defer observe("create_task", time.Now())

	task := &board.Task{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Content:   content,
		Status:    status,
		Assignee:  assignee,
		DueDate:   due,
	}

	var canonical *board.Task
	err := g.persist(ctx, func(ctx context.Context) error {
		var err error
		canonical, err = g.store.CreateTask(ctx, task)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.publish(board.TaskCreated{Task: *canonical})
	return canonical, nil
}

// UpdateTask persists a full-field task update and broadcasts the canonical
// record. Returns store.ErrNotFound if the task does not exist.
func (g *Gateway) UpdateTask(ctx context.Context, t board.Task) (*board.Task, error) {
	if err := board.ValidateTask(t.Content, t.Status); err != nil {
		return nil, err
	}

	defer observe("update_task", time.Now())

	var canonical *board.Task
	err := g.persist(ctx, func(ctx context.Context) error {
		var err error
		canonical, err = g.store.UpdateTask(ctx, &t)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.publish(board.TaskUpdated{Task: *canonical})
	return canonical, nil
}

// DeleteTask removes a task and broadcasts the deletion.
func (g *Gateway) DeleteTask(ctx context.Context, projectID, taskID string) error {
	defer observe("delete_task", time.Now())

	err := g.persist(ctx, func(ctx context.Context) error {
		return g.store.DeleteTask(ctx, projectID, taskID)
	})
	if err != nil {
		return err
	}

	g.publish(board.TaskDeleted{ProjectID: projectID, TaskID: taskID})
	return nil
}

// PostMessage persists a chat message and broadcasts the canonical record.
// The returned message carries the sequence-assigned ID; callers that applied
// the message optimistically use it to deduplicate the inbound broadcast.
func (g *Gateway) PostMessage(ctx context.Context, projectID string, user board.User, content string) (*board.ChatMessage, error) {
	if err := board.ValidateMessage(content); err != nil {
		return nil, err
	}

	defer observe("post_message", time.Now())

	msg := &board.ChatMessage{
		ProjectID: projectID,
		UserID:    user.ID,
		UserName:  user.Name,
		Content:   content,
	}

	var canonical *board.ChatMessage
	err := g.persist(ctx, func(ctx context.Context) error {
		var err error
		canonical, err = g.store.InsertMessage(ctx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.publish(board.ChatMessageSent{Message: *canonical})
	return canonical, nil
}

// persist runs the store write, retrying transient errors up to the
// configured attempt count. Non-transient errors fail immediately.
func (g *Gateway) persist(ctx context.Context, write func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= g.retry.Attempts; attempt++ {
		err = write(ctx)
		if err == nil {
			return nil
		}
		if !store.Transient(err) || attempt == g.retry.Attempts {
			return err
		}

		metrics.PersistRetries.Inc()
		log.Printf("gateway: transient persist error (attempt %d/%d): %v",
			attempt, g.retry.Attempts, err)

		select {
		case <-time.After(g.retry.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// publish hands the canonical event to the dispatcher. Broadcast is best
// effort and never rolls back the committed write.
func (g *Gateway) publish(ev board.Event) {
	if err := g.publisher.Publish(ev); err != nil {
		log.Printf("gateway: publish kind=%s room=%s: %v", ev.Kind(), ev.Room(), err)
	}
}

func observe(op string, start time.Time) {
	metrics.MutationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
