// Package store provides PostgreSQL-backed persistence for projects, tasks,
// chat messages, and the event audit trail. Every write returns the row as
// the database persisted it; those canonical records are what the rest of
// the system broadcasts.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/pulse/board-app/internal/board"
)

// ErrNotFound is returned when a lookup or targeted mutation matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, verifies the connection, and applies any
// pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle without running migrations.
// Used by tests and by the auditor, which shares the server's schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transient reports whether a store error is worth retrying: connection
// drops and network failures qualify, constraint violations and missing rows
// do not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ---------------------------------------------------------------------------
// Projects and memberships
// ---------------------------------------------------------------------------

// CreateProject inserts a project and adds the owner as its first member.
func (s *Store) CreateProject(ctx context.Context, p *board.Project) (*board.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var out board.Project
	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, owner_id, created_at`,
		p.ID, p.Name, p.OwnerID,
	).Scan(&out.ID, &out.Name, &out.OwnerID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id) VALUES ($1, $2)`,
		out.ID, out.OwnerID,
	); err != nil {
		return nil, fmt.Errorf("store: insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return &out, nil
}

// GetProject fetches a single project by ID.
func (s *Store) GetProject(ctx context.Context, projectID string) (*board.Project, error) {
	var p board.Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at FROM projects WHERE id = $1`,
		projectID,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns every project the user is a member of, newest first.
func (s *Store) ListProjects(ctx context.Context, userID string) ([]board.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.owner_id, p.created_at
		FROM projects p
		JOIN project_members m ON m.project_id = p.id
		WHERE m.user_id = $1
		ORDER BY p.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []board.Project
	for rows.Next() {
		var p board.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddMember adds a user to a project. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("store: add member: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the project.
func (s *Store) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: is member: %w", err)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// CreateTask inserts a task and returns the canonical row.
func (s *Store) CreateTask(ctx context.Context, t *board.Task) (*board.Task, error) {
	var out board.Task
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, content, status, assignee, due_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, content, status, assignee, due_date, created_at, updated_at`,
		t.ID, t.ProjectID, t.Content, t.Status, t.Assignee, t.DueDate,
	).Scan(&out.ID, &out.ProjectID, &out.Content, &out.Status,
		&out.Assignee, &out.DueDate, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert task: %w", err)
	}
	return &out, nil
}

// UpdateTask replaces a task's mutable fields and returns the canonical row.
func (s *Store) UpdateTask(ctx context.Context, t *board.Task) (*board.Task, error) {
	var out board.Task
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET content = $3, status = $4, assignee = $5, due_date = $6, updated_at = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING id, project_id, content, status, assignee, due_date, created_at, updated_at`,
		t.ID, t.ProjectID, t.Content, t.Status, t.Assignee, t.DueDate,
	).Scan(&out.ID, &out.ProjectID, &out.Content, &out.Status,
		&out.Assignee, &out.DueDate, &out.CreatedAt, &out.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: update task: %w", err)
	}
	return &out, nil
}

// DeleteTask removes a task. Returns ErrNotFound if no row matched.
func (s *Store) DeleteTask(ctx context.Context, projectID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE id = $1 AND project_id = $2`,
		taskID, projectID,
	)
	if err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete task rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns all tasks in a project ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]board.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, status, assignee, due_date, created_at, updated_at
		FROM tasks
		WHERE project_id = $1
		ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []board.Task
	for rows.Next() {
		var t board.Task
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Content, &t.Status,
			&t.Assignee, &t.DueDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Chat messages
// ---------------------------------------------------------------------------

// InsertMessage persists a chat message and returns the canonical record,
// including the sequence-assigned ID and the database timestamp.
func (s *Store) InsertMessage(ctx context.Context, m *board.ChatMessage) (*board.ChatMessage, error) {
	var out board.ChatMessage
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (project_id, user_id, user_name, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, project_id, user_id, user_name, content, created_at`,
		m.ProjectID, m.UserID, m.UserName, m.Content,
	).Scan(&out.ID, &out.ProjectID, &out.UserID, &out.UserName, &out.Content, &out.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}
	return &out, nil
}

// ListMessages returns up to limit messages for a project in chronological
// order. When before > 0 only messages with a smaller ID are returned, which
// gives backwards pagination for chat history.
func (s *Store) ListMessages(ctx context.Context, projectID string, before int64, limit int) ([]board.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, user_name, content, created_at
		FROM chat_messages
		WHERE project_id = $1 AND ($2 <= 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3`,
		projectID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []board.ChatMessage
	for rows.Next() {
		var m board.ChatMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.UserName, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Event audit
// ---------------------------------------------------------------------------

// AppendAudit records one domain event frame in the audit table. Used by the
// auditor service consuming the NATS feed.
func (s *Store) AppendAudit(ctx context.Context, projectID string, kind string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_audit (project_id, kind, payload) VALUES ($1, $2, $3)`,
		projectID, kind, payload,
	)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}
