package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pulse/board-app/internal/board"
)

// API is the REST surface the client needs: authoritative reads for
// resynchronization and the mutation endpoints. RESTClient implements it
// over HTTP; tests substitute fakes.
type API interface {
	ListTasks(ctx context.Context, projectID string) ([]board.Task, error)
	ListMessages(ctx context.Context, projectID string, before int64, limit int) ([]board.ChatMessage, error)
	CreateTask(ctx context.Context, projectID, content string, status board.TaskStatus) (*board.Task, error)
	UpdateTask(ctx context.Context, t board.Task) (*board.Task, error)
	DeleteTask(ctx context.Context, projectID, taskID string) error
	PostMessage(ctx context.Context, projectID, content string) (*board.ChatMessage, error)
}

// RESTClient talks to the board server's REST API on behalf of one user.
type RESTClient struct {
	baseURL string
	self    board.User
	http    *http.Client
}

// NewRESTClient creates a REST client rooted at baseURL (e.g.
// "http://localhost:8081") acting as the given user.
func NewRESTClient(baseURL string, self board.User) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		self:    self,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListTasks fetches the authoritative task list for a project.
func (c *RESTClient) ListTasks(ctx context.Context, projectID string) ([]board.Task, error) {
	var out []board.Task
	err := c.do(ctx, http.MethodGet, "/api/projects/"+projectID+"/tasks", nil, &out)
	return out, err
}

// ListMessages fetches chat history in chronological order.
func (c *RESTClient) ListMessages(ctx context.Context, projectID string, before int64, limit int) ([]board.ChatMessage, error) {
	path := "/api/projects/" + projectID + "/messages?limit=" + strconv.Itoa(limit)
	if before > 0 {
		path += "&before=" + strconv.FormatInt(before, 10)
	}
	var out []board.ChatMessage
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateTask creates a task and returns the canonical record.
func (c *RESTClient) CreateTask(ctx context.Context, projectID, content string, status board.TaskStatus) (*board.Task, error) {
	body := map[string]interface{}{"content": content, "status": status}
	var out board.Task
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+projectID+"/tasks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask replaces a task's fields and returns the canonical record.
func (c *RESTClient) UpdateTask(ctx context.Context, t board.Task) (*board.Task, error) {
	body := map[string]interface{}{
		"content":  t.Content,
		"status":   t.Status,
		"assignee": t.Assignee,
		"due_date": t.DueDate,
	}
	var out board.Task
	path := "/api/projects/" + t.ProjectID + "/tasks/" + t.ID
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask removes a task.
func (c *RESTClient) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/projects/"+projectID+"/tasks/"+taskID, nil, nil)
}

// PostMessage sends a chat message and returns the canonical record with its
// sequence-assigned ID.
func (c *RESTClient) PostMessage(ctx context.Context, projectID, content string) (*board.ChatMessage, error) {
	body := map[string]interface{}{"content": content}
	var out board.ChatMessage
	if err := c.do(ctx, http.MethodPost, "/api/projects/"+projectID+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one authenticated request and decodes the JSON response into
// out (when out is non-nil and the response has a body).
func (c *RESTClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("X-User-ID", c.self.ID)
	req.Header.Set("X-User-Name", c.self.Name)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("client: %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
