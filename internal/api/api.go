// Package api exposes the REST endpoints for projects, tasks, invitations,
// and chat history. Every mutating endpoint routes through the mutation
// gateway, so it follows the persist-then-publish contract: the caller gets
// the canonical record (or an error), and room subscribers get exactly one
// broadcast per accepted mutation.
//
// Authentication is a precondition: requests carry an upstream-verified
// identity in the X-User-ID and X-User-Name headers, and requests without
// one are rejected before any handler logic runs.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pulse/board-app/internal/board"
	"github.com/pulse/board-app/internal/gateway"
	"github.com/pulse/board-app/internal/invite"
	"github.com/pulse/board-app/internal/ratelimit"
	"github.com/pulse/board-app/internal/store"

	"github.com/google/uuid"
)

// API bundles the collaborators the REST layer needs.
type API struct {
	store   *store.Store
	gateway *gateway.Gateway
	invites *invite.Store
	limiter *ratelimit.Limiter
}

// New creates the REST API. limiter and invites may be nil; the related
// endpoints then skip throttling or return 503 respectively.
func New(st *store.Store, gw *gateway.Gateway, inv *invite.Store, lim *ratelimit.Limiter) *API {
	return &API{store: st, gateway: gw, invites: inv, limiter: lim}
}

// Handler returns the HTTP handler with all routes registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/projects", a.requireUser(a.handleCreateProject))
	mux.HandleFunc("GET /api/projects", a.requireUser(a.handleListProjects))
	mux.HandleFunc("GET /api/projects/{id}", a.requireUser(a.handleGetProject))

	mux.HandleFunc("GET /api/projects/{id}/tasks", a.requireUser(a.handleListTasks))
	mux.HandleFunc("POST /api/projects/{id}/tasks", a.requireUser(a.handleCreateTask))
	mux.HandleFunc("PUT /api/projects/{id}/tasks/{taskID}", a.requireUser(a.handleUpdateTask))
	mux.HandleFunc("DELETE /api/projects/{id}/tasks/{taskID}", a.requireUser(a.handleDeleteTask))

	mux.HandleFunc("GET /api/projects/{id}/messages", a.requireUser(a.handleListMessages))
	mux.HandleFunc("POST /api/projects/{id}/messages", a.requireUser(a.handlePostMessage))

	mux.HandleFunc("POST /api/projects/{id}/invitations", a.requireUser(a.handleIssueInvitation))
	mux.HandleFunc("POST /api/invitations/{token}/accept", a.requireUser(a.handleAcceptInvitation))

	return mux
}

// userHandler is an http.HandlerFunc that additionally receives the
// authenticated identity.
type userHandler func(w http.ResponseWriter, r *http.Request, user board.User)

// requireUser enforces the authenticated-identity precondition.
func (a *API) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := board.User{
			ID:   r.Header.Get("X-User-ID"),
			Name: r.Header.Get("X-User-Name"),
		}
		if user.ID == "" || user.Name == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next(w, r, user)
	}
}

// requireMember checks project membership and writes the error response
// itself when the check fails. Returns true when the caller may proceed.
func (a *API) requireMember(w http.ResponseWriter, r *http.Request, projectID, userID string) bool {
	ok, err := a.store.IsMember(r.Context(), projectID, userID)
	if err != nil {
		log.Printf("api: membership check project=%s user=%s: %v", projectID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a project member")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request, user board.User) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid project payload")
		return
	}

	p, err := a.store.CreateProject(r.Context(), &board.Project{
		ID:      uuid.New().String(),
		Name:    req.Name,
		OwnerID: user.ID,
	})
	if err != nil {
		log.Printf("api: create project: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request, user board.User) {
	projects, err := a.store.ListProjects(r.Context(), user.ID)
	if err != nil {
		log.Printf("api: list projects user=%s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if projects == nil {
		projects = []board.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}

	p, err := a.store.GetProject(r.Context(), projectID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		log.Printf("api: get project=%s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}

	tasks, err := a.store.ListTasks(r.Context(), projectID)
	if err != nil {
		log.Printf("api: list tasks project=%s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tasks == nil {
		tasks = []board.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type taskPayload struct {
	Content  string     `json:"content"`
	Status   string     `json:"status"`
	Assignee *string    `json:"assignee"`
	DueDate  *time.Time `json:"due_date"`
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}
	if !a.allow(w, r, user.ID, ratelimit.RuleMutation) {
		return
	}

	var req taskPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload")
		return
	}
	if req.Status == "" {
		req.Status = string(board.StatusToDo)
	}

	task, err := a.gateway.CreateTask(r.Context(), projectID, req.Content,
		board.TaskStatus(req.Status), req.Assignee, req.DueDate)
	if err != nil {
		a.writeMutationError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	taskID := r.PathValue("taskID")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}
	if !a.allow(w, r, user.ID, ratelimit.RuleMutation) {
		return
	}

	var req taskPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload")
		return
	}

	task, err := a.gateway.UpdateTask(r.Context(), board.Task{
		ID:        taskID,
		ProjectID: projectID,
		Content:   req.Content,
		Status:    board.TaskStatus(req.Status),
		Assignee:  req.Assignee,
		DueDate:   req.DueDate,
	})
	if err != nil {
		a.writeMutationError(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	taskID := r.PathValue("taskID")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}
	if !a.allow(w, r, user.ID, ratelimit.RuleMutation) {
		return
	}

	if err := a.gateway.DeleteTask(r.Context(), projectID, taskID); err != nil {
		a.writeMutationError(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

const (
	// defaultMessageLimit applies when the client sends no limit or an
	// unusable one.
	defaultMessageLimit = 50
	// maxMessageLimit caps a message page. It matches the history depth a
	// connecting client requests so an initial backfill completes in one
	// request.
	maxMessageLimit = 500
)

// messagePage parses the before/limit pagination query parameters for the
// message listing. Unparseable or out-of-range values fall back to the
// defaults.
func messagePage(q url.Values) (before int64, limit int) {
	if v := q.Get("before"); v != "" {
		before, _ = strconv.ParseInt(v, 10, 64)
	}
	limit = defaultMessageLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxMessageLimit {
			limit = n
		}
	}
	return before, limit
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}

	before, limit := messagePage(r.URL.Query())

	msgs, err := a.store.ListMessages(r.Context(), projectID, before, limit)
	if err != nil {
		log.Printf("api: list messages project=%s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []board.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}
	if !a.allow(w, r, user.ID, ratelimit.RuleMessage) {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message payload")
		return
	}

	msg, err := a.gateway.PostMessage(r.Context(), projectID, user, req.Content)
	if err != nil {
		a.writeMutationError(w, "post message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ---------------------------------------------------------------------------
// Invitations
// ---------------------------------------------------------------------------

func (a *API) handleIssueInvitation(w http.ResponseWriter, r *http.Request, user board.User) {
	projectID := r.PathValue("id")
	if !a.requireMember(w, r, projectID, user.ID) {
		return
	}
	if a.invites == nil {
		writeError(w, http.StatusServiceUnavailable, "invitations unavailable")
		return
	}

	inv, err := a.invites.Issue(r.Context(), projectID, user.ID, 0)
	if err != nil {
		log.Printf("api: issue invitation project=%s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, user board.User) {
	if a.invites == nil {
		writeError(w, http.StatusServiceUnavailable, "invitations unavailable")
		return
	}

	token := r.PathValue("token")
	inv, err := a.invites.Redeem(r.Context(), token)
	if errors.Is(err, invite.ErrInvalidToken) {
		writeError(w, http.StatusNotFound, "invalid or expired invitation")
		return
	}
	if err != nil {
		log.Printf("api: redeem invitation: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.store.AddMember(r.Context(), inv.ProjectID, user.ID); err != nil {
		log.Printf("api: add member project=%s user=%s: %v", inv.ProjectID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"project_id": inv.ProjectID})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// allow applies a rate limit rule, writing the 429 response itself when the
// caller is throttled. A nil limiter allows everything.
func (a *API) allow(w http.ResponseWriter, r *http.Request, userID string, rule ratelimit.Rule) bool {
	if a.limiter == nil {
		return true
	}
	ok, _ := a.limiter.Allow(r.Context(), userID, rule)
	if !ok {
		writeError(w, http.StatusTooManyRequests, "rate limited")
	}
	return ok
}

// writeMutationError maps gateway errors onto status codes. Only the
// initiating client learns that the mutation failed; nothing was broadcast.
func (a *API) writeMutationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, board.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: %s: %v", op, err)
		writeError(w, http.StatusBadGateway, "persistence failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
