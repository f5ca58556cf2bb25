package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/pkg/logger"
	"taskpilot/app/pkg/types"
)

const userIDHeader = "X-User-ID"

// ChatService is the slice of the agent the HTTP layer needs.
type ChatService interface {
	Chat(ctx context.Context, req agent.Request) agent.Response
}

type Server struct {
	port            int
	shutdownTimeout time.Duration

	chat          ChatService
	tasks         *task.Store
	conversations *conversation.Store

	server *http.Server
}

func NewServer(port int, chat ChatService, tasks *task.Store, conversations *conversation.Store) *Server {
	return &Server{
		port:            port,
		shutdownTimeout: 5 * time.Second,
		chat:            chat,
		tasks:           tasks,
		conversations:   conversations,
	}
}

func (s *Server) SetShutdownTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	s.shutdownTimeout = timeout
}

// Start serves until ctx is canceled, then drains within the shutdown
// timeout.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown: %v", err)
		}
	}()

	logger.Info("http listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without opening a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskByID)
	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/conversations/", s.handleConversationByID)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

type chatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

type updateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

type taskResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Completed   bool   `json:"completed"`
	Priority    int    `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type taskListResponse struct {
	Tasks []taskResponse `json:"tasks"`
	Total int            `json:"total"`
}

type conversationResponse struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type conversationListResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type messageResponse struct {
	ID        int64           `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type messageListResponse struct {
	Messages []messageResponse `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	headerUser := strings.TrimSpace(r.Header.Get(userIDHeader))
	bodyUser := strings.TrimSpace(req.UserID)
	if headerUser != "" && bodyUser != "" && headerUser != bodyUser {
		http.Error(w, "user_id does not match "+userIDHeader+" header", http.StatusBadRequest)
		return
	}
	owner := headerUser
	if owner == "" {
		owner = bodyUser
	}
	if owner == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	resp := s.chat.Chat(r.Context(), agent.Request{
		OwnerID:        types.OwnerID(owner),
		Message:        req.Message,
		ConversationID: req.ConversationID,
	})

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r, owner)
	case http.MethodPost:
		s.createTask(w, r, owner)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, owner types.OwnerID) {
	q := r.URL.Query()
	filter := task.Filter{
		Status:    task.NormalizeStatus(q.Get("status")),
		Search:    strings.TrimSpace(q.Get("search")),
		SortBy:    strings.TrimSpace(q.Get("sort_by")),
		SortOrder: strings.TrimSpace(q.Get("sort_order")),
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p <= 0 {
			http.Error(w, "priority must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Priority = p
	}

	items, err := s.tasks.List(r.Context(), owner, filter)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	resp := taskListResponse{Tasks: make([]taskResponse, 0, len(items)), Total: len(items)}
	for _, t := range items {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, owner types.OwnerID) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := s.tasks.Create(r.Context(), owner, task.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     dueDate,
	})
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(created))
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	id, ok := parseIDPath(r.URL.Path, "/api/tasks/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := s.tasks.GetByID(r.Context(), id, owner)
		if err != nil {
			s.writeTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTaskResponse(t))

	case http.MethodPut:
		var req updateTaskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in := task.UpdateInput{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
			Priority:    req.Priority,
			Completed:   req.Completed,
		}
		if req.DueDate != nil {
			due, err := parseDueDate(*req.DueDate)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			in.DueDate = &due
		}
		updated, err := s.tasks.Update(r.Context(), id, owner, in)
		if err != nil {
			s.writeTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTaskResponse(updated))

	case http.MethodDelete:
		deleted, err := s.tasks.Delete(r.Context(), id, owner)
		if err != nil {
			s.writeTaskError(w, err)
			return
		}
		if !deleted {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := s.conversations.List(r.Context(), owner)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := conversationListResponse{Conversations: make([]conversationResponse, 0, len(items))}
	for _, c := range items {
		resp.Conversations = append(resp.Conversations, conversationResponse{
			ID:        c.ID,
			CreatedAt: formatUnix(c.CreatedAt),
			UpdatedAt: formatUnix(c.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/conversations/"), "/")
	parts := strings.Split(tail, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.listMessages(w, r, id, owner)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		deleted, err := s.conversations.Delete(r.Context(), id, owner)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !deleted {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "messages"):
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, id int64, owner types.OwnerID) {
	// Ownership check first so foreign conversations read as missing.
	if _, err := s.conversations.Get(r.Context(), id, owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	messages, err := s.conversations.LoadHistory(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := messageListResponse{Messages: make([]messageResponse, 0, len(messages))}
	for _, m := range messages {
		item := messageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: formatUnix(m.CreatedAt),
		}
		if m.ToolCalls != "" {
			item.ToolCalls = json.RawMessage(m.ToolCalls)
		}
		resp.Messages = append(resp.Messages, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request) (types.OwnerID, bool) {
	owner := types.OwnerID(r.Header.Get(userIDHeader)).Normalize()
	if owner.IsZero() {
		http.Error(w, userIDHeader+" header is required", http.StatusBadRequest)
		return "", false
	}
	return owner, true
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, sql.ErrNoRows):
		http.Error(w, "task not found", http.StatusNotFound)
	default:
		logger.Error("task request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toTaskResponse(t task.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Completed:   t.Completed,
		Priority:    t.Priority,
		CreatedAt:   formatUnix(t.CreatedAt),
		UpdatedAt:   formatUnix(t.UpdatedAt),
	}
	if t.DueDate > 0 {
		resp.DueDate = formatUnix(t.DueDate)
	}
	return resp
}

func parseDueDate(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("due_date must be RFC3339: %w", err)
	}
	return ts.Unix(), nil
}

func parseIDPath(path, prefix string) (int64, bool) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" || strings.Contains(tail, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
