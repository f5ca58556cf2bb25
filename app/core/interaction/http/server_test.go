package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/core/orchestrator/task"
)

type stubChat struct {
	lastRequest agent.Request
	response    agent.Response
}

func (s *stubChat) Chat(_ context.Context, req agent.Request) agent.Response {
	s.lastRequest = req
	return s.response
}

func newTestServer(t *testing.T) (*Server, *stubChat, *task.Store, *conversation.Store) {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	chat := &stubChat{response: agent.Response{Success: true, ConversationID: 7}}
	tasks := task.NewStore(database)
	conversations := conversation.NewStore(database)
	return NewServer(0, chat, tasks, conversations), chat, tasks, conversations
}

func doRequest(t *testing.T, s *Server, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChatRoutesToService(t *testing.T) {
	s, chat, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/chat", "u-1", `{"message":"hello","conversation_id":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if chat.lastRequest.OwnerID != "u-1" || chat.lastRequest.Message != "hello" || chat.lastRequest.ConversationID != 3 {
		t.Fatalf("unexpected chat request: %+v", chat.lastRequest)
	}

	var resp agent.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !resp.Success || resp.ConversationID != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestChatUserIDSources(t *testing.T) {
	s, chat, _, _ := newTestServer(t)

	// Body-only user id works when the header is absent.
	rec := doRequest(t, s, http.MethodPost, "/api/chat", "", `{"message":"hi","user_id":"u-2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if chat.lastRequest.OwnerID != "u-2" {
		t.Fatalf("unexpected owner: %s", chat.lastRequest.OwnerID)
	}

	// Header and body disagreeing is rejected before the orchestrator runs.
	rec = doRequest(t, s, http.MethodPost, "/api/chat", "u-1", `{"message":"hi","user_id":"u-2"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched ids, got %d", rec.Code)
	}

	// No user id at all.
	rec = doRequest(t, s, http.MethodPost, "/api/chat", "", `{"message":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user id, got %d", rec.Code)
	}

	// Empty message.
	rec = doRequest(t, s, http.MethodPost, "/api/chat", "u-1", `{"message":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", rec.Code)
	}
}

func TestTaskCRUD(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/tasks", "u-1",
		`{"title":"Write report","description":"Q3","priority":2,"due_date":"2026-09-15T00:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if created.Title != "Write report" || created.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", created)
	}
	if created.DueDate != "2026-09-15T00:00:00Z" {
		t.Fatalf("due date should round-trip as RFC3339, got %q", created.DueDate)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/tasks", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list taskListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if list.Total != 1 || len(list.Tasks) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	path := "/api/tasks/" + itoa(created.ID)
	rec = doRequest(t, s, http.MethodPut, path, "u-1", `{"status":"in-progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if updated.Status != task.StatusInProgress {
		t.Fatalf("status not updated: %+v", updated)
	}

	rec = doRequest(t, s, http.MethodDelete, path, "u-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, path, "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestTaskValidationAndOwnership(t *testing.T) {
	s, _, tasks, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/tasks", "u-1", `{"title":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/tasks", "", `{"title":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user header, got %d", rec.Code)
	}

	created, err := tasks.Create(context.Background(), "alice", task.CreateInput{Title: "private"})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	rec = doRequest(t, s, http.MethodGet, "/api/tasks/"+itoa(created.ID), "bob", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign tasks should read as missing, got %d", rec.Code)
	}
}

func TestTaskListQueryFilters(t *testing.T) {
	s, _, tasks, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := tasks.Create(ctx, "u-1", task.CreateInput{Title: "Alpha", Status: "done"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := tasks.Create(ctx, "u-1", task.CreateInput{Title: "Beta"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/tasks?status=done", "u-1", "")
	var list taskListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if list.Total != 1 || list.Tasks[0].Title != "Alpha" {
		t.Fatalf("unexpected filtered list: %+v", list)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/tasks?priority=abc", "u-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad priority, got %d", rec.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	s, _, _, conversations := newTestServer(t)
	ctx := context.Background()

	conv, err := conversations.Create(ctx, "u-1")
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := conversations.AppendMessage(ctx, conv.ID, "u-1", conversation.RoleUser, "hello", ""); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := conversations.AppendMessage(ctx, conv.ID, "u-1", conversation.RoleAssistant, "hi", ""); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/conversations", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var convs conversationListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(convs.Conversations) != 1 || convs.Conversations[0].ID != conv.ID {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/messages", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var msgs messageListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(msgs.Messages) != 2 || msgs.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	// Foreign conversations read as missing.
	rec = doRequest(t, s, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/messages", "u-2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign conversation, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/conversations/"+itoa(conv.ID), "u-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodDelete, "/api/conversations/"+itoa(conv.ID), "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for already-deleted conversation, got %d", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
