package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"taskpilot/app/core/llm"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/tools"
	"taskpilot/app/pkg/logger"
	"taskpilot/app/pkg/types"
)

const (
	defaultMaxAttempts  = 3
	defaultBackoffStep  = 5 * time.Second
	defaultHistoryLimit = 10
)

// Canned replies shown to the user when the model is unavailable. The raw
// error always travels separately in Response.ErrorMessage.
const (
	quotaMessage    = "We've reached the API quota limit. Please check your API key and billing settings, or contact the administrator to update the API key."
	overloadMessage = "I'm a bit overwhelmed right now. Please try again in 30 seconds."
)

// RetryPolicy controls how the agent reacts to rate-limited model calls.
// Attempt n waits n*BackoffStep before retrying.
type RetryPolicy struct {
	MaxAttempts int
	BackoffStep time.Duration
}

// Request is one user turn.
type Request struct {
	OwnerID        types.OwnerID
	Message        string
	ConversationID int64
}

// AssistantMessage is the reply shown to the user.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Metadata carries per-turn flags for API consumers.
type Metadata struct {
	HasToolCalls bool `json:"has_tool_calls"`
}

// Response is the outcome of a chat turn. Success is false when the turn
// failed; the assistant message then holds a user-facing explanation and
// ErrorMessage the underlying cause.
type Response struct {
	ConversationID    int64                `json:"conversation_id"`
	Message           AssistantMessage     `json:"message"`
	ToolCallsExecuted []tools.ExecutedCall `json:"tool_calls_executed,omitempty"`
	Success           bool                 `json:"success"`
	ErrorMessage      string               `json:"error_message,omitempty"`
	Metadata          Metadata             `json:"metadata"`
}

// Agent drives a chat turn: load history, call the model, run requested
// tools, feed results back for a final reply, persist the exchange.
type Agent struct {
	name          string
	llm           llm.Client
	conversations *conversation.Store
	tools         *tools.Dispatcher
	retry         RetryPolicy
	historyLimit  int
}

func New(name string, client llm.Client, conversations *conversation.Store, dispatcher *tools.Dispatcher, retry RetryPolicy, historyLimit int) *Agent {
	if name == "" {
		name = "TaskPilot"
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.BackoffStep <= 0 {
		retry.BackoffStep = defaultBackoffStep
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	return &Agent{
		name:          name,
		llm:           client,
		conversations: conversations,
		tools:         dispatcher,
		retry:         retry,
		historyLimit:  historyLimit,
	}
}

// Chat runs one full turn. It never returns an error: every failure is
// folded into the Response so callers have a single shape to render.
func (a *Agent) Chat(ctx context.Context, req Request) Response {
	owner := req.OwnerID.Normalize()
	message := strings.TrimSpace(req.Message)
	if owner.IsZero() || message == "" {
		return a.failure(req.ConversationID, overloadMessage, "user id and message are required")
	}

	conv, err := a.conversations.GetOrCreate(ctx, req.ConversationID, owner)
	if err != nil {
		logger.Error("load conversation: %v", err)
		return a.failure(req.ConversationID, overloadMessage, err.Error())
	}

	history, err := a.conversations.RecentHistory(ctx, conv.ID, a.historyLimit)
	if err != nil {
		logger.Error("load history: %v", err)
		return a.failure(conv.ID, overloadMessage, err.Error())
	}

	modelHistory := toModelHistory(history)
	system := a.systemPrompt()
	defs := tools.Definitions()

	var (
		executed  []tools.ExecutedCall
		finalText string
	)

	for attempt := 1; ; attempt++ {
		executed = nil

		resp, err := a.llm.Complete(ctx, llm.Request{
			System:      system,
			History:     modelHistory,
			UserMessage: message,
			Tools:       defs,
		})
		if err != nil {
			out, retry := a.handleModelError(ctx, err, conv.ID, attempt)
			if retry {
				continue
			}
			return out
		}

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Content
			break
		}

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			run := a.tools.Execute(ctx, owner, tools.Call{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
			})
			executed = append(executed, run)
			results = append(results, llm.ToolResult{
				CallID:  call.ID,
				Content: marshalResult(run.Result),
			})
		}

		// One follow-up call turns the tool output into prose. The tool
		// side effects above stay committed even if this call fails and
		// the turn is retried.
		followup, err := a.llm.Complete(ctx, llm.Request{
			System:      system,
			UserMessage: message,
			Tools:       defs,
			Previous:    resp,
			ToolResults: results,
		})
		if err != nil {
			out, retry := a.handleModelError(ctx, err, conv.ID, attempt)
			if retry {
				continue
			}
			return out
		}

		finalText = followup.Content
		break
	}

	var toolMeta string
	if len(executed) > 0 {
		if data, merr := json.Marshal(executed); merr == nil {
			toolMeta = string(data)
		}
	}

	if _, err := a.conversations.AppendMessage(ctx, conv.ID, owner, conversation.RoleUser, message, toolMeta); err != nil {
		logger.Error("persist user message: %v", err)
		return a.failure(conv.ID, overloadMessage, err.Error())
	}
	if _, err := a.conversations.AppendMessage(ctx, conv.ID, owner, conversation.RoleAssistant, finalText, ""); err != nil {
		logger.Error("persist assistant message: %v", err)
		return a.failure(conv.ID, overloadMessage, err.Error())
	}

	return Response{
		ConversationID:    conv.ID,
		Message:           AssistantMessage{Role: conversation.RoleAssistant, Content: finalText},
		ToolCallsExecuted: executed,
		Success:           true,
		Metadata:          Metadata{HasToolCalls: len(executed) > 0},
	}
}

// handleModelError decides whether a failed model call ends the turn or is
// retried. When retry is true the returned Response is empty.
func (a *Agent) handleModelError(ctx context.Context, err error, conversationID int64, attempt int) (Response, bool) {
	switch {
	case errors.Is(err, llm.ErrQuotaExhausted):
		logger.Error("model quota exhausted: %v", err)
		return a.failure(conversationID, quotaMessage, err.Error()), false

	case errors.Is(err, llm.ErrRateLimited):
		if attempt >= a.retry.MaxAttempts {
			logger.Error("model rate limited, giving up after %d attempts: %v", attempt, err)
			return a.failure(conversationID, overloadMessage, err.Error()), false
		}
		wait := time.Duration(attempt) * a.retry.BackoffStep
		logger.Info("model rate limited, retrying in %s (attempt %d/%d)", wait, attempt, a.retry.MaxAttempts)
		if serr := sleepCtx(ctx, wait); serr != nil {
			return a.failure(conversationID, overloadMessage, serr.Error()), false
		}
		return Response{}, true

	default:
		logger.Error("model call failed: %v", err)
		return a.failure(conversationID, overloadMessage, err.Error()), false
	}
}

func (a *Agent) failure(conversationID int64, content, cause string) Response {
	return Response{
		ConversationID: conversationID,
		Message:        AssistantMessage{Role: conversation.RoleAssistant, Content: content},
		Success:        false,
		ErrorMessage:   cause,
	}
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(a.name)
	b.WriteString(", a task management assistant.\n")
	b.WriteString("Help the user create, list, update, complete and delete their tasks using the available tools.\n")
	b.WriteString("Use list_tasks before answering questions about what tasks exist.\n")
	b.WriteString("When a tool reports multiple matching tasks, ask the user which one they meant.\n")
	b.WriteString("Keep replies short and conversational. Never invent task ids.")
	return b.String()
}

func toModelHistory(messages []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		role := llm.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func marshalResult(r tools.Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"message":"internal error encoding tool result"}`
	}
	return string(data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
