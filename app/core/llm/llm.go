package llm

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Upstream failure classes the orchestrator reacts to. Both are wrapped
// with %w at the SDK boundary; everything else passes through untouched.
var (
	ErrRateLimited    = errors.New("llm: rate limited")
	ErrQuotaExhausted = errors.New("llm: quota exhausted")
)

// Message is a prior conversation turn fed back to the model.
type Message struct {
	Role    string
	Content string
}

// Tool describes a callable function exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ToolCall is an intent emitted by the model. Arguments is the raw JSON
// string exactly as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult pairs a serialized execution result with the call it
// answers.
type ToolResult struct {
	CallID  string
	Content string
}

// Request describes one model invocation. For the first call of a turn,
// History carries the truncated conversation and Tools the callable set.
// For the follow-up call, Previous holds the assistant response that
// requested the tools and ToolResults their outcomes; history is not
// re-sent.
type Request struct {
	System      string
	History     []Message
	UserMessage string
	Tools       []Tool
	Previous    *Response
	ToolResults []ToolResult
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
