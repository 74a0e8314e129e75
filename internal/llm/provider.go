// Package llm talks to the chat model behind the assistant. A single
// OpenAI-compatible provider covers the hosted APIs the platform
// supports (OpenAI, Mistral, and anything speaking the same wire
// format) through a configurable base URL.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every model call.
const TimeoutLLMCall = 60 * time.Second

var ErrNoChoices = errors.New("model returned no choices")

// Provider is the interface the agent loop programs against.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is one chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Message is one chat message. ToolCallID and ToolCalls carry the
// tool-use protocol: the assistant message that requested calls, and the
// tool messages answering them.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// Tool is a tool definition passed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Response is one chat completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
	ToolCalls    []ToolCall
}

// ToolCall is a request from the model to call a tool. Arguments are the
// raw JSON the model produced; validation happens at the gateway.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}
