// Package llm defines the text-generation client contract. The orchestrator
// depends only on the Client interface; concrete providers live beside it.
package llm

import "context"

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single turn in a conversation, in provider wire shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"` // set on role=tool results
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // set on assistant tool requests
}

// ToolDefinition describes a tool the model can invoke.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"inputSchema"` // JSON Schema string
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"` // JSON string
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// CompletionResponse is the result of one full completion round.
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	StopReason string     `json:"stopReason,omitempty"`
	Model      string     `json:"model,omitempty"`
	Usage      Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Stream event types.
const (
	EventDelta    = "delta"
	EventToolCall = "tool_call"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent is a chunk from a streaming completion. The channel carrying
// these is closed after a terminal "done" or "error" event.
type StreamEvent struct {
	Type     string              `json:"type"`
	Content  string              `json:"content,omitempty"`
	ToolCall *ToolCall           `json:"toolCall,omitempty"`
	Error    string              `json:"error,omitempty"`
	Response *CompletionResponse `json:"response,omitempty"` // set on done
}

// Client is the interface all generation providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name.
	Name() string
}
