package orchestrator

import "github.com/parleyhq/parley/internal/domain"

// Event types emitted over a generation stream.
const (
	EventDelta      = "delta"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventDone       = "done"
	EventError      = "error"
)

// Event is one frame of a streamed generation. The channel carrying these
// is closed after a terminal done or error event.
type Event struct {
	Type string `json:"type"`

	// Delta carries incremental assistant text on delta events.
	Delta string `json:"delta,omitempty"`

	// Tool invocation fields, set on tool_call and tool_result events.
	ToolName  string `json:"toolName,omitempty"`
	CallID    string `json:"callId,omitempty"`
	ToolError bool   `json:"toolError,omitempty"`

	// Message is the persisted assistant message, set on done events.
	Message *domain.Message `json:"message,omitempty"`

	// Error fields, set on error events.
	ErrorKind domain.Kind `json:"errorKind,omitempty"`
	Error     string      `json:"error,omitempty"`
}
