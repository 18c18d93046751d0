package domain

import "encoding/json"

// PartType discriminates the Part union.
type PartType string

const (
	PartText           PartType = "text"
	PartToolInvocation PartType = "tool-invocation"
	PartFile           PartType = "file"
)

// ToolState tracks the lifecycle of a tool invocation part.
type ToolState string

const (
	ToolStatePending ToolState = "pending"
	ToolStateDone    ToolState = "done"
	ToolStateError   ToolState = "error"
)

// Part is one piece of a message: plain text, a tool invocation, or a file
// reference. Exactly one of the payload fields is set, selected by Type.
type Part struct {
	Type PartType        `json:"type"`
	Text string          `json:"text,omitempty"`
	Tool *ToolInvocation `json:"toolInvocation,omitempty"`
	File *FileRef        `json:"file,omitempty"`
}

// ToolInvocation records one tool call made while generating a message.
type ToolInvocation struct {
	ToolName string          `json:"toolName"`
	CallID   string          `json:"callId"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	State    ToolState       `json:"state"`
}

// FileRef points at externally stored file content.
type FileRef struct {
	MediaType string `json:"mediaType"`
	URI       string `json:"uri"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ToolPart builds a tool-invocation part.
func ToolPart(inv ToolInvocation) Part {
	return Part{Type: PartToolInvocation, Tool: &inv}
}
