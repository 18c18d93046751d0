// Package turn normalizes and validates inbound chat turns. Parsing is a
// pure function of the request body; nothing here touches storage.
package turn

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/domain"
)

// Validation failures. Each is a distinct validation error so callers and
// tests can tell them apart with errors.Is.
var (
	ErrMissingFields      = domain.E(domain.KindValidation, "id and trigger are required")
	ErrNoMessages         = domain.E(domain.KindValidation, "turn contains no messages")
	ErrLastMessageNotUser = domain.E(domain.KindValidation, "last message must have role user")
)

// RawTurn is the wire shape of an inbound chat turn.
type RawTurn struct {
	ID       string       `json:"id"`
	Trigger  string       `json:"trigger"`
	Messages []RawMessage `json:"messages"`
}

// RawMessage tolerates both the current parts shape and the legacy flat
// content string.
type RawMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content,omitempty"`
	Parts     []RawPart `json:"parts,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// RawPart is a loosely typed part; unknown types are dropped during
// normalization.
type RawPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	CallID    string          `json:"callId,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	State     string          `json:"state,omitempty"`
	MediaType string          `json:"mediaType,omitempty"`
	URI       string          `json:"uri,omitempty"`
}

// Turn is a validated, normalized chat turn.
type Turn struct {
	SessionID string
	Trigger   string
	Messages  []domain.Message
}

// Parse validates a raw turn and normalizes its messages into the canonical
// message/part shape.
func Parse(raw RawTurn) (*Turn, error) {
	if raw.ID == "" || raw.Trigger == "" {
		return nil, ErrMissingFields
	}

	msgs := make([]domain.Message, 0, len(raw.Messages))
	for _, rm := range raw.Messages {
		msgs = append(msgs, normalizeMessage(rm))
	}

	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	if msgs[len(msgs)-1].Role != domain.RoleUser {
		return nil, ErrLastMessageNotUser
	}

	return &Turn{SessionID: raw.ID, Trigger: raw.Trigger, Messages: msgs}, nil
}

func normalizeMessage(rm RawMessage) domain.Message {
	msg := domain.Message{
		ID:        rm.ID,
		Role:      domain.Role(rm.Role),
		Parts:     []domain.Part{},
		CreatedAt: rm.CreatedAt,
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	for _, rp := range rm.Parts {
		if p, ok := normalizePart(rp); ok {
			msg.Parts = append(msg.Parts, p)
		}
	}

	// Legacy flat content becomes a single text part, but only when no
	// structured parts were recognized.
	if len(msg.Parts) == 0 && rm.Content != "" {
		msg.Parts = append(msg.Parts, domain.TextPart(rm.Content))
	}

	return msg
}

func normalizePart(rp RawPart) (domain.Part, bool) {
	switch domain.PartType(rp.Type) {
	case domain.PartText:
		return domain.TextPart(rp.Text), true
	case domain.PartToolInvocation:
		state := domain.ToolState(rp.State)
		switch state {
		case domain.ToolStatePending, domain.ToolStateDone, domain.ToolStateError:
		default:
			state = domain.ToolStateDone
		}
		return domain.ToolPart(domain.ToolInvocation{
			ToolName: rp.ToolName,
			CallID:   rp.CallID,
			Input:    rp.Input,
			Output:   rp.Output,
			State:    state,
		}), true
	case domain.PartFile:
		if rp.URI == "" {
			return domain.Part{}, false
		}
		return domain.Part{
			Type: domain.PartFile,
			File: &domain.FileRef{MediaType: rp.MediaType, URI: rp.URI},
		}, true
	default:
		return domain.Part{}, false
	}
}
