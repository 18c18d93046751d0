package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/tools"
)

// RunnerConfig tunes the generation loop.
type RunnerConfig struct {
	Model          string
	MaxTokens      int
	Temperature    *float64
	MaxToolSteps   int           // model calls per turn, tool rounds included
	CallTimeout    time.Duration // budget for one model call
	ToolTimeout    time.Duration // budget for one tool execution
	PersistTimeout time.Duration // budget for the post-disconnect persist
	Persona        string
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxToolSteps <= 0 {
		c.MaxToolSteps = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	return c
}

// Runner drives one generation turn: it streams model output, executes
// requested tools in a bounded loop, persists the resulting assistant
// message, and populates the response cache.
type Runner struct {
	client   llm.Client
	resolver *Resolver
	cache    cache.Cache
	tools    *tools.Registry
	cfg      RunnerConfig
	log      *logging.Logger
}

// NewRunner creates a generation runner.
func NewRunner(client llm.Client, resolver *Resolver, c cache.Cache, reg *tools.Registry, cfg RunnerConfig, log *logging.Logger) *Runner {
	return &Runner{
		client:   client,
		resolver: resolver,
		cache:    c,
		tools:    reg,
		cfg:      cfg.withDefaults(),
		log:      log.Sub("runner"),
	}
}

// Generate runs the turn for an already-resolved session and returns the
// event stream. The channel is closed after a terminal done or error event.
// If ctx is canceled mid-generation the partial assistant message is still
// persisted on a best-effort basis.
func (r *Runner) Generate(ctx context.Context, sess *domain.Session, cacheKey string) <-chan Event {
	out := make(chan Event, 16)
	go r.run(ctx, sess, cacheKey, out)
	return out
}

func (r *Runner) run(ctx context.Context, sess *domain.Session, cacheKey string, out chan<- Event) {
	defer close(out)

	emit := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	history := historyFromMessages(sess.Messages)
	system := BuildSystemPrompt(PromptConfig{Persona: r.cfg.Persona, Tools: r.tools.Definitions()})

	var (
		toolParts []domain.Part
		finalText string
		completed bool
	)

	for step := 0; step < r.cfg.MaxToolSteps; step++ {
		resp, text, err := r.modelCall(ctx, system, history, emit)
		if ctx.Err() != nil {
			// Caller went away. Keep whatever was generated.
			finalText = text
			break
		}
		if err != nil {
			r.log.Error().Err(err).Str("sessionId", sess.ID).Int("step", step).Msg("generation failed")
			emit(Event{Type: EventError, ErrorKind: domain.KindOf(err), Error: domain.MessageOf(err)})
			if text != "" || len(toolParts) > 0 {
				r.persist(ctx, sess.ID, newAssistantMessage(text, toolParts))
			}
			return
		}

		if len(resp.ToolCalls) == 0 {
			finalText = text
			completed = true
			break
		}

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			emit(Event{Type: EventToolCall, ToolName: call.Name, CallID: call.ID})
			part, output := r.invokeTool(ctx, call)
			toolParts = append(toolParts, part)
			emit(Event{
				Type:      EventToolResult,
				ToolName:  call.Name,
				CallID:    call.ID,
				ToolError: part.Tool.State == domain.ToolStateError,
			})
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    output,
			})
		}
		// Best-effort answer if the step bound cuts the loop short.
		finalText = text
	}

	msg := newAssistantMessage(finalText, toolParts)
	if !r.persist(ctx, sess.ID, msg) {
		emit(Event{Type: EventError, ErrorKind: domain.KindInternal, Error: "failed to persist assistant message"})
		return
	}

	if completed && finalText != "" {
		r.cache.Set(ctx, cacheKey, finalText)
	}

	emit(Event{Type: EventDone, Message: &msg})
}

// modelCall runs one streaming completion, forwarding text deltas to the
// caller. It returns the provider response and the accumulated text; errors
// carry the upstream kind.
func (r *Runner) modelCall(ctx context.Context, system string, history []llm.Message, emit func(Event) bool) (*llm.CompletionResponse, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	events, err := r.client.Stream(callCtx, llm.CompletionRequest{
		Model:       r.cfg.Model,
		System:      system,
		Messages:    history,
		Tools:       r.tools.Definitions(),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		return nil, "", domain.Wrap(domain.KindUpstream, "generation provider unavailable", err)
	}

	var (
		content strings.Builder
		resp    *llm.CompletionResponse
		evErr   string
	)
	for ev := range events {
		switch ev.Type {
		case llm.EventDelta:
			content.WriteString(ev.Content)
			if !emit(Event{Type: EventDelta, Delta: ev.Content}) {
				// Caller disconnected; stop the provider stream but keep
				// draining so the goroutine behind it can exit.
				cancel()
			}
		case llm.EventError:
			evErr = ev.Error
		case llm.EventDone:
			resp = ev.Response
		}
	}

	text := content.String()
	if evErr != "" {
		return nil, text, domain.Wrap(domain.KindUpstream, "generation failed", errors.New(evErr))
	}
	if resp == nil {
		if ctx.Err() != nil {
			return nil, text, ctx.Err()
		}
		if callCtx.Err() != nil {
			return nil, text, domain.Wrap(domain.KindUpstream, "generation timed out", callCtx.Err())
		}
		return nil, text, domain.E(domain.KindUpstream, "generation stream ended unexpectedly")
	}
	return resp, text, nil
}

// invokeTool executes one tool call and records the outcome as a message
// part. Tool failures, including unknown tools and timeouts, become error
// parts and are reported back to the model; they never fail the turn.
func (r *Runner) invokeTool(ctx context.Context, call llm.ToolCall) (domain.Part, string) {
	inv := domain.ToolInvocation{
		ToolName: call.Name,
		CallID:   call.ID,
		Input:    json.RawMessage(call.Input),
		State:    domain.ToolStatePending,
	}

	var (
		output string
		err    error
	)
	tool, ok := r.tools.Get(call.Name)
	if !ok {
		err = fmt.Errorf("unknown tool: %s", call.Name)
	} else {
		toolCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
		output, err = tool.Execute(toolCtx, call.Input)
		cancel()
	}

	if err != nil {
		r.log.Warn().Err(err).Str("tool", call.Name).Msg("tool execution failed")
		inv.State = domain.ToolStateError
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		inv.Output = payload
		return domain.ToolPart(inv), string(payload)
	}

	inv.State = domain.ToolStateDone
	if json.Valid([]byte(output)) {
		inv.Output = json.RawMessage(output)
	} else {
		quoted, _ := json.Marshal(output)
		inv.Output = quoted
	}
	return domain.ToolPart(inv), output
}

// persist appends the assistant message, switching to a detached context
// when the caller is already gone.
func (r *Runner) persist(ctx context.Context, sessionID string, msg domain.Message) bool {
	pctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()
	}
	if _, err := r.resolver.AppendAssistant(pctx, sessionID, msg); err != nil {
		r.log.Error().Err(err).Str("sessionId", sessionID).Str("messageId", msg.ID).Msg("persisting assistant message failed")
		return false
	}
	return true
}

// newAssistantMessage assembles the persisted assistant message: tool
// invocation parts in execution order followed by the final text.
func newAssistantMessage(text string, toolParts []domain.Part) domain.Message {
	parts := make([]domain.Part, 0, len(toolParts)+1)
	parts = append(parts, toolParts...)
	if text != "" || len(parts) == 0 {
		parts = append(parts, domain.TextPart(text))
	}
	return domain.Message{
		ID:        assistantMessageID(),
		Role:      domain.RoleAssistant,
		Parts:     parts,
		CreatedAt: time.Now().UTC(),
	}
}

// assistantMessageID returns a time-ordered UUID so assistant messages sort
// by creation even across sessions.
func assistantMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// historyFromMessages converts persisted messages into provider wire shape.
// Tool invocation parts on an assistant message expand into the original
// tool_calls request plus one tool result message per call.
func historyFromMessages(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.RoleAssistant {
			out = append(out, llm.Message{Role: string(m.Role), Content: m.Text()})
			continue
		}

		am := llm.Message{Role: llm.RoleAssistant, Content: m.Text()}
		var results []llm.Message
		for _, p := range m.Parts {
			if p.Type != domain.PartToolInvocation || p.Tool == nil {
				continue
			}
			am.ToolCalls = append(am.ToolCalls, llm.ToolCall{
				ID:    p.Tool.CallID,
				Name:  p.Tool.ToolName,
				Input: string(p.Tool.Input),
			})
			results = append(results, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: p.Tool.CallID,
				Content:    string(p.Tool.Output),
			})
		}
		out = append(out, am)
		out = append(out, results...)
	}
	return out
}
