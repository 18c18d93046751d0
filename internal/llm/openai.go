package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
// baseURL should be like "https://api.openai.com".
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

// Wire types for the chat-completions API.

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
}

type oaToolCall struct {
	Index    int        `json:"index,omitempty"`
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaTool struct {
	Type     string    `json:"type"`
	Function oaToolDef `json:"function"`
}

type oaToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaResponse struct {
	Model   string  `json:"model"`
	Usage   oaUsage `json:"usage"`
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
}

type oaStreamChunk struct {
	Model   string   `json:"model"`
	Usage   *oaUsage `json:"usage,omitempty"`
	Choices []struct {
		Delta        oaMessage `json:"delta"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) buildRequest(req CompletionRequest, stream bool) ([]byte, error) {
	messages := make([]oaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, oaMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		om := oaMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, oaToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: oaFunction{Name: tc.Name, Arguments: tc.Input},
			})
		}
		messages = append(messages, om)
	}

	var tools []oaTool
	for _, t := range req.Tools {
		tools = append(tools, oaTool{
			Type: "function",
			Function: oaToolDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.InputSchema),
			},
		})
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	return json.Marshal(oaRequest{
		Model:       model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
}

func (c *OpenAIClient) newHTTPRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

// Complete sends a non-streaming completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	payload, err := c.buildRequest(req, false)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := c.newHTTPRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var result oaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := result.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Model:      result.Model,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream sends a streaming completion request. Text deltas and aggregated
// tool calls are delivered on the returned channel, terminated by a done
// or error event.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	payload, err := c.buildRequest(req, true)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	events := make(chan StreamEvent)
	go c.streamRequest(ctx, events, payload)
	return events, nil
}

func (c *OpenAIClient) streamRequest(ctx context.Context, events chan<- StreamEvent, payload []byte) {
	defer close(events)

	httpReq, err := c.newHTTPRequest(ctx, payload)
	if err != nil {
		events <- StreamEvent{Type: EventError, Error: err.Error()}
		return
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		events <- StreamEvent{Type: EventError, Error: fmt.Sprintf("request failed: %v", err)}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		events <- StreamEvent{Type: EventError, Error: fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(body))}
		return
	}

	var (
		content   strings.Builder
		model     string
		usage     Usage
		stop      string
		toolCalls []ToolCall // aggregated by chunk index
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk oaStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			stop = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			select {
			case events <- StreamEvent{Type: EventDelta, Content: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			// Tool call arguments arrive as fragments keyed by index.
			for len(toolCalls) <= tc.Index {
				toolCalls = append(toolCalls, ToolCall{})
			}
			agg := &toolCalls[tc.Index]
			if tc.ID != "" {
				agg.ID = tc.ID
			}
			if tc.Function.Name != "" {
				agg.Name = tc.Function.Name
			}
			agg.Input += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Type: EventError, Error: fmt.Sprintf("reading stream: %v", err)}
		return
	}

	final := &CompletionResponse{
		Content:    content.String(),
		StopReason: stop,
		Model:      model,
		Usage:      usage,
	}
	for _, tc := range toolCalls {
		if tc.Name == "" {
			continue
		}
		final.ToolCalls = append(final.ToolCalls, tc)
		select {
		case events <- StreamEvent{Type: EventToolCall, ToolCall: &tc}:
		case <-ctx.Done():
			return
		}
	}

	select {
	case events <- StreamEvent{Type: EventDone, Response: final}:
	case <-ctx.Done():
	}
}
