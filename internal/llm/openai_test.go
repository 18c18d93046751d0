package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Complete(t *testing.T) {
	var gotAuth string
	var gotReq oaRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
			"choices": []map[string]any{{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role":    "assistant",
					"content": "checking",
					"tool_calls": []map[string]any{{
						"id":   "call-1",
						"type": "function",
						"function": map[string]any{
							"name":      "lookup",
							"arguments": `{"q":"answer"}`,
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", "test-model")
	resp, err := client.Complete(context.Background(), CompletionRequest{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		Tools:    []ToolDefinition{{Name: "lookup", InputSchema: `{"type":"object"}`}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, RoleSystem, gotReq.Messages[0].Role)
	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "lookup", gotReq.Tools[0].Function.Name)
	assert.False(t, gotReq.Stream)

	assert.Equal(t, "checking", resp.Content)
	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"answer"}`, resp.ToolCalls[0].Input)
}

func TestOpenAIClient_CompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", "test-model")
	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"model":"test-model","choices":[{"delta":{"content":"hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"answer\"}"}}]},"finish_reason":"tool_calls"}]}`,
		}
		for _, c := range chunks {
			io.WriteString(w, "data: "+c+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "test-model")
	events, err := client.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	var text string
	var calls []ToolCall
	var final *CompletionResponse
	for ev := range events {
		switch ev.Type {
		case EventDelta:
			text += ev.Content
		case EventToolCall:
			calls = append(calls, *ev.ToolCall)
		case EventDone:
			final = ev.Response
		case EventError:
			t.Fatalf("unexpected error event: %s", ev.Error)
		}
	}

	assert.Equal(t, "hello", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.JSONEq(t, `{"q":"answer"}`, calls[0].Input)

	require.NotNil(t, final)
	assert.Equal(t, "hello", final.Content)
	assert.Equal(t, "tool_calls", final.StopReason)
	require.Len(t, final.ToolCalls, 1)
}

func TestNewOpenAIClient_DefaultBaseURL(t *testing.T) {
	client := NewOpenAIClient("", "", "test-model")
	assert.Equal(t, "https://api.openai.com", client.baseURL)

	client = NewOpenAIClient("https://example.com/", "", "test-model")
	assert.Equal(t, "https://example.com", client.baseURL)
}
