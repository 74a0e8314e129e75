package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCompatibleProvider("test-key", srv.URL)
}

func TestGenerateTextResponse(t *testing.T) {
	p := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral-small-latest", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "mistral-small-latest",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	})

	resp, err := p.Generate(context.Background(), &Request{
		Model:    "mistral-small-latest",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestGenerateToolCallResponse(t *testing.T) {
	p := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		tools, ok := req["tools"].([]any)
		require.True(t, ok, "tool definitions must be forwarded")
		assert.Len(t, tools, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "mistral-small-latest",
			"choices": [{
				"message": {
					"role": "assistant",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "webSearchTool", "arguments": "{\"query\": \"weather\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8}
		}`))
	})

	resp, err := p.Generate(context.Background(), &Request{
		Model:    "mistral-small-latest",
		Messages: []Message{{Role: "user", Content: "what's the weather"}},
		Tools: []Tool{{
			Name:        "webSearchTool",
			Description: "search the web",
			Parameters:  json.RawMessage(`{"type": "object"}`),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "webSearchTool", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query": "weather"}`, string(resp.ToolCalls[0].Arguments))
}

func TestGenerateNoChoices(t *testing.T) {
	p := newMockProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model": "m", "choices": [], "usage": {}}`))
	})

	_, err := p.Generate(context.Background(), &Request{Model: "m"})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestGenerateUpstreamError(t *testing.T) {
	p := newMockProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := p.Generate(context.Background(), &Request{Model: "m"})
	assert.Error(t, err)
}
