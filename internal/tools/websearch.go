package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// WebSearchTool queries the configured search backend for fresh
// information from the public web.
type WebSearchTool struct {
	baseURL string
	client  *http.Client
}

// NewWebSearchTool creates the search tool. An empty baseURL selects
// the offline stub.
func NewWebSearchTool(baseURL string) *WebSearchTool {
	return &WebSearchTool{baseURL: baseURL, client: newHTTPClient()}
}

func (t *WebSearchTool) Name() string { return "webSearchTool" }

func (t *WebSearchTool) Description() string {
	return "Search the web for up-to-date information the assistant does not know."
}

func (t *WebSearchTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing search arguments: %w", err)
	}

	if t.baseURL == "" {
		return json.Marshal(map[string]any{
			"query":   p.Query,
			"results": []any{},
		})
	}

	return doJSON(ctx, t.client, http.MethodGet,
		t.baseURL+"/search?q="+url.QueryEscape(p.Query), "", nil)
}
