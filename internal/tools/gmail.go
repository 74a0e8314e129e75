package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/dativo-io/aegis/internal/requestctx"
)

// gmailScopes are the delegated scopes the mail tools require.
var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.compose",
}

// GmailDraftTool creates a draft email in the caller's linked mailbox.
type GmailDraftTool struct {
	tokens  TokenSource
	baseURL string
	client  *http.Client
}

// NewGmailDraftTool creates the draft tool. An empty baseURL selects
// the offline stub, which fabricates a draft id without calling out.
func NewGmailDraftTool(tokens TokenSource, baseURL string) *GmailDraftTool {
	return &GmailDraftTool{tokens: tokens, baseURL: baseURL, client: newHTTPClient()}
}

func (t *GmailDraftTool) Name() string { return "gmailDraftTool" }

func (t *GmailDraftTool) Description() string {
	return "Create a draft email in the user's mailbox. Use this whenever the user asks to write, draft, or send an email."
}

func (t *GmailDraftTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"recipients": {"type": "array", "items": {"type": "string"}, "description": "Email addresses of the recipients"},
			"subject": {"type": "string", "description": "Subject line"},
			"body": {"type": "string", "description": "Plain-text body of the email"},
			"action": {"type": "string", "enum": ["draft", "send"], "description": "Whether to leave the email as a draft or send it"}
		},
		"required": ["recipients", "subject", "body"],
		"additionalProperties": false
	}`)
}

type gmailDraftParams struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Action     string   `json:"action"`
}

func (t *GmailDraftTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p gmailDraftParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing draft arguments: %w", err)
	}

	token, err := t.tokens.AccessToken(ctx, requestctx.SubjectID(ctx), ConnGoogle)
	if err != nil {
		return nil, withScopes(err, gmailScopes)
	}

	if t.baseURL == "" {
		return json.Marshal(map[string]any{
			"draftId":    "draft_" + uuid.New().String()[:8],
			"recipients": p.Recipients,
			"subject":    p.Subject,
			"status":     "drafted",
		})
	}

	return doJSON(ctx, t.client, http.MethodPost,
		t.baseURL+"/gmail/v1/users/me/drafts", token,
		map[string]any{
			"message": map[string]any{
				"to":      p.Recipients,
				"subject": p.Subject,
				"body":    p.Body,
			},
		})
}

// GmailSearchTool searches the caller's linked mailbox.
type GmailSearchTool struct {
	tokens  TokenSource
	baseURL string
	client  *http.Client
}

// NewGmailSearchTool creates the search tool. An empty baseURL selects
// the offline stub.
func NewGmailSearchTool(tokens TokenSource, baseURL string) *GmailSearchTool {
	return &GmailSearchTool{tokens: tokens, baseURL: baseURL, client: newHTTPClient()}
}

func (t *GmailSearchTool) Name() string { return "gmailSearchTool" }

func (t *GmailSearchTool) Description() string {
	return "Search the user's mailbox with a Gmail query string and return matching messages."
}

func (t *GmailSearchTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Gmail search query, e.g. from:ada@example.com is:unread"},
			"maxResults": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum number of messages to return"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

type gmailSearchParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

func (t *GmailSearchTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p gmailSearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing search arguments: %w", err)
	}
	if p.MaxResults <= 0 {
		p.MaxResults = 10
	}

	token, err := t.tokens.AccessToken(ctx, requestctx.SubjectID(ctx), ConnGoogle)
	if err != nil {
		return nil, withScopes(err, gmailScopes)
	}

	if t.baseURL == "" {
		return json.Marshal(map[string]any{
			"query":    p.Query,
			"messages": []any{},
		})
	}

	endpoint := fmt.Sprintf("%s/gmail/v1/users/me/messages?q=%s&maxResults=%d",
		t.baseURL, url.QueryEscape(p.Query), p.MaxResults)
	return doJSON(ctx, t.client, http.MethodGet, endpoint, token, nil)
}
