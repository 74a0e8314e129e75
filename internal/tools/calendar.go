package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dativo-io/aegis/internal/requestctx"
)

var calendarScopes = []string{
	"https://www.googleapis.com/auth/calendar.events.readonly",
}

// CalendarEventsTool lists upcoming events from the caller's linked
// calendar.
type CalendarEventsTool struct {
	tokens  TokenSource
	baseURL string
	client  *http.Client
}

// NewCalendarEventsTool creates the calendar tool. An empty baseURL
// selects the offline stub.
func NewCalendarEventsTool(tokens TokenSource, baseURL string) *CalendarEventsTool {
	return &CalendarEventsTool{tokens: tokens, baseURL: baseURL, client: newHTTPClient()}
}

func (t *CalendarEventsTool) Name() string { return "getCalendarEventsTool" }

func (t *CalendarEventsTool) Description() string {
	return "List events from the user's calendar within an optional time window."
}

func (t *CalendarEventsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timeMin": {"type": "string", "description": "RFC3339 lower bound for event start time"},
			"timeMax": {"type": "string", "description": "RFC3339 upper bound for event start time"},
			"maxResults": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum number of events to return"}
		},
		"additionalProperties": false
	}`)
}

type calendarParams struct {
	TimeMin    string `json:"timeMin"`
	TimeMax    string `json:"timeMax"`
	MaxResults int    `json:"maxResults"`
}

func (t *CalendarEventsTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p calendarParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parsing calendar arguments: %w", err)
		}
	}
	if p.MaxResults <= 0 {
		p.MaxResults = 10
	}

	token, err := t.tokens.AccessToken(ctx, requestctx.SubjectID(ctx), ConnGoogle)
	if err != nil {
		return nil, withScopes(err, calendarScopes)
	}

	if t.baseURL == "" {
		return json.Marshal(map[string]any{"events": []any{}})
	}

	endpoint := fmt.Sprintf("%s/calendar/v3/calendars/primary/events?maxResults=%d", t.baseURL, p.MaxResults)
	if p.TimeMin != "" {
		endpoint += "&timeMin=" + url.QueryEscape(p.TimeMin)
	}
	if p.TimeMax != "" {
		endpoint += "&timeMax=" + url.QueryEscape(p.TimeMax)
	}
	return doJSON(ctx, t.client, http.MethodGet, endpoint, token, nil)
}
