//go:build integration

// Package integration exercises the full assistant stack in one
// process: real SQLite stores on a shared handle, the real
// OpenAI-compatible client against a scripted completion server, and
// real tools against fake upstream backends, all driven through the
// HTTP API.
package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/agent"
	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/gateway"
	"github.com/dativo-io/aegis/internal/stepup"
)

func TestPurchaseApprovalPipeline(t *testing.T) {
	// The model proposes a purchase, then acknowledges the pending
	// approval once the gateway reports the gate.
	llmBackend := newScriptedLLM(t,
		toolCallCompletion("call_1", "shopOnlineTool",
			`{"product":"standing desk","quantity":2,"priceLimit":1200}`),
		textCompletion("I need your approval before I can buy that."),
	)
	defer llmBackend.Close()

	var orders atomic.Int64
	shopBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["subjectId"])
		orders.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"orderId":"ord-77","status":"placed"}`)
	}))
	defer shopBackend.Close()

	stack := newStack(t, stackConfig{llmURL: llmBackend.URL, shopURL: shopBackend.URL})

	// Turn 1: chat surfaces the pending approval instead of buying.
	var turn agent.TurnResult
	resp := stack.do(t, http.MethodPost, "/v1/chat", "key-ada",
		map[string]string{"message": "buy me a standing desk", "thread_id": "thread-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &turn)

	require.Len(t, turn.PendingActions, 1)
	pending := turn.PendingActions[0]
	assert.Equal(t, gateway.StatusRequiresStepUp, pending.Status)
	require.NotEmpty(t, pending.ChallengeID)
	assert.Equal(t, int64(0), orders.Load(), "no order may be placed before approval")

	// The challenge carries a human-readable description of the action.
	var challenges struct {
		Challenges []stepup.Challenge `json:"challenges"`
	}
	resp = stack.do(t, http.MethodGet, "/v1/challenges", "key-ada", nil)
	decodeBody(t, resp, &challenges)
	require.Len(t, challenges.Challenges, 1)
	assert.Equal(t, "Do you want to buy 2 standing desk", challenges.Challenges[0].BindingMessage)

	// The user approves out-of-band.
	resp = stack.do(t, http.MethodPost, "/v1/challenges/"+pending.ChallengeID+"/approve", "key-ada", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Resume: re-submit the identical call carrying the challenge id.
	var result gateway.Result
	resp = stack.do(t, http.MethodPost, "/v1/invocations", "key-ada", map[string]any{
		"toolName":    "shopOnlineTool",
		"params":      map[string]any{"product": "standing desk", "quantity": 2, "priceLimit": 1200},
		"challengeId": pending.ChallengeID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &result)
	assert.Equal(t, gateway.StatusSuccess, result.Status)
	assert.Equal(t, int64(1), orders.Load())
	assert.Contains(t, string(result.Output), "ord-77")

	// The audit trail holds the whole story and every signature checks out.
	var trail struct {
		Events []audit.Event `json:"events"`
	}
	resp = stack.do(t, http.MethodGet, "/v1/audit", "key-ada", nil)
	decodeBody(t, resp, &trail)
	require.NotEmpty(t, trail.Events)

	var actions []string
	for _, ev := range trail.Events {
		actions = append(actions, ev.Action)

		var verify struct {
			Valid bool `json:"valid"`
		}
		resp = stack.do(t, http.MethodGet, "/v1/audit/"+ev.ID+"/verify", "key-ada", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &verify)
		assert.True(t, verify.Valid, "event %s signature", ev.ID)
	}
	assert.Contains(t, actions, audit.ActionStepUpRequired)
	assert.Contains(t, actions, audit.ActionToolSuccess)
}

func TestDeniedPurchaseNeverExecutes(t *testing.T) {
	shopBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("shop backend must not be reached after denial")
	}))
	defer shopBackend.Close()

	stack := newStack(t, stackConfig{shopURL: shopBackend.URL})

	params := map[string]any{"product": "drone", "quantity": 1, "priceLimit": 2000}
	var result gateway.Result
	resp := stack.do(t, http.MethodPost, "/v1/invocations", "key-ada", map[string]any{
		"toolName": "shopOnlineTool", "params": params,
	})
	decodeBody(t, resp, &result)
	require.Equal(t, gateway.StatusRequiresStepUp, result.Status)

	resp = stack.do(t, http.MethodPost, "/v1/challenges/"+result.ChallengeID+"/deny", "key-ada", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var denied gateway.Result
	resp = stack.do(t, http.MethodPost, "/v1/invocations", "key-ada", map[string]any{
		"toolName": "shopOnlineTool", "params": params, "challengeId": result.ChallengeID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &denied)
	assert.Equal(t, gateway.StatusDenied, denied.Status)
}

func TestGoogleConnectionPipeline(t *testing.T) {
	var drafts atomic.Int64
	googleBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer ya29.integration", r.Header.Get("Authorization"))
		drafts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"draft-42"}`)
	}))
	defer googleBackend.Close()

	stack := newStack(t, stackConfig{googleURL: googleBackend.URL})

	params := map[string]any{
		"recipients": []string{"bob@example.com"},
		"subject":    "Lunch tomorrow",
		"body":       "Does noon work for you?",
		"action":     "draft",
	}

	// Without a linked account the call suspends on a connection challenge.
	var result gateway.Result
	resp := stack.do(t, http.MethodPost, "/v1/invocations", "key-ada", map[string]any{
		"toolName": "gmailDraftTool", "params": params,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &result)
	require.Equal(t, gateway.StatusConnectionRequired, result.Status)
	assert.Equal(t, "google-workspace", result.Connection)
	require.NotEmpty(t, result.ChallengeID)
	assert.Equal(t, int64(0), drafts.Load())

	// Linking the account stores the credential and resolves the challenge.
	resp = stack.do(t, http.MethodPost, "/v1/connections", "key-ada", map[string]any{
		"connection":   "google-workspace",
		"access_token": "ya29.integration",
		"scopes":       []string{"https://www.googleapis.com/auth/gmail.compose"},
		"expires_at":   time.Now().Add(time.Hour).Format(time.RFC3339),
		"challenge_id": result.ChallengeID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var challenges struct {
		Count int `json:"count"`
	}
	resp = stack.do(t, http.MethodGet, "/v1/challenges", "key-ada", nil)
	decodeBody(t, resp, &challenges)
	assert.Equal(t, 0, challenges.Count)

	// A fresh invocation now reaches the mailbox with the vaulted token.
	var drafted gateway.Result
	resp = stack.do(t, http.MethodPost, "/v1/invocations", "key-ada", map[string]any{
		"toolName": "gmailDraftTool", "params": params,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &drafted)
	assert.Equal(t, gateway.StatusSuccess, drafted.Status)
	assert.Equal(t, int64(1), drafts.Load())
}

func TestPermissionFilteredDocuments(t *testing.T) {
	stack := newStack(t, stackConfig{})

	seedDocument(t, stack, "doc-recipes", "Espresso recipes", "A collection of espresso brewing recipes.")
	seedDocument(t, stack, "doc-private", "Espresso budget", "Private espresso spending notes.")

	// Ada owns only the recipe document.
	resp := stack.do(t, http.MethodPost, "/v1/documents/doc-recipes/relations", "key-ada", map[string]string{
		"subject_id": "user-1", "relation": "owner",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = stack.do(t, http.MethodPost, "/v1/documents/doc-private/relations", "key-bob", map[string]string{
		"subject_id": "user-2", "relation": "owner",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result gateway.Result
	resp = stack.do(t, http.MethodPost, "/v1/invocations", "key-ada", map[string]any{
		"toolName": "getContextDocumentsTool",
		"params":   map[string]string{"query": "espresso"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &result)
	require.Equal(t, gateway.StatusSuccess, result.Status)

	out := string(result.Output)
	assert.Contains(t, out, "doc-recipes")
	assert.NotContains(t, out, "doc-private")
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}
