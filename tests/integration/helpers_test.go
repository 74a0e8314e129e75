//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/agent"
	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/authz"
	"github.com/dativo-io/aegis/internal/gateway"
	"github.com/dativo-io/aegis/internal/identity"
	"github.com/dativo-io/aegis/internal/llm"
	"github.com/dativo-io/aegis/internal/policy"
	"github.com/dativo-io/aegis/internal/retrieval"
	"github.com/dativo-io/aegis/internal/server"
	"github.com/dativo-io/aegis/internal/stepup"
	"github.com/dativo-io/aegis/internal/testutil"
	"github.com/dativo-io/aegis/internal/tokenvault"
	"github.com/dativo-io/aegis/internal/tools"
)

// stackConfig points the stack's outbound clients at test backends.
// Empty URLs select each tool's offline stub.
type stackConfig struct {
	llmURL    string
	shopURL   string
	googleURL string
}

// stack is the whole assistant assembled the way serve assembles it,
// behind an httptest server.
type stack struct {
	ts       *httptest.Server
	docStore *retrieval.DocumentStore
}

func newStack(t *testing.T, cfg stackConfig) *stack {
	t.Helper()
	db := testutil.NewTestDB(t)

	auditStore, err := audit.NewStore(db, testutil.TestSigningKey)
	require.NoError(t, err)
	challengeStore, err := stepup.NewStore(db)
	require.NoError(t, err)
	flow := stepup.NewFlow(challengeStore, nil, 5*time.Minute)
	engine, err := policy.NewEngine(context.Background(), policy.Default())
	require.NoError(t, err)
	vault, err := tokenvault.NewVault(db, testutil.TestVaultKey)
	require.NoError(t, err)
	authzStore, err := authz.NewStore(db)
	require.NoError(t, err)
	docStore, err := retrieval.NewDocumentStore(db)
	require.NoError(t, err)
	filter := retrieval.NewFilter(authzStore)

	tokens := gateway.NewVaultTokenSource(vault)
	registry := tools.NewRegistry()
	registry.Register(tools.NewGmailDraftTool(tokens, cfg.googleURL))
	registry.Register(tools.NewGmailSearchTool(tokens, cfg.googleURL))
	registry.Register(tools.NewCalendarEventsTool(tokens, cfg.googleURL))
	registry.Register(tools.NewShopOnlineTool(cfg.shopURL))
	registry.Register(tools.NewWebSearchTool(""))
	registry.Register(tools.NewUserInfoTool())
	registry.Register(tools.NewContextDocsTool(docStore, filter))

	gw := gateway.New(registry, engine, auditStore, flow)

	var provider llm.Provider
	if cfg.llmURL != "" {
		provider = llm.NewCompatibleProvider("test-key", cfg.llmURL)
	} else {
		provider = llm.NewCompatibleProvider("test-key", "http://127.0.0.1:0")
	}
	ag := agent.New(provider, gw, registry, "test-model")

	identities := identity.NewRegistry([]identity.Subject{
		{ID: "user-1", Email: "ada@example.com", Name: "Ada", APIKey: "key-ada", RateLimit: 100},
		{ID: "user-2", Email: "bob@example.com", Name: "Bob", APIKey: "key-bob", RateLimit: 100},
	})

	srv := server.NewServer(ag, gw, auditStore, challengeStore, vault, authzStore, identities)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &stack{ts: ts, docStore: docStore}
}

func (s *stack) do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Aegis-Key", key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func seedDocument(t *testing.T, s *stack, id, title, content string) {
	t.Helper()
	require.NoError(t, s.docStore.Put(context.Background(),
		&retrieval.Document{ID: id, Title: title, Content: content}))
}

// newScriptedLLM serves canned chat completions in order, then repeats
// the last one.
func newScriptedLLM(t *testing.T, completions ...string) *httptest.Server {
	t.Helper()
	var n int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		i := n
		if i >= len(completions) {
			i = len(completions) - 1
		}
		n++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completions[i])
	}))
}

func textCompletion(content string) string {
	return fmt.Sprintf(`{
		"id": "cmpl-1", "object": "chat.completion", "model": "test-model",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
	}`, content)
}

func toolCallCompletion(callID, tool, arguments string) string {
	args, _ := json.Marshal(arguments)
	return fmt.Sprintf(`{
		"id": "cmpl-1", "object": "chat.completion", "model": "test-model",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "", "tool_calls": [
			{"id": %q, "type": "function", "function": {"name": %q, "arguments": %s}}
		]}, "finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
	}`, callID, tool, string(args))
}
