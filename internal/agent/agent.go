// Package agent runs the conversational loop: model call, tool
// execution through the gateway, and the follow-up model call that
// phrases results for the user.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/aegis/internal/gateway"
	"github.com/dativo-io/aegis/internal/llm"
	aegisotel "github.com/dativo-io/aegis/internal/otel"
	"github.com/dativo-io/aegis/internal/tools"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/agent")

// maxIterations bounds the tool-call loop within one chat turn.
const maxIterations = 8

const systemPrompt = `You are a personal assistant. You have access to tools for email, calendar, shopping, web search, and the user's document knowledge base. Use them when they help answer the request.

Some actions require the user to approve them on their device before they run. When a tool reports that approval is pending, denied, or timed out, explain that to the user plainly and do not call the tool again yourself.`

// Agent drives one conversation turn at a time. Safe for concurrent use;
// all per-turn state lives on the stack.
type Agent struct {
	provider llm.Provider
	gw       *gateway.Gateway
	registry *tools.Registry
	model    string
}

// New creates the agent loop.
func New(provider llm.Provider, gw *gateway.Gateway, registry *tools.Registry, model string) *Agent {
	return &Agent{provider: provider, gw: gw, registry: registry, model: model}
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	// Reply is the assistant's final message for this turn.
	Reply string `json:"reply"`
	// PendingActions are gateway results awaiting the user: step-up
	// approvals and account links. The UI renders these as prompts.
	PendingActions []gateway.Result `json:"pendingActions,omitempty"`
}

// Run executes one chat turn: the user message against the prior
// history. Tool calls requested by the model are executed through the
// gateway; suspended invocations are surfaced, never retried in-loop.
func (a *Agent) Run(ctx context.Context, history []llm.Message, userMessage string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "agent.run",
		trace.WithAttributes(attribute.Int("history_len", len(history))))
	defer span.End()

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	toolDefs := a.toolDefinitions()
	result := &TurnResult{}

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := a.provider.Generate(ctx, &llm.Request{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			result.Reply = resp.Content
			span.SetAttributes(attribute.Int("agent.iterations", iteration+1))
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			messages = append(messages, a.runToolCall(ctx, tc, result))
		}
	}

	log.Warn().Int("max_iterations", maxIterations).Msg("agent_loop_exhausted")
	result.Reply = "I could not finish this request within the allowed number of steps."
	return result, nil
}

// runToolCall executes one model-requested call through the gateway and
// renders the outcome as the tool message fed back to the model.
func (a *Agent) runToolCall(ctx context.Context, tc llm.ToolCall, result *TurnResult) llm.Message {
	res, err := a.gw.Execute(ctx, gateway.Request{
		ToolName: tc.Name,
		Params:   tc.Arguments,
	})
	if err != nil {
		// Tool failures reach the model as content so it can explain
		// them; they were already audit-logged by the gateway.
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return llm.Message{Role: "tool", ToolCallID: tc.ID, Content: string(payload)}
	}

	switch res.Status {
	case gateway.StatusRequiresStepUp, gateway.StatusConnectionRequired:
		result.PendingActions = append(result.PendingActions, *res)
	}

	payload, err := json.Marshal(res)
	if err != nil {
		payload = []byte(`{"error": "failed to encode tool result"}`)
	}
	return llm.Message{Role: "tool", ToolCallID: tc.ID, Content: string(payload)}
}

func (a *Agent) toolDefinitions() []llm.Tool {
	registered := a.registry.List()
	defs := make([]llm.Tool, len(registered))
	for i, t := range registered {
		defs[i] = llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		}
	}
	return defs
}
