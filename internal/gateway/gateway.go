// Package gateway wraps every tool execution with risk assessment,
// audit recording, and step-up gating.
//
// An invocation moves through a fixed sequence: received, assessed,
// gate check, then either executing or suspended. Suspension is never an
// in-process wait: the gateway records a pending challenge, returns a
// structured requires_step_up result, and the conversational layer
// re-submits the same tool call with the challenge id once the user has
// approved it. Each re-submission is a fresh invocation with its own
// audit lifecycle.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/aegis/internal/audit"
	aegisotel "github.com/dativo-io/aegis/internal/otel"
	"github.com/dativo-io/aegis/internal/policy"
	"github.com/dativo-io/aegis/internal/requestctx"
	"github.com/dativo-io/aegis/internal/risk"
	"github.com/dativo-io/aegis/internal/stepup"
	"github.com/dativo-io/aegis/internal/tools"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/gateway")

// ErrToolNotFound is returned when the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// Result statuses returned to the conversational layer. Everything that
// is not a tool failure comes back as a descriptive result, never an
// error: the agent loop must be able to phrase denials and pending
// approvals to the user without retrying.
const (
	StatusSuccess            = "success"
	StatusRequiresStepUp     = "requires_step_up"
	StatusConnectionRequired = "connection_required"
	StatusDenied             = "denied"
	StatusTimedOut           = "timed_out"
	StatusRejected           = "rejected"
)

// Result is the outcome of one gateway invocation.
type Result struct {
	Status       string          `json:"status"`
	Message      string          `json:"message,omitempty"`
	RiskLevel    risk.Level      `json:"riskLevel,omitempty"`
	ChallengeID  string          `json:"challengeId,omitempty"`
	Connection   string          `json:"connection,omitempty"`
	InvocationID string          `json:"invocationId"`
	Output       json.RawMessage `json:"output,omitempty"`
}

// Request is one tool call submitted to the gateway. ChallengeID is set
// only on the resume path, carrying the approval obtained out-of-band.
type Request struct {
	ToolName    string          `json:"toolName"`
	Params      json.RawMessage `json:"params"`
	ChallengeID string          `json:"challengeId,omitempty"`
}

// Gateway intercepts tool calls between the agent loop and the tools.
type Gateway struct {
	registry  *tools.Registry
	engine    *policy.Engine
	audit     *audit.Store
	flow      *stepup.Flow
	agentRole string
}

// New creates the invocation gateway.
func New(registry *tools.Registry, engine *policy.Engine, auditStore *audit.Store, flow *stepup.Flow) *Gateway {
	return &Gateway{
		registry:  registry,
		engine:    engine,
		audit:     auditStore,
		flow:      flow,
		agentRole: "assistant",
	}
}

// Execute runs one tool call through the full pipeline. Tool failures
// propagate as errors, unchanged; every other outcome is a Result.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "gateway.execute",
		trace.WithAttributes(
			attribute.String("tool.name", req.ToolName),
		))
	defer span.End()

	tool, ok := g.registry.Get(req.ToolName)
	if !ok {
		span.SetStatus(codes.Error, "tool not found")
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.ToolName)
	}

	inv := audit.NewInvocation(req.ToolName,
		requestctx.SubjectID(ctx), requestctx.SubjectEmail(ctx),
		requestctx.ThreadID(ctx), requestctx.WorkspaceID(ctx))

	// Assessment is recomputed fresh for every invocation, including
	// resumes: an approval must cover exactly what will execute now.
	assessment := risk.Assess(req.ToolName, req.Params, risk.Caller{
		SubjectID: inv.SubjectID,
		Email:     inv.SubjectEmail,
	})

	span.SetAttributes(
		attribute.String("invocation.id", inv.ID),
		attribute.String("risk.level", string(assessment.Level)),
		attribute.Bool("risk.requires_step_up", assessment.RequiresStepUp),
	)

	rec := g.audit.Begin(inv, g.agentRole, string(assessment.Level), assessment.RequiresStepUp)
	if err := rec.Start(ctx, req.Params); err != nil {
		// Audit failures degrade observability, never correctness.
		log.Error().Err(err).Str("invocation_id", inv.ID).Msg("audit_start_failed")
	}

	if decision, err := g.engine.EvaluateToolAccess(ctx, req.ToolName, paramsAsMap(req.Params)); err != nil {
		g.recordFailure(ctx, rec, inv.ID, err)
		return nil, fmt.Errorf("evaluating tool access policy: %w", err)
	} else if !decision.Allowed {
		reason := strings.Join(decision.Reasons, "; ")
		g.recordFailure(ctx, rec, inv.ID, errors.New(reason))
		return &Result{
			Status:       StatusRejected,
			Message:      reason,
			RiskLevel:    assessment.Level,
			InvocationID: inv.ID,
		}, nil
	}

	if err := tools.ValidateParams(tool, req.Params); err != nil {
		g.recordFailure(ctx, rec, inv.ID, err)
		return nil, err
	}

	gated, err := g.engine.RequiresStepUp(ctx, string(assessment.Level), assessment.Factors)
	if err != nil {
		// Policy failure fails closed: fall back to the assessor's own
		// verdict rather than skipping the gate.
		log.Warn().Err(err).Msg("step_up_policy_failed")
		gated = assessment.RequiresStepUp
	}

	if gated {
		if req.ChallengeID == "" {
			return g.suspend(ctx, rec, inv, req, assessment)
		}
		if result, err := g.checkResume(ctx, rec, inv, req, assessment); result != nil || err != nil {
			return result, err
		}
	}

	outputs, err := tool.Execute(ctx, req.Params)
	if err != nil {
		var cre *tools.ConnectionRequiredError
		if errors.As(err, &cre) {
			return g.suspendForConnection(ctx, rec, inv, assessment, cre)
		}
		g.recordFailure(ctx, rec, inv.ID, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := rec.Success(ctx, outputs); err != nil {
		log.Error().Err(err).Str("invocation_id", inv.ID).Msg("audit_success_failed")
	}

	log.Info().
		Str("invocation_id", inv.ID).
		Str("tool", req.ToolName).
		Str("risk_level", string(assessment.Level)).
		Msg("tool_executed")

	return &Result{
		Status:       StatusSuccess,
		RiskLevel:    assessment.Level,
		InvocationID: inv.ID,
		Output:       outputs,
	}, nil
}

// suspend records the pending gate and returns the structured
// requires_step_up result. The tool does not run.
func (g *Gateway) suspend(ctx context.Context, rec *audit.Recorder, inv audit.Invocation, req Request, assessment risk.Assessment) (*Result, error) {
	ch, err := g.flow.RequestStepUp(ctx, inv.SubjectID, req.ToolName, inv.ID,
		bindingMessage(req), stepUpScopes(req.ToolName))
	if err != nil {
		g.recordFailure(ctx, rec, inv.ID, err)
		return nil, fmt.Errorf("creating step-up challenge: %w", err)
	}

	metadata, _ := json.Marshal(map[string]string{
		"challenge_id":    ch.ID,
		"binding_message": ch.BindingMessage,
	})
	if err := rec.Control(ctx, audit.ActionStepUpRequired, audit.StatusPending, metadata); err != nil {
		log.Error().Err(err).Str("invocation_id", inv.ID).Msg("audit_control_failed")
	}

	log.Info().
		Str("invocation_id", inv.ID).
		Str("challenge_id", ch.ID).
		Str("tool", req.ToolName).
		Msg("invocation_suspended")

	return &Result{
		Status:       StatusRequiresStepUp,
		Message:      risk.Message(assessment),
		RiskLevel:    assessment.Level,
		ChallengeID:  ch.ID,
		InvocationID: inv.ID,
	}, nil
}

// checkResume validates the carried challenge. A nil, nil return means
// gating is satisfied and execution may proceed.
func (g *Gateway) checkResume(ctx context.Context, rec *audit.Recorder, inv audit.Invocation, req Request, assessment risk.Assessment) (*Result, error) {
	err := g.flow.Verify(ctx, req.ChallengeID, inv.SubjectID, req.ToolName)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, stepup.ErrAccessDenied):
		g.recordFailure(ctx, rec, inv.ID, err)
		return &Result{
			Status:       StatusDenied,
			Message:      err.Error(),
			RiskLevel:    assessment.Level,
			InvocationID: inv.ID,
		}, nil
	case errors.Is(err, stepup.ErrChallengeTimeout):
		g.recordFailure(ctx, rec, inv.ID, err)
		return &Result{
			Status:       StatusTimedOut,
			Message:      err.Error(),
			RiskLevel:    assessment.Level,
			InvocationID: inv.ID,
		}, nil
	case errors.Is(err, stepup.ErrChallengeNotPending):
		// Still awaiting the user; same challenge, no new one issued.
		return &Result{
			Status:       StatusRequiresStepUp,
			Message:      risk.Message(assessment),
			RiskLevel:    assessment.Level,
			ChallengeID:  req.ChallengeID,
			InvocationID: inv.ID,
		}, nil
	default:
		g.recordFailure(ctx, rec, inv.ID, err)
		return nil, err
	}
}

// suspendForConnection handles a tool reporting a missing delegated
// credential: issue an account-link challenge and hand control back.
func (g *Gateway) suspendForConnection(ctx context.Context, rec *audit.Recorder, inv audit.Invocation, assessment risk.Assessment, cre *tools.ConnectionRequiredError) (*Result, error) {
	ch, err := g.flow.RequestConnection(ctx, inv.SubjectID, cre.Connection, cre.Scopes)
	if err != nil {
		g.recordFailure(ctx, rec, inv.ID, err)
		return nil, fmt.Errorf("creating connection challenge: %w", err)
	}

	metadata, _ := json.Marshal(map[string]string{
		"challenge_id": ch.ID,
		"connection":   cre.Connection,
	})
	if err := rec.Control(ctx, audit.ActionConnectionRequired, audit.StatusPending, metadata); err != nil {
		log.Error().Err(err).Str("invocation_id", inv.ID).Msg("audit_control_failed")
	}

	return &Result{
		Status:       StatusConnectionRequired,
		Message:      fmt.Sprintf("Link your %s account to use this tool", cre.Connection),
		RiskLevel:    assessment.Level,
		ChallengeID:  ch.ID,
		Connection:   cre.Connection,
		InvocationID: inv.ID,
	}, nil
}

func (g *Gateway) recordFailure(ctx context.Context, rec *audit.Recorder, invocationID string, cause error) {
	if err := rec.Failure(ctx, cause.Error()); err != nil {
		log.Error().Err(err).Str("invocation_id", invocationID).Msg("audit_failure_failed")
	}
}

// bindingMessage renders the human-readable description the approving
// device shows. Purchases name the exact quantity and product; other
// tools fall back to naming the action.
func bindingMessage(req Request) string {
	if req.ToolName == "shopOnlineTool" {
		var p tools.ShopParams
		if err := json.Unmarshal(req.Params, &p); err == nil && p.Product != "" && p.Quantity > 0 {
			return stepup.PurchaseBindingMessage(p.Quantity, p.Product)
		}
	}
	return fmt.Sprintf("Approve the assistant running %s on your behalf", req.ToolName)
}

// stepUpScopes are the scopes requested on the confirmation challenge.
func stepUpScopes(toolName string) []string {
	if toolName == "shopOnlineTool" {
		return []string{"openid", "product:buy"}
	}
	return []string{"openid"}
}

func paramsAsMap(params json.RawMessage) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(params, &m); err != nil {
		return nil
	}
	return m
}
