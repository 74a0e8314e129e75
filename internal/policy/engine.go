package policy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

// Decision represents the result of policy evaluation.
type Decision struct {
	Allowed       bool     `json:"allowed"`
	Reasons       []string `json:"reasons,omitempty"`
	PolicyVersion string   `json:"policy_version"`
}

// regoPolicy maps a Rego file to the OPA query used to extract its result.
type regoPolicy struct {
	file  string
	query string
}

var allPolicies = []regoPolicy{
	{file: "rego/tool_access.rego", query: "data.aegis.policy.tool_access.deny"},
	{file: "rego/step_up.rego", query: "data.aegis.policy.step_up.require"},
}

// Engine evaluates gate policies using embedded OPA.
type Engine struct {
	policy   *Policy
	prepared map[string]rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with precompiled Rego policies. The
// Policy is serialized to JSON and loaded as OPA data.
func NewEngine(ctx context.Context, pol *Policy) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	policyData, err := policyToData(pol)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("converting policy to OPA data: %w", err)
	}

	prepared := make(map[string]rego.PreparedEvalQuery, len(allPolicies))
	for _, rp := range allPolicies {
		content, err := embeddedPolicies.ReadFile(rp.file)
		if err != nil {
			return nil, fmt.Errorf("reading embedded policy %s: %w", rp.file, err)
		}

		store := inmem.NewFromObject(map[string]interface{}{
			"policy": policyData,
		})

		r := rego.New(
			rego.Query(rp.query),
			rego.Module(rp.file, string(content)),
			rego.Store(store),
		)

		pq, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing Rego policy %s: %w", rp.file, err)
		}
		prepared[rp.file] = pq
	}

	span.SetAttributes(attribute.Int("policy.prepared_count", len(prepared)))

	return &Engine{policy: pol, prepared: prepared}, nil
}

// Version returns the loaded policy's version tag.
func (e *Engine) Version() string {
	return e.policy.VersionTag
}

// EvaluateToolAccess checks whether the given tool call is allowed at all.
func (e *Engine) EvaluateToolAccess(ctx context.Context, toolName string, params map[string]interface{}) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_tool_access",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
		))
	defer span.End()

	input := map[string]interface{}{
		"tool_name": toolName,
		"params":    params,
	}

	reasons, err := e.evaluateDenyPolicy(ctx, "rego/tool_access.rego", input)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	decision := &Decision{
		Allowed:       len(reasons) == 0,
		Reasons:       reasons,
		PolicyVersion: e.policy.VersionTag,
	}

	span.SetAttributes(
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.Int("policy.deny_reasons", len(decision.Reasons)),
	)
	if decision.Allowed {
		span.SetStatus(codes.Ok, "policy evaluation passed")
	}

	return decision, nil
}

// RequiresStepUp decides whether a risk outcome must be confirmed
// out-of-band before execution.
func (e *Engine) RequiresStepUp(ctx context.Context, riskLevel string, factors []string) (bool, error) {
	ctx, span := tracer.Start(ctx, "policy.requires_step_up",
		trace.WithAttributes(
			attribute.String("risk.level", riskLevel),
		))
	defer span.End()

	pq, ok := e.prepared["rego/step_up.rego"]
	if !ok {
		return false, fmt.Errorf("step-up policy not prepared")
	}

	input := map[string]interface{}{
		"risk_level": riskLevel,
		"factors":    stringSliceToInterface(factors),
	}

	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("evaluating step-up policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	required, _ := results[0].Expressions[0].Value.(bool)
	span.SetAttributes(attribute.Bool("policy.step_up_required", required))
	return required, nil
}

// evaluateDenyPolicy runs a prepared Rego policy that produces a set of
// deny reason strings.
func (e *Engine) evaluateDenyPolicy(ctx context.Context, pkg string, input map[string]interface{}) ([]string, error) {
	pq, ok := e.prepared[pkg]
	if !ok {
		return nil, fmt.Errorf("policy package %s not prepared", pkg)
	}

	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", pkg, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	// The result of querying "data.xxx.deny" is a set of strings. OPA
	// returns it as []interface{} or, occasionally, map[string]interface{}.
	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				reasons = append(reasons, msgStr)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				reasons = append(reasons, msgStr)
			}
		}
	}
	return reasons, nil
}

func stringSliceToInterface(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// policyToData converts a Policy struct to map[string]interface{} for
// OPA. Marshal to JSON then unmarshal to get clean map types.
func policyToData(pol *Policy) (map[string]interface{}, error) {
	// Nil slices marshal to JSON null, which count() in Rego rejects.
	if pol.Tools.Allowed == nil {
		pol.Tools.Allowed = []string{}
	}
	if pol.Tools.Denied == nil {
		pol.Tools.Denied = []string{}
	}
	if pol.StepUp.GateLevels == nil {
		pol.StepUp.GateLevels = []string{}
	}

	jsonBytes, err := json.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("marshalling policy: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return nil, fmt.Errorf("unmarshalling policy data: %w", err)
	}
	return data, nil
}
