// Package policy evaluates declarative gating rules with embedded OPA.
//
// Two concerns are declarative rather than coded into the gateway: which
// tools a deployment exposes at all, and which risk outcomes force an
// out-of-band confirmation. Operators adjust thresholds in the policy
// file; control flow stays in the gateway.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/policy")

// Policy is the declarative gate configuration, loaded from YAML and
// handed to OPA as data.
type Policy struct {
	VersionTag string       `json:"version_tag" yaml:"version_tag"`
	Tools      ToolPolicy   `json:"tools" yaml:"tools"`
	StepUp     StepUpPolicy `json:"step_up" yaml:"step_up"`
}

// ToolPolicy restricts which tools may be invoked at all. An empty
// allowed list means every registered tool is allowed; denied always
// wins.
type ToolPolicy struct {
	Allowed []string `json:"allowed" yaml:"allowed"`
	Denied  []string `json:"denied" yaml:"denied"`
}

// StepUpPolicy selects which risk outcomes are gated behind out-of-band
// confirmation.
type StepUpPolicy struct {
	// GateLevels are risk levels that always require confirmation.
	GateLevels []string `json:"gate_levels" yaml:"gate_levels"`
	// EscalateFactor gates medium-risk calls whose factor set contains
	// this tag.
	EscalateFactor string `json:"escalate_factor" yaml:"escalate_factor"`
}

// Default returns the built-in policy: all tools allowed, high risk
// always gated, medium risk gated on high-value transactions.
func Default() *Policy {
	return &Policy{
		VersionTag: "builtin-v1",
		StepUp: StepUpPolicy{
			GateLevels:     []string{"high"},
			EscalateFactor: "high_value_transaction",
		},
	}
}

// Load reads a policy file. Missing step-up settings fall back to the
// defaults so a partial file cannot accidentally disable gating.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	pol := Default()
	pol.VersionTag = ""
	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if pol.VersionTag == "" {
		pol.VersionTag = "unversioned"
	}
	if len(pol.StepUp.GateLevels) == 0 {
		pol.StepUp.GateLevels = Default().StepUp.GateLevels
	}
	if pol.StepUp.EscalateFactor == "" {
		pol.StepUp.EscalateFactor = Default().StepUp.EscalateFactor
	}
	return pol, nil
}
