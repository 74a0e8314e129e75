package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, pol *Policy) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), pol)
	require.NoError(t, err)
	return e
}

func TestToolAccessDefaultAllowsEverything(t *testing.T) {
	e := newTestEngine(t, Default())

	d, err := e.EvaluateToolAccess(context.Background(), "shopOnlineTool", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reasons)
	assert.Equal(t, "builtin-v1", d.PolicyVersion)
}

func TestToolAccessAllowedList(t *testing.T) {
	pol := Default()
	pol.Tools.Allowed = []string{"webSearchTool", "getUserInfoTool"}
	e := newTestEngine(t, pol)
	ctx := context.Background()

	d, err := e.EvaluateToolAccess(ctx, "webSearchTool", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.EvaluateToolAccess(ctx, "shopOnlineTool", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "not in the allowed list")
}

func TestToolAccessDeniedWinsOverAllowed(t *testing.T) {
	pol := Default()
	pol.Tools.Allowed = []string{"shopOnlineTool"}
	pol.Tools.Denied = []string{"shopOnlineTool"}
	e := newTestEngine(t, pol)

	d, err := e.EvaluateToolAccess(context.Background(), "shopOnlineTool", nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reasons[0], "blocked by policy")
}

func TestRequiresStepUpDefaults(t *testing.T) {
	e := newTestEngine(t, Default())
	ctx := context.Background()

	tests := []struct {
		name    string
		level   string
		factors []string
		want    bool
	}{
		{"high always gated", "high", nil, true},
		{"medium alone not gated", "medium", []string{"sensitive_tool"}, false},
		{"medium with high-value gated", "medium", []string{"sensitive_tool", "high_value_transaction"}, true},
		{"low never gated", "low", []string{"high_value_transaction"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.RequiresStepUp(ctx, tt.level, tt.factors)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiresStepUpCustomGateLevels(t *testing.T) {
	pol := Default()
	pol.StepUp.GateLevels = []string{"high", "medium"}
	e := newTestEngine(t, pol)

	got, err := e.RequiresStepUp(context.Background(), "medium", nil)
	require.NoError(t, err)
	assert.True(t, got, "medium is gated when configured as a gate level")
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version_tag: prod-2026-08
tools:
  denied:
    - webSearchTool
`), 0o600))

	pol, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod-2026-08", pol.VersionTag)
	assert.Equal(t, []string{"webSearchTool"}, pol.Tools.Denied)
	// Partial files keep the gating defaults.
	assert.Equal(t, []string{"high"}, pol.StepUp.GateLevels)
	assert.Equal(t, "high_value_transaction", pol.StepUp.EscalateFactor)
}

func TestLoadPolicyFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
