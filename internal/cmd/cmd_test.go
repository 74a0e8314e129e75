package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/identity"
	"github.com/dativo-io/aegis/internal/stepup"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	expected := []string{
		"version",
		"init",
		"serve",
		"audit",
		"challenges",
		"doctor",
	}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "subcommand %q should be registered", name)
	}
}

func TestRootCommand_HelpOutput(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "conversational personal")
	assert.Contains(t, output, "version")
	assert.Contains(t, output, "serve")
	assert.Contains(t, output, "challenges")
}

func TestVersionVars_HaveDefaults(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "none", Commit)
	assert.Equal(t, "unknown", BuildDate)
}

func TestParseSubjects(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want []identity.Subject
	}{
		{
			name: "empty",
			env:  "",
			want: nil,
		},
		{
			name: "key only",
			env:  "secret-key",
			want: []identity.Subject{
				{APIKey: "secret-key", ID: "secret-key", RateLimit: defaultSubjectRateLimit},
			},
		},
		{
			name: "key with subject and email",
			env:  "k1:user-1:ada@example.com, k2:user-2",
			want: []identity.Subject{
				{APIKey: "k1", ID: "user-1", Email: "ada@example.com", RateLimit: defaultSubjectRateLimit},
				{APIKey: "k2", ID: "user-2", RateLimit: defaultSubjectRateLimit},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSubjects(tt.env))
		})
	}
}

func TestRenderAuditList(t *testing.T) {
	events := []audit.Event{
		{
			ID:        "evt_1",
			Action:    audit.ActionToolStart,
			Status:    audit.StatusPending,
			SubjectID: "user-1",
			ToolName:  "shopOnlineTool",
			RiskLevel: "medium",
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),

			RequiresApproval: true,
		},
		{
			ID:           "evt_2",
			Action:       audit.ActionToolError,
			Status:       audit.StatusFailure,
			SubjectID:    "user-1",
			ToolName:     "gmailDraftTool",
			RiskLevel:    "high",
			ErrorMessage: "upstream unavailable",
			CreatedAt:    time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
		},
	}

	buf := new(bytes.Buffer)
	renderAuditList(buf, events)
	out := buf.String()

	assert.Contains(t, out, "evt_1")
	assert.Contains(t, out, "[STEP-UP]")
	assert.Contains(t, out, "shopOnlineTool")
	assert.Contains(t, out, "✗ evt_2")
	assert.Contains(t, out, "risk=high")
}

func TestRenderVerifyResult(t *testing.T) {
	buf := new(bytes.Buffer)
	renderVerifyResult(buf, "evt_1", true)
	assert.Contains(t, buf.String(), "VALID")

	buf.Reset()
	renderVerifyResult(buf, "evt_1", false)
	assert.Contains(t, buf.String(), "INVALID")
}

func TestRenderChallengeList(t *testing.T) {
	pending := []*stepup.Challenge{
		{
			ID:             "chal_abc",
			Kind:           stepup.KindStepUp,
			SubjectID:      "user-1",
			ToolName:       "shopOnlineTool",
			BindingMessage: "Do you want to buy 2 standing desks",
			ExpiresAt:      time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		},
	}

	buf := new(bytes.Buffer)
	renderChallengeList(buf, pending)
	out := buf.String()

	assert.Contains(t, out, "chal_abc")
	assert.Contains(t, out, "step_up")
	assert.Contains(t, out, "Do you want to buy 2 standing desks")
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	for _, name := range []string{"config", "verbose", "log-level", "log-format", "otel"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag %q should exist", name)
	}
}
