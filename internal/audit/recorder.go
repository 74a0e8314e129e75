package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Recorder binds one invocation to the trail and stamps every event with the
// invocation's identity, risk level, and elapsed duration. One Recorder per
// invocation; it holds no state beyond that binding.
type Recorder struct {
	store            *Store
	inv              Invocation
	agentRole        string
	riskLevel        string
	requiresApproval bool
	started          time.Time
}

// Begin creates a recorder for an invocation. Nothing is written until
// Start is called.
func (s *Store) Begin(inv Invocation, agentRole, riskLevel string, requiresApproval bool) *Recorder {
	return &Recorder{
		store:            s,
		inv:              inv,
		agentRole:        agentRole,
		riskLevel:        riskLevel,
		requiresApproval: requiresApproval,
		started:          time.Now(),
	}
}

func (r *Recorder) event(action, status string) *Event {
	return &Event{
		InvocationID:     r.inv.ID,
		ToolName:         r.inv.ToolName,
		AgentRole:        r.agentRole,
		Action:           action,
		Status:           status,
		RiskLevel:        r.riskLevel,
		RequiresApproval: r.requiresApproval,
		SubjectID:        r.inv.SubjectID,
		SubjectEmail:     r.inv.SubjectEmail,
		WorkspaceID:      r.inv.WorkspaceID,
		ThreadID:         r.inv.ThreadID,
	}
}

// Start records the tool_start event with an inputs snapshot. It must be
// called (or at least attempted) strictly before the underlying tool runs.
func (r *Recorder) Start(ctx context.Context, inputs json.RawMessage) error {
	ev := r.event(ActionToolStart, StatusPending)
	ev.Inputs = inputs
	return r.store.Append(ctx, ev)
}

// Success records the terminal tool_success event with an outputs snapshot
// and the elapsed duration.
func (r *Recorder) Success(ctx context.Context, outputs json.RawMessage) error {
	ev := r.event(ActionToolSuccess, StatusSuccess)
	ev.Outputs = outputs
	ev.DurationMS = time.Since(r.started).Milliseconds()
	return r.store.Append(ctx, ev)
}

// Failure records the terminal tool_error event with the error message and
// the elapsed duration.
func (r *Recorder) Failure(ctx context.Context, errMsg string) error {
	ev := r.event(ActionToolError, StatusFailure)
	ev.ErrorMessage = errMsg
	ev.DurationMS = time.Since(r.started).Milliseconds()
	return r.store.Append(ctx, ev)
}

// Control records a non-terminal control event (e.g. step_up_required).
// When present it precedes the terminal event; the underlying tool never
// executes before it is recorded.
func (r *Recorder) Control(ctx context.Context, action, status string, metadata json.RawMessage) error {
	ev := r.event(action, status)
	ev.Inputs = metadata
	return r.store.Append(ctx, ev)
}
