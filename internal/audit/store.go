// Package audit provides the HMAC-signed, append-only trail of tool
// invocations.
//
// Every lifecycle transition of an invocation — start, success, failure,
// step-up control events — produces one Event row that is signed
// (HMAC-SHA256) and persisted in SQLite. Rows are never updated or deleted;
// corrections are new rows. The trail is the system of record for
// after-the-fact compliance review, so a failed write degrades
// observability, never the tool call it was recording.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/audit")

// Lifecycle actions recorded for an invocation.
const (
	ActionToolStart          = "tool_start"
	ActionToolSuccess        = "tool_success"
	ActionToolError          = "tool_error"
	ActionStepUpRequired     = "step_up_required"
	ActionConnectionRequired = "connection_required"
)

// Event statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ErrEventNotFound is returned when an event id does not exist in the trail.
var ErrEventNotFound = errors.New("audit event not found")

// Invocation identifies one attempt to run one tool. Immutable once created;
// retries create a new invocation with a new id.
type Invocation struct {
	ID           string    `json:"id"`
	ToolName     string    `json:"tool_name"`
	SubjectID    string    `json:"subject_id"`
	SubjectEmail string    `json:"subject_email"`
	ThreadID     string    `json:"thread_id,omitempty"`
	WorkspaceID  string    `json:"workspace_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// NewInvocation creates an invocation for a tool call attempt.
func NewInvocation(toolName, subjectID, subjectEmail, threadID, workspaceID string) Invocation {
	return Invocation{
		ID:           "inv_" + uuid.New().String()[:12],
		ToolName:     toolName,
		SubjectID:    subjectID,
		SubjectEmail: subjectEmail,
		ThreadID:     threadID,
		WorkspaceID:  workspaceID,
		StartedAt:    time.Now().UTC(),
	}
}

// Event is one row of the audit trail: a single lifecycle transition of a
// single invocation.
type Event struct {
	ID               string          `json:"id"`
	InvocationID     string          `json:"invocation_id"`
	ToolName         string          `json:"tool_name"`
	AgentRole        string          `json:"agent_role,omitempty"`
	Action           string          `json:"action"`
	Status           string          `json:"status"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	Outputs          json.RawMessage `json:"outputs,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	RiskLevel        string          `json:"risk_level,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	DurationMS       int64           `json:"duration_ms,omitempty"`
	SubjectID        string          `json:"subject_id"`
	SubjectEmail     string          `json:"subject_email"`
	WorkspaceID      string          `json:"workspace_id,omitempty"`
	ThreadID         string          `json:"thread_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Signature        string          `json:"signature,omitempty"`
}

// Store persists signed audit events in SQLite. The *sql.DB handle is
// created once at process start and shared across stores.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates the audit store schema on the given handle.
func NewStore(db *sql.DB, signingKey string) (*Store, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		invocation_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		event_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_invocation ON audit_events(invocation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Append signs and inserts one event. Append-only: there is no update path.
func (s *Store) Append(ctx context.Context, ev *Event) error {
	ctx, span := tracer.Start(ctx, "audit.append",
		trace.WithAttributes(
			attribute.String("audit.invocation_id", ev.InvocationID),
			attribute.String("audit.action", ev.Action),
			attribute.String("audit.status", ev.Status),
		))
	defer span.End()

	if ev.ID == "" {
		ev.ID = "evt_" + uuid.New().String()[:12]
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		recordWriteFailure(ctx, ev.Action)
		return fmt.Errorf("marshaling audit event: %w", err)
	}

	signature, err := s.signer.Sign(eventJSON)
	if err != nil {
		recordWriteFailure(ctx, ev.Action)
		return fmt.Errorf("signing audit event: %w", err)
	}

	ev.Signature = signature
	eventJSONWithSig, _ := json.Marshal(ev)

	query := `INSERT INTO audit_events (id, invocation_id, subject_id, workspace_id, created_at, event_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.InvocationID, ev.SubjectID, ev.WorkspaceID, ev.CreatedAt, string(eventJSONWithSig), signature,
	)
	if err != nil {
		recordWriteFailure(ctx, ev.Action)
		span.RecordError(err)
		return fmt.Errorf("appending audit event: %w", err)
	}

	return nil
}

// Get retrieves one event by id.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	ctx, span := tracer.Start(ctx, "audit.get",
		trace.WithAttributes(attribute.String("audit.event_id", id)))
	defer span.End()

	var eventJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_json FROM audit_events WHERE id = ?`, id,
	).Scan(&eventJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit event: %w", err)
	}

	var ev Event
	if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
		return nil, fmt.Errorf("unmarshaling audit event: %w", err)
	}
	return &ev, nil
}

// List returns events for a subject, newest first, optionally filtered by
// workspace. Ordering is by creation time, never by write order: writes from
// concurrent invocations interleave.
func (s *Store) List(ctx context.Context, subjectID, workspaceID string, limit int) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(
			attribute.String("audit.subject_id", subjectID),
			attribute.Int("audit.limit", limit),
		))
	defer span.End()

	query := `SELECT event_json FROM audit_events WHERE subject_id = ?`
	args := []interface{}{subjectID}

	if workspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			continue
		}
		results = append(results, ev)
	}
	return results, nil
}

// ListByInvocation returns all events for one invocation in creation order.
func (s *Store) ListByInvocation(ctx context.Context, invocationID string) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "audit.list_by_invocation",
		trace.WithAttributes(attribute.String("audit.invocation_id", invocationID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_json FROM audit_events WHERE invocation_id = ? ORDER BY created_at ASC`,
		invocationID)
	if err != nil {
		return nil, fmt.Errorf("querying invocation events: %w", err)
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			continue
		}
		results = append(results, ev)
	}
	return results, nil
}

// StatusCounts aggregates event counts by status for a subject, for the
// audit history display.
func (s *Store) StatusCounts(ctx context.Context, subjectID, workspaceID string) (map[string]int, error) {
	events, err := s.List(ctx, subjectID, workspaceID, 0)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for i := range events {
		counts[events[i].Status]++
	}
	return counts, nil
}

// Verify checks the HMAC signature integrity of an audit event.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "audit.verify",
		trace.WithAttributes(attribute.String("audit.event_id", id)))
	defer span.End()

	ev, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := ev.Signature
	ev.Signature = ""

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}

	return s.signer.Verify(eventJSON, signature), nil
}
