// Package stepup implements out-of-band authorization challenges.
//
// A challenge suspends a risky tool invocation until the caller confirms
// it on a registered device or completes a third-party account link. The
// challenge is the durable half of a two-phase protocol: phase one issues
// it and returns control immediately, phase two is a separate inbound
// request (approval endpoint or re-submission) that resolves it. Nothing
// here holds an in-memory continuation — the approving party may act from
// a different device or after a process restart.
package stepup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrChallengeNotFound   = errors.New("authorization challenge not found")
	ErrChallengeNotPending = errors.New("challenge is not in pending status")

	// ErrAccessDenied is the terminal outcome of an explicit user refusal.
	// Distinguished from ErrChallengeTimeout so operators can tell
	// refusal from inaction.
	ErrAccessDenied     = errors.New("access denied: the user rejected the authorization request")
	ErrChallengeTimeout = errors.New("authorization request timed out before the user responded")
)

// Status is the lifecycle state of a challenge. A challenge transitions
// exactly once from pending to one of the terminal states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status is one a challenge can never leave.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// Kind selects the gating mode the challenge serves.
type Kind string

const (
	// KindStepUp is per-action confirmation of a specific risky call.
	KindStepUp Kind = "step_up"
	// KindConnection is the account-link flow that acquires a durable
	// delegated credential (mail, calendar) rather than a one-shot
	// approval.
	KindConnection Kind = "connection"
)

// Challenge is an out-of-band authorization request bound to one
// invocation of one tool by one subject.
type Challenge struct {
	ID             string     `json:"id"`
	SubjectID      string     `json:"subject_id"`
	Kind           Kind       `json:"kind"`
	ToolName       string     `json:"tool_name,omitempty"`
	InvocationID   string     `json:"invocation_id,omitempty"`
	BindingMessage string     `json:"binding_message"`
	Scopes         []string   `json:"scopes,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

// NewChallenge creates a pending challenge with a fresh id and the given
// lifetime.
func NewChallenge(subjectID string, kind Kind, bindingMessage string, ttl time.Duration) *Challenge {
	now := time.Now().UTC()
	return &Challenge{
		ID:             "chal_" + uuid.New().String()[:12],
		SubjectID:      subjectID,
		Kind:           kind,
		BindingMessage: bindingMessage,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// PurchaseBindingMessage renders the human-readable description shown on
// the approving device for a purchase. The message names exactly what is
// being approved.
func PurchaseBindingMessage(quantity int, product string) string {
	return fmt.Sprintf("Do you want to buy %d %s", quantity, strings.TrimSpace(product))
}
