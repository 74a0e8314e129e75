package stepup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is how often Await re-reads a pending challenge.
const DefaultPollInterval = 2 * time.Second

// Notifier pushes a freshly created challenge to the subject's
// registered device or channel. Implementations must not block on user
// action — delivery only.
type Notifier interface {
	Notify(ctx context.Context, ch *Challenge) error
}

// LogNotifier logs the challenge instead of delivering it. Used when no
// push channel is configured; the caller approves through the API or CLI.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ch *Challenge) error {
	log.Info().
		Str("challenge_id", ch.ID).
		Str("subject_id", ch.SubjectID).
		Str("binding_message", ch.BindingMessage).
		Msg("challenge_issued")
	return nil
}

// Flow creates and resolves authorization challenges.
type Flow struct {
	store        *Store
	notifier     Notifier
	ttl          time.Duration
	pollInterval time.Duration
}

// NewFlow creates the step-up flow. A nil notifier falls back to
// LogNotifier.
func NewFlow(store *Store, notifier Notifier, ttl time.Duration) *Flow {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Flow{
		store:        store,
		notifier:     notifier,
		ttl:          ttl,
		pollInterval: DefaultPollInterval,
	}
}

// RequestStepUp issues a per-action confirmation challenge bound to one
// tool invocation and pushes it to the subject's device.
func (f *Flow) RequestStepUp(ctx context.Context, subjectID, toolName, invocationID, bindingMessage string, scopes []string) (*Challenge, error) {
	ch := NewChallenge(subjectID, KindStepUp, bindingMessage, f.ttl)
	ch.ToolName = toolName
	ch.InvocationID = invocationID
	ch.Scopes = scopes
	return f.issue(ctx, ch)
}

// RequestConnection issues an account-link challenge for acquiring a
// durable delegated credential to the named provider.
func (f *Flow) RequestConnection(ctx context.Context, subjectID, connection string, scopes []string) (*Challenge, error) {
	ch := NewChallenge(subjectID, KindConnection,
		fmt.Sprintf("Connect your %s account to continue", connection), f.ttl)
	ch.ToolName = connection
	ch.Scopes = scopes
	return f.issue(ctx, ch)
}

func (f *Flow) issue(ctx context.Context, ch *Challenge) (*Challenge, error) {
	if err := f.store.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := f.notifier.Notify(ctx, ch); err != nil {
		// Delivery failure is not fatal: the challenge is durable and
		// can still be approved through the API.
		log.Warn().Err(err).Str("challenge_id", ch.ID).Msg("challenge_notify_failed")
	}
	return ch, nil
}

// Await blocks until the challenge reaches a terminal state or its
// lifetime ends. Approved yields nil; denial and expiry map to their
// distinguished errors. Intended for in-process waits; the cross-process
// resume path uses Verify instead.
func (f *Flow) Await(ctx context.Context, challengeID string) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		ch, err := f.store.Get(ctx, challengeID)
		if err != nil {
			return err
		}
		if outcome := outcomeError(ch); outcome != errStillPending {
			return outcome
		}
		if !time.Now().UTC().Before(ch.ExpiresAt) {
			return ErrChallengeTimeout
		}

		select {
		case <-ctx.Done():
			return ErrChallengeTimeout
		case <-ticker.C:
		}
	}
}

// Verify checks that an approved challenge authorizes re-submission of
// the given tool call by the given subject. This is the phase-two entry
// point: the caller resumes by sending the challenge id with the same
// tool call, and Verify decides whether gating is satisfied.
func (f *Flow) Verify(ctx context.Context, challengeID, subjectID, toolName string) error {
	ch, err := f.store.Get(ctx, challengeID)
	if err != nil {
		return err
	}
	if ch.SubjectID != subjectID || (ch.ToolName != "" && ch.ToolName != toolName) {
		// A challenge approves exactly the action it was bound to.
		return ErrChallengeNotFound
	}
	if ch.Status == StatusDenied {
		return ErrAccessDenied
	}
	// An approval is only good until the challenge's own deadline: a
	// resume after expires_at gets the timeout outcome even if the row
	// still reads approved.
	if ch.Status == StatusExpired || !time.Now().UTC().Before(ch.ExpiresAt) {
		return ErrChallengeTimeout
	}
	if ch.Status == StatusApproved {
		return nil
	}
	return ErrChallengeNotPending
}

// errStillPending is an internal sentinel for "no terminal outcome yet".
var errStillPending = fmt.Errorf("challenge pending")

func outcomeError(ch *Challenge) error {
	switch ch.Status {
	case StatusApproved:
		return nil
	case StatusDenied:
		return ErrAccessDenied
	case StatusExpired:
		return ErrChallengeTimeout
	default:
		return errStillPending
	}
}
