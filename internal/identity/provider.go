// Package identity resolves verified caller identities and enforces
// per-subject request limits.
//
// The platform treats the identity provider as external: something
// upstream has already authenticated the user and handed us a credential.
// This package maps that credential to a Subject and rate-limits the
// subject's requests. Production deployments plug in their IdP through
// the Provider interface; the bundled registry serves local and
// single-tenant setups.
package identity

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Subject is a verified caller identity.
type Subject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	// APIKey is the credential the subject presents. Only the registry
	// provider uses it; external providers verify their own tokens.
	APIKey string `json:"-"`
	// RateLimit is requests per second; 0 means no limit.
	RateLimit int `json:"-"`
}

// Provider verifies a presented credential and returns the subject it
// belongs to.
type Provider interface {
	Verify(ctx context.Context, credential string) (*Subject, error)
}

// Registry is an in-memory credential-to-subject map with per-subject
// rate limiting. Subjects come from configuration at startup.
type Registry struct {
	byKey    map[string]*Subject
	byID     map[string]*Subject
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRegistry creates a registry from the configured subjects.
func NewRegistry(subjects []Subject) *Registry {
	r := &Registry{
		byKey:    make(map[string]*Subject),
		byID:     make(map[string]*Subject),
		limiters: make(map[string]*rate.Limiter),
	}
	for i := range subjects {
		s := &subjects[i]
		if s.APIKey != "" {
			r.byKey[s.APIKey] = s
		}
		r.byID[s.ID] = s
		if s.RateLimit > 0 {
			r.limiters[s.ID] = rate.NewLimiter(rate.Limit(s.RateLimit), s.RateLimit*2) // burst = 2s worth
		}
	}
	return r
}

// Verify maps a credential to its subject and consumes one rate-limit
// token. Unknown credentials and exhausted limits are typed errors so
// the transport layer can map them to 401 and 429.
func (r *Registry) Verify(_ context.Context, credential string) (*Subject, error) {
	r.mu.RLock()
	s, ok := r.byKey[credential]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSubjectNotFound
	}

	r.mu.RLock()
	lim := r.limiters[s.ID]
	r.mu.RUnlock()
	if lim != nil && !lim.Allow() {
		return nil, ErrRateLimitExceeded
	}
	return s, nil
}

// Lookup returns a subject by id without consuming a rate-limit token.
// Used by the challenge approval path, where the approver is identified
// by id rather than by credential.
func (r *Registry) Lookup(subjectID string) (*Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[subjectID]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	return s, nil
}
