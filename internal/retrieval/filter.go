// Package retrieval filters knowledge-base search results down to what the
// caller is authorized to see.
//
// Candidates come from an external vector-similarity search; this package
// only decides visibility. Every candidate is checked independently against
// the relationship oracle and the result is a stable subsequence of the
// input — ranking is the search engine's job, not ours.
package retrieval

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dativo-io/aegis/internal/authz"
	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/retrieval")

// maxConcurrentChecks bounds the permission-check fan-out per query.
const maxConcurrentChecks = 8

// Candidate is one knowledge-base hit produced by the external similarity
// search. Similarity is in [0,1]. Never persisted here.
type Candidate struct {
	Content    string  `json:"content"`
	DocumentID string  `json:"documentId"`
	Similarity float64 `json:"similarity"`
}

// Source produces ranked candidates for a query. Implemented by the
// external vector search; tests use a fixture.
type Source interface {
	FindRelevant(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// Filter removes candidates the subject may not view.
type Filter struct {
	checker authz.Checker
}

// NewFilter creates a permission filter backed by the given oracle.
func NewFilter(checker authz.Checker) *Filter {
	return &Filter{checker: checker}
}

// Filter returns the order-preserving subsequence of candidates whose
// documents the subject can_view. A caller with no session is never
// authorized for anything: the empty subject short-circuits to an empty
// result without issuing any checks. An individual check failure means
// "not authorized" for that candidate, never authorized (fail-closed).
func (f *Filter) Filter(ctx context.Context, candidates []Candidate, subject string) ([]Candidate, error) {
	ctx, span := tracer.Start(ctx, "retrieval.filter",
		trace.WithAttributes(attribute.Int("retrieval.candidates", len(candidates))))
	defer span.End()

	if subject == "" {
		span.SetAttributes(attribute.Int("retrieval.retained", 0))
		return nil, nil
	}

	allowed := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)

	for i := range candidates {
		g.Go(func() error {
			ok, err := f.checker.Check(gctx, subject, authz.RelationCanView, candidates[i].DocumentID)
			if err != nil {
				log.Warn().Err(err).
					Str("document_id", candidates[i].DocumentID).
					Msg("permission_check_failed")
				return nil
			}
			allowed[i] = ok
			return nil
		})
	}
	// Check errors are swallowed per candidate, so Wait never fails.
	_ = g.Wait()

	var retained []Candidate
	for i := range candidates {
		if allowed[i] {
			retained = append(retained, candidates[i])
		}
	}

	span.SetAttributes(attribute.Int("retrieval.retained", len(retained)))
	return retained, nil
}
