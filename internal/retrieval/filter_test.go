package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/authz"
	"github.com/dativo-io/aegis/internal/testutil"
)

func testCandidates() []Candidate {
	return []Candidate{
		{Content: "Q3 revenue summary", DocumentID: "doc-finance", Similarity: 0.91},
		{Content: "Team offsite agenda", DocumentID: "doc-offsite", Similarity: 0.84},
		{Content: "Compensation bands", DocumentID: "doc-comp", Similarity: 0.77},
		{Content: "Public launch FAQ", DocumentID: "doc-faq", Similarity: 0.63},
	}
}

func TestFilterRetainsOnlyViewableInOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	store, err := authz.NewStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, authz.Tuple{Subject: "user-1", Relation: authz.RelationOwner, DocumentID: "doc-offsite"}))
	require.NoError(t, store.Write(ctx, authz.Tuple{Subject: "user-1", Relation: authz.RelationViewer, DocumentID: "doc-faq"}))
	require.NoError(t, store.Write(ctx, authz.Tuple{Subject: "user-2", Relation: authz.RelationOwner, DocumentID: "doc-finance"}))

	got, err := NewFilter(store).Filter(ctx, testCandidates(), "user-1")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "doc-offsite", got[0].DocumentID)
	assert.Equal(t, "doc-faq", got[1].DocumentID)
	// Similarity ordering from the source is preserved untouched.
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
}

func TestFilterEmptySubjectShortCircuits(t *testing.T) {
	checker := &countingChecker{}
	got, err := NewFilter(checker).Filter(context.Background(), testCandidates(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, checker.calls, "no checks should be issued without a session")
}

func TestFilterNoCandidates(t *testing.T) {
	checker := &countingChecker{}
	got, err := NewFilter(checker).Filter(context.Background(), nil, "user-1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, checker.calls)
}

func TestFilterCheckErrorFailsClosed(t *testing.T) {
	checker := &flakyChecker{failFor: "doc-offsite"}
	got, err := NewFilter(checker).Filter(context.Background(), testCandidates(), "user-1")
	require.NoError(t, err, "a single failed check must not fail the whole query")

	require.Len(t, got, 3)
	for _, c := range got {
		assert.NotEqual(t, "doc-offsite", c.DocumentID)
	}
}

func TestFilterAllDenied(t *testing.T) {
	db := testutil.NewTestDB(t)
	store, err := authz.NewStore(db)
	require.NoError(t, err)

	got, err := NewFilter(store).Filter(context.Background(), testCandidates(), "user-nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// countingChecker records how many checks were issued.
type countingChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *countingChecker) Check(_ context.Context, _, _, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return true, nil
}

// flakyChecker allows everything except one document, whose check errors.
type flakyChecker struct {
	failFor string
}

func (c *flakyChecker) Check(_ context.Context, _, _ string, documentID string) (bool, error) {
	if documentID == c.failFor {
		return false, errors.New("oracle unavailable")
	}
	return true, nil
}
