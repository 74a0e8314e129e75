package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/testutil"
)

func seedDocuments(t *testing.T, store *DocumentStore) {
	t.Helper()
	docs := []Document{
		{ID: "doc-espresso", Title: "Espresso machine manual", Content: "Descaling the espresso machine every three months keeps the boiler healthy."},
		{ID: "doc-travel", Title: "Travel checklist", Content: "Passport, adapter, travel insurance documents."},
		{ID: "doc-budget", Title: "Household budget", Content: "Monthly budget including the espresso bean subscription."},
	}
	for i := range docs {
		require.NoError(t, store.Put(context.Background(), &docs[i]))
	}
}

func TestDocumentStorePutAssignsID(t *testing.T) {
	store, err := NewDocumentStore(testutil.NewTestDB(t))
	require.NoError(t, err)

	doc := &Document{Title: "Notes", Content: "some notes"}
	require.NoError(t, store.Put(context.Background(), doc))
	assert.Contains(t, doc.ID, "doc_")

	got, err := store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Notes", got.Title)
}

func TestDocumentStoreGetMissing(t *testing.T) {
	store, err := NewDocumentStore(testutil.NewTestDB(t))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "doc-nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestFindRelevantRanksByOverlap(t *testing.T) {
	store, err := NewDocumentStore(testutil.NewTestDB(t))
	require.NoError(t, err)
	seedDocuments(t, store)

	candidates, err := store.FindRelevant(context.Background(), "descaling my espresso machine", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// The manual matches all three keywords, the budget only "espresso".
	assert.Equal(t, "doc-espresso", candidates[0].DocumentID)
	assert.Equal(t, "doc-budget", candidates[1].DocumentID)
	assert.Greater(t, candidates[0].Similarity, candidates[1].Similarity)
	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.Similarity, 0.0)
		assert.LessOrEqual(t, c.Similarity, 1.0)
	}
}

func TestFindRelevantHonorsLimit(t *testing.T) {
	store, err := NewDocumentStore(testutil.NewTestDB(t))
	require.NoError(t, err)
	seedDocuments(t, store)

	candidates, err := store.FindRelevant(context.Background(), "espresso", 1)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestFindRelevantNoMatches(t *testing.T) {
	store, err := NewDocumentStore(testutil.NewTestDB(t))
	require.NoError(t, err)
	seedDocuments(t, store)

	candidates, err := store.FindRelevant(context.Background(), "quantum chromodynamics", 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindRelevantUpdatedContent(t *testing.T) {
	store, err := NewDocumentStore(testutil.NewTestDB(t))
	require.NoError(t, err)

	doc := &Document{ID: "doc-1", Title: "Draft", Content: "original text"}
	require.NoError(t, store.Put(context.Background(), doc))
	doc.Content = "espresso brewing guide"
	require.NoError(t, store.Put(context.Background(), doc))

	candidates, err := store.FindRelevant(context.Background(), "espresso brewing", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "espresso brewing guide", candidates[0].Content)
}
