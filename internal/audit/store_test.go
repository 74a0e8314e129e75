package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/aegis/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(testutil.NewTestDB(t), testutil.TestSigningKey)
	require.NoError(t, err)
	return store
}

func TestNewStoreRejectsShortKey(t *testing.T) {
	_, err := NewStore(testutil.NewTestDB(t), "too-short")
	assert.Error(t, err)
}

func TestRecorderLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := NewInvocation("getCalendarEventsTool", "user_1", "u1@example.com", "thread_1", "")
	rec := store.Begin(inv, "assistant", "low", false)

	require.NoError(t, rec.Start(ctx, json.RawMessage(`{"date":"2026-03-01"}`)))
	require.NoError(t, rec.Success(ctx, json.RawMessage(`{"eventsCount":2}`)))

	events, err := store.ListByInvocation(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, ActionToolStart, events[0].Action)
	assert.Equal(t, StatusPending, events[0].Status)
	assert.Equal(t, ActionToolSuccess, events[1].Action)
	assert.Equal(t, StatusSuccess, events[1].Status)
	assert.False(t, events[1].CreatedAt.Before(events[0].CreatedAt))
	assert.Equal(t, "user_1", events[0].SubjectID)
	assert.Equal(t, "getCalendarEventsTool", events[0].ToolName)
}

func TestRecorderFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := NewInvocation("shopOnlineTool", "user_1", "u1@example.com", "", "")
	rec := store.Begin(inv, "assistant", "medium", true)

	require.NoError(t, rec.Start(ctx, json.RawMessage(`{"product":"phone"}`)))
	require.NoError(t, rec.Failure(ctx, "shop API unreachable"))

	events, err := store.ListByInvocation(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionToolError, events[1].Action)
	assert.Equal(t, StatusFailure, events[1].Status)
	assert.Equal(t, "shop API unreachable", events[1].ErrorMessage)
	assert.True(t, events[1].RequiresApproval)
}

func TestControlEventPrecedesTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := NewInvocation("gmailDraftTool", "user_1", "u1@example.com", "", "")
	rec := store.Begin(inv, "assistant", "high", true)

	require.NoError(t, rec.Start(ctx, nil))
	require.NoError(t, rec.Control(ctx, ActionStepUpRequired, StatusPending, nil))
	require.NoError(t, rec.Failure(ctx, "access denied by user"))

	events, err := store.ListByInvocation(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ActionStepUpRequired, events[1].Action)
	assert.Equal(t, ActionToolError, events[2].Action)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inv := NewInvocation("webSearchTool", "user_1", "u1@example.com", "", "")
		rec := store.Begin(inv, "assistant", "low", false)
		require.NoError(t, rec.Start(ctx, nil))
		time.Sleep(5 * time.Millisecond)
	}

	events, err := store.List(ctx, "user_1", "", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i-1].CreatedAt.Before(events[i].CreatedAt))
	}
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	invA := NewInvocation("webSearchTool", "user_1", "u1@example.com", "", "ws_1")
	require.NoError(t, store.Begin(invA, "assistant", "low", false).Start(ctx, nil))
	invB := NewInvocation("webSearchTool", "user_1", "u1@example.com", "", "ws_2")
	require.NoError(t, store.Begin(invB, "assistant", "low", false).Start(ctx, nil))
	invC := NewInvocation("webSearchTool", "user_2", "u2@example.com", "", "ws_1")
	require.NoError(t, store.Begin(invC, "assistant", "low", false).Start(ctx, nil))

	events, err := store.List(ctx, "user_1", "ws_1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, invA.ID, events[0].InvocationID)

	events, err = store.List(ctx, "user_1", "", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStatusCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := NewInvocation("webSearchTool", "user_1", "u1@example.com", "", "")
	rec := store.Begin(inv, "assistant", "low", false)
	require.NoError(t, rec.Start(ctx, nil))
	require.NoError(t, rec.Success(ctx, nil))

	counts, err := store.StatusCounts(ctx, "user_1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusSuccess])
}

func TestVerify(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := NewInvocation("webSearchTool", "user_1", "u1@example.com", "", "")
	require.NoError(t, store.Begin(inv, "assistant", "low", false).Start(ctx, nil))

	events, err := store.ListByInvocation(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ok, err := store.Verify(ctx, events[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Verify(ctx, "evt_missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestSignerRoundTrip(t *testing.T) {
	signer, err := NewSigner(testutil.TestSigningKey)
	require.NoError(t, err)

	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, signer.Verify([]byte("payload"), sig))
	assert.False(t, signer.Verify([]byte("tampered"), sig))
}
