package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubjects() []Subject {
	return []Subject{
		{ID: "user-1", Email: "ada@example.com", Name: "Ada", APIKey: "key-ada"},
		{ID: "user-2", Email: "lin@example.com", APIKey: "key-lin", RateLimit: 2},
	}
}

func TestVerifyKnownCredential(t *testing.T) {
	r := NewRegistry(testSubjects())

	s, err := r.Verify(context.Background(), "key-ada")
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.ID)
	assert.Equal(t, "ada@example.com", s.Email)
}

func TestVerifyUnknownCredential(t *testing.T) {
	r := NewRegistry(testSubjects())

	_, err := r.Verify(context.Background(), "key-nobody")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestVerifyRateLimited(t *testing.T) {
	r := NewRegistry(testSubjects())
	ctx := context.Background()

	// Burst is 2x the per-second limit; the 5th immediate request trips it.
	var err error
	for i := 0; i < 5; i++ {
		_, err = r.Verify(ctx, "key-lin")
	}
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// The unlimited subject is unaffected.
	_, err = r.Verify(ctx, "key-ada")
	assert.NoError(t, err)
}

func TestLookupByID(t *testing.T) {
	r := NewRegistry(testSubjects())

	s, err := r.Lookup("user-2")
	require.NoError(t, err)
	assert.Equal(t, "lin@example.com", s.Email)

	_, err = r.Lookup("user-9")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}
