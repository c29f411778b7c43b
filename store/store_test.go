package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/arclight-ai/resolve/researchtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := New(Config{RedisAddr: mr.Addr(), DefaultTTL: time.Minute}, nil, nil)
	require.NoError(t, err)
	return mr, s
}

func TestStore_StoreThenRetrieveRoundTrips(t *testing.T) {
	mr, s := setupTestStore(t)
	defer mr.Close()

	result := researchtype.ResearchResult{
		Request:       researchtype.ClassifiedRequest{OriginalQuery: "what is go", ResearchType: researchtype.Learning},
		ImmediateAnswer: "Go is a compiled language.",
	}
	key := ComputeKey(KeyInput{OriginalQuery: "what is go", ResearchType: researchtype.Learning})

	require.NoError(t, s.Store(context.Background(), key, result, 0))

	got, err := s.Retrieve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, result.ImmediateAnswer, got.ImmediateAnswer)
}

func TestStore_RetrieveMissReturnsErrNotFound(t *testing.T) {
	mr, s := setupTestStore(t)
	defer mr.Close()

	_, err := s.Retrieve(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteRemovesEntry(t *testing.T) {
	mr, s := setupTestStore(t)
	defer mr.Close()

	key := ComputeKey(KeyInput{OriginalQuery: "q", ResearchType: researchtype.Decision})
	require.NoError(t, s.Store(context.Background(), key, researchtype.ResearchResult{}, 0))
	require.NoError(t, s.Delete(context.Background(), key))

	_, err := s.Retrieve(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ExpiredEntryIsEvictedByTTL(t *testing.T) {
	mr, s := setupTestStore(t)
	defer mr.Close()

	key := ComputeKey(KeyInput{OriginalQuery: "q2", ResearchType: researchtype.Decision})
	require.NoError(t, s.Store(context.Background(), key, researchtype.ResearchResult{}, 10*time.Millisecond))

	mr.FastForward(50 * time.Millisecond)

	_, err := s.Retrieve(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)
}
