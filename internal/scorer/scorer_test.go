package scorer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops-ai/ao/internal/vectorstore"
)

func TestPreFilterShortText(t *testing.T) {
	score, ok := PreFilter("ok")
	assert.True(t, ok)
	assert.Equal(t, 1, score)
}

func TestPreFilterStacktrace(t *testing.T) {
	text := "panic: runtime error: index out of range\n\tat main.go:42\ngoroutine 1 [running]:"
	score, ok := PreFilter(text)
	assert.True(t, ok)
	assert.Equal(t, 2, score)
}

func TestPreFilterRoutineShellCommand(t *testing.T) {
	score, ok := PreFilter("git status")
	assert.True(t, ok)
	assert.Equal(t, 3, score)
}

func TestPreFilterStrongSignalGoesToLLM(t *testing.T) {
	_, ok := PreFilter("The root cause of the failure was a missing nil check in the handler, here's why it matters for future changes")
	assert.False(t, ok)
}

func TestPreFilterTwoWeakSignalsGoesToLLM(t *testing.T) {
	_, ok := PreFilter("We discussed a refactor of the module for better performance across the whole pipeline and agreed on the approach")
	assert.False(t, ok)
}

func TestPreFilterOneWeakSignalIsNormal(t *testing.T) {
	score, ok := PreFilter("We discussed a small refactor of the helper function before moving on to other unrelated work")
	assert.True(t, ok)
	assert.Equal(t, 4, score)
}

func TestPreFilterPure(t *testing.T) {
	text := "a perfectly ordinary chunk of conversation text about nothing in particular at all"
	a, okA := PreFilter(text)
	b, okB := PreFilter(text)
	assert.Equal(t, a, b)
	assert.Equal(t, okA, okB)
}

func pendingPoint(id, sessionID string, idx int) vectorstore.Point {
	v := make([]float32, vectorstore.Dim)
	return vectorstore.Point{
		ID:     id,
		Vector: v,
		Payload: map[string]any{
			"session_id":    sessionID,
			"chunk_index":   idx,
			"chunk_text":    "git status",
			"quality_score": nil,
			"pending_score": false,
		},
	}
}

func TestScorePendingModeLeavesScoreUnset(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, vectorstore.CollectionSessions, []vectorstore.Point{
		pendingPoint("s1:0", "s1", 0),
	}))

	s := New(store, nil)
	summary, err := s.Score(ctx, Options{Pending: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pending)

	points, err := store.Scroll(ctx, vectorstore.CollectionSessions, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, points[0].Payload["quality_score"])
	assert.Equal(t, true, points[0].Payload["pending_score"])
}

func TestScoreHeuristicPathSkipsAlreadyScored(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	p := pendingPoint("s1:0", "s1", 0)
	p.Payload["quality_score"] = 7
	require.NoError(t, store.Upsert(ctx, vectorstore.CollectionSessions, []vectorstore.Point{p}))

	s := New(store, nil)
	summary, err := s.Score(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.HeuristicScored)
}

func TestScoreHeuristicWritesShellCommandScore(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, vectorstore.CollectionSessions, []vectorstore.Point{
		pendingPoint("s1:0", "s1", 0),
	}))

	s := New(store, nil)
	summary, err := s.Score(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.HeuristicScored)

	points, err := store.Scroll(ctx, vectorstore.CollectionSessions, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, points[0].Payload["quality_score"])
}
