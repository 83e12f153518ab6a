package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(seed float32) []float32 {
	v := make([]float32, Dim)
	v[0] = seed
	v[1] = 1 - seed
	return v
}

func TestMemoryStoreUpsertAndScroll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureCollection(ctx, CollectionSessions))

	err := store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "s1:0", Vector: vec(0.1), Payload: map[string]any{"session_id": "s1", "chunk_index": 0}},
		{ID: "s1:1", Vector: vec(0.2), Payload: map[string]any{"session_id": "s1", "chunk_index": 1}},
	})
	require.NoError(t, err)

	points, err := store.Scroll(ctx, CollectionSessions, nil, 0)
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestMemoryStoreUpsertRejectsWrongDim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	err := store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "bad", Vector: []float32{1, 2, 3}},
	})
	assert.Error(t, err)
}

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pt := Point{ID: "s1:0", Vector: vec(0.5), Payload: map[string]any{"quality_score": 7}}

	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{pt}))
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{pt}))

	count, err := store.Count(ctx, CollectionSessions, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreFilterGte(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "a", Vector: vec(0.1), Payload: map[string]any{"quality_score": 8}},
		{ID: "b", Vector: vec(0.2), Payload: map[string]any{"quality_score": 2}},
	}))

	threshold := 7.0
	points, err := store.Scroll(ctx, CollectionSessions, &Filter{
		Must: []Condition{{Key: "quality_score", Gte: &threshold}},
	}, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "a", points[0].ID)
}

func TestMemoryStoreSearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	query := vec(1.0)

	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "far", Vector: vec(0.0)},
		{ID: "close", Vector: vec(0.95)},
	}))

	results, err := store.Search(ctx, CollectionSessions, query, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].ID)
}

func TestMemoryStoreSetPayloadPatchesInPlace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "a", Vector: vec(0.1), Payload: map[string]any{"quality_score": nil}},
	}))

	require.NoError(t, store.SetPayload(ctx, CollectionSessions, []string{"a"}, map[string]any{"quality_score": 9}))

	points, err := store.Scroll(ctx, CollectionSessions, nil, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 9, points[0].Payload["quality_score"])
}

func TestMemoryStoreSetPayloadBatchesMultipleIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "a", Vector: vec(0.1), Payload: map[string]any{"quality_score": nil}},
		{ID: "b", Vector: vec(0.2), Payload: map[string]any{"quality_score": nil}},
	}))

	require.NoError(t, store.SetPayload(ctx, CollectionSessions, []string{"a", "b"}, map[string]any{"quality_score": 6}))

	points, err := store.Scroll(ctx, CollectionSessions, nil, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, 6, p.Payload["quality_score"])
	}
}

func TestMemoryStoreSetPayloadMissingIDReturnsError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "a", Vector: vec(0.1)},
	}))

	err := store.SetPayload(ctx, CollectionSessions, []string{"a", "missing"}, map[string]any{"quality_score": 6})
	assert.Error(t, err)
}

func TestMemoryStoreListSessionIDsDedupesAcrossChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "s2:0", Vector: vec(0.1), Payload: map[string]any{"session_id": "s2"}},
		{ID: "s1:0", Vector: vec(0.2), Payload: map[string]any{"session_id": "s1"}},
		{ID: "s1:1", Vector: vec(0.3), Payload: map[string]any{"session_id": "s1"}},
	}))

	ids, err := store.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
}

func TestMemoryStoreRecreateCollectionDropsExistingPoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "s1:0", Vector: vec(0.1)},
	}))

	require.NoError(t, store.RecreateCollection(ctx, CollectionSessions))

	count, err := store.Count(ctx, CollectionSessions, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, store.Upsert(ctx, CollectionSessions, []Point{
		{ID: "s2:0", Vector: vec(0.2)},
	}))
	count, err = store.Count(ctx, CollectionSessions, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, CollectionRules, []Point{
		{ID: "r1", Vector: vec(0.3)},
	}))
	require.NoError(t, store.Delete(ctx, CollectionRules, []string{"r1"}))

	count, err := store.Count(ctx, CollectionRules, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
