package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDimensionAndNorm(t *testing.T) {
	e := New()
	vec, err := e.Embed("retry the flaky network call with exponential backoff")
	require.NoError(t, err)
	require.Len(t, vec, Dim)

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestEmbedDeterministic(t *testing.T) {
	e := New()
	a, err := e.Embed("use context.WithTimeout for outbound calls")
	require.NoError(t, err)
	b, err := e.Embed("use context.WithTimeout for outbound calls")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedCacheHit(t *testing.T) {
	e := New()
	text := "deduplicate before inserting a new rule"
	first, err := e.Embed(text)
	require.NoError(t, err)

	e.mu.Lock()
	e.cache[text][0] = 999
	e.mu.Unlock()

	second, err := e.Embed(text)
	require.NoError(t, err)
	assert.Equal(t, float32(999), second[0])
	_ = first
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := New()
	texts := []string{"alpha case", "beta case", "gamma case"}
	vecs, err := e.EmbedBatch(texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		direct, err := e.Embed(text)
		require.NoError(t, err)
		assert.Equal(t, direct, vecs[i])
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	e := New()
	vec, err := e.Embed("identical text for similarity check")
	require.NoError(t, err)
	sim := CosineSimilarity(vec, vec)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestCosineSimilarityRange(t *testing.T) {
	e := New()
	a, err := e.Embed("the quick brown fox jumps over the lazy dog")
	require.NoError(t, err)
	b, err := e.Embed("completely unrelated text about database migrations")
	require.NoError(t, err)

	sim := CosineSimilarity(a, b)
	assert.GreaterOrEqual(t, sim, -1.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	zero := make([]float32, Dim)
	other := make([]float32, Dim)
	other[0] = 1
	assert.Equal(t, 0.0, CosineSimilarity(zero, other))
}

func TestEmbedEmptyTextNoPanic(t *testing.T) {
	e := New()
	vec, err := e.Embed("")
	require.NoError(t, err)
	require.Len(t, vec, Dim)
}
