package insight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

type fakeCompleter struct {
	response string
	calls    int
}

func (f *fakeCompleter) Complete(_ context.Context, _, _, _ string) (string, error) {
	f.calls++
	return f.response, nil
}

type fakeRuleAdder struct {
	added []string
}

func (f *fakeRuleAdder) AddRule(_ context.Context, text string, _ types.RuleSource, _ []string) error {
	f.added = append(f.added, text)
	return nil
}

func qualityPoint(id, sessionID string, score int, text string) vectorstore.Point {
	return vectorstore.Point{
		ID:     id,
		Vector: make([]float32, vectorstore.Dim),
		Payload: map[string]any{
			"session_id":    sessionID,
			"chunk_text":    text,
			"quality_score": score,
		},
	}
}

func TestExtractPairsAndProposesRules(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, vectorstore.CollectionSessions, []vectorstore.Point{
		qualityPoint("h1", "session-high", 9, "this is a long enough high quality chunk of text to pass the minimum length filter"),
		qualityPoint("l1", "session-low", 1, "this is a long enough low quality chunk of text to pass the minimum length filter"),
	}))

	completer := &fakeCompleter{response: "Always check for nil before dereferencing.\nPrefer structured errors over string matching."}
	adder := &fakeRuleAdder{}

	extractor := New(store, completer, adder)
	n, err := extractor.Extract(ctx, Options{QualityThresholdSuccess: 7, QualityThresholdFailure: 3})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, adder.added, 2)
	assert.Equal(t, 1, completer.calls)
}

func TestExtractNoHighOrLowChunksIsNoop(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()

	completer := &fakeCompleter{response: "anything"}
	adder := &fakeRuleAdder{}

	extractor := New(store, completer, adder)
	n, err := extractor.Extract(ctx, Options{QualityThresholdSuccess: 7, QualityThresholdFailure: 3})

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, completer.calls)
}

func TestBuildPairsWrapsLowIndex(t *testing.T) {
	high := []vectorstore.Point{{ID: "h0"}, {ID: "h1"}, {ID: "h2"}}
	low := []vectorstore.Point{{ID: "l0"}}

	pairs := buildPairs(high, low, 10)
	require.Len(t, pairs, 3)
	for _, p := range pairs {
		assert.Equal(t, "l0", p.low.ID)
	}
}

func TestBuildPairsRespectsCap(t *testing.T) {
	high := make([]vectorstore.Point, 20)
	low := []vectorstore.Point{{ID: "l0"}}

	pairs := buildPairs(high, low, 5)
	assert.Len(t, pairs, 5)
}

func TestExtractSkipsChunksBelowMinLength(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, vectorstore.CollectionSessions, []vectorstore.Point{
		qualityPoint("h1", "s1", 9, "short"),
		qualityPoint("l1", "s2", 1, "also short"),
	}))

	completer := &fakeCompleter{response: "rule"}
	adder := &fakeRuleAdder{}
	extractor := New(store, completer, adder)

	n, err := extractor.Extract(ctx, Options{QualityThresholdSuccess: 7, QualityThresholdFailure: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
