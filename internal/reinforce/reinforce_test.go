package reinforce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

type fakeRuleStore struct {
	rules    []types.Rule
	retired  []string
	reinforced map[string]int
}

func newFakeRuleStore(rules ...types.Rule) *fakeRuleStore {
	return &fakeRuleStore{rules: rules, reinforced: map[string]int{}}
}

func (f *fakeRuleStore) ActiveRules() []types.Rule {
	var out []types.Rule
	for _, r := range f.rules {
		if r.Status == types.RuleStatusActive {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRuleStore) ApplyReinforcement(ruleID string, newHits int, when time.Time) error {
	for i := range f.rules {
		if f.rules[i].ID == ruleID {
			f.rules[i].ReinforcementCount += newHits
			f.rules[i].LastReinforced = when
			f.reinforced[ruleID] += newHits
		}
	}
	return nil
}

func (f *fakeRuleStore) Retire(ruleID string) error {
	for i := range f.rules {
		if f.rules[i].ID == ruleID {
			f.rules[i].Status = types.RuleStatusRetired
			f.retired = append(f.retired, ruleID)
		}
	}
	return nil
}

func seedSession(t *testing.T, store vectorstore.Store, embedder *embedding.Embedder, id, text, date string, quality int) {
	t.Helper()
	vec, err := embedder.Embed(text)
	require.NoError(t, err)
	err = store.Upsert(context.Background(), vectorstore.CollectionSessions, []vectorstore.Point{{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			"session_id":    id,
			"date":          date,
			"quality_score": float64(quality),
		},
	}})
	require.NoError(t, err)
}

func TestReinforceRetainsFreshHighQualityEvidence(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	seedSession(t, store, embedder, "sess-fresh", "always check context cancellation before retrying a network call", now.Format("2006-01-02"), 9)

	rule := types.Rule{ID: "rule1", Text: "always check context cancellation before retrying a network call", Status: types.RuleStatusActive, SourceSessionIds: []string{"sess-origin"}}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{
		ReinforcementSearchLimit:    10,
		ReinforcementQualityMin:     7,
		ReinforcementWindowDays:     30,
		ReinforcementScoreThreshold: 0.5,
	}

	result, err := tracker.Reinforce(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesScanned)
	assert.Equal(t, 1, result.RulesReinforced)
	assert.Equal(t, 1, rs.reinforced["rule1"])
}

func TestReinforceExcludesSourceSession(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	seedSession(t, store, embedder, "sess-origin", "prefer structured logging over fmt println in production code", now.Format("2006-01-02"), 9)

	rule := types.Rule{ID: "rule1", Text: "prefer structured logging over fmt println in production code", Status: types.RuleStatusActive, SourceSessionIds: []string{"sess-origin"}}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{
		ReinforcementSearchLimit:    10,
		ReinforcementQualityMin:     7,
		ReinforcementWindowDays:     30,
		ReinforcementScoreThreshold: 0.5,
	}

	result, err := tracker.Reinforce(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RulesReinforced)
}

func TestReinforceExcludesOutOfWindowHits(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -90).Format("2006-01-02")

	seedSession(t, store, embedder, "sess-old", "always validate user input before using it in a query", old, 9)

	rule := types.Rule{ID: "rule1", Text: "always validate user input before using it in a query", Status: types.RuleStatusActive}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{
		ReinforcementSearchLimit:    10,
		ReinforcementQualityMin:     7,
		ReinforcementWindowDays:     30,
		ReinforcementScoreThreshold: 0.5,
	}

	result, err := tracker.Reinforce(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RulesReinforced)
}

func TestPruneExemptsRulesAtOrAboveTenReinforcements(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	rule := types.Rule{
		ID:                 "rule1",
		Text:                "heavily reinforced rule",
		Status:              types.RuleStatusActive,
		ReinforcementCount:  10,
		LastReinforced:      now.AddDate(0, 0, -200),
	}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{StalenessThresholdDays: 30, MinReinforcementsToKeep: 2}
	result, err := tracker.Prune(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Retired)
	assert.Empty(t, rs.retired)
}

func TestPruneRetiresStaleUnderreinforcedRule(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	rule := types.Rule{
		ID:                 "rule1",
		Text:                "rarely reinforced rule",
		Status:              types.RuleStatusActive,
		ReinforcementCount:  1,
		LastReinforced:      now.AddDate(0, 0, -60),
	}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{StalenessThresholdDays: 30, MinReinforcementsToKeep: 2}
	result, err := tracker.Prune(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retired)
	assert.Contains(t, rs.retired, "rule1")
}

func TestPruneLogsAgingWithoutRetiringAtHalfThreshold(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	rule := types.Rule{
		ID:                 "rule1",
		Text:                "mildly aging rule",
		Status:              types.RuleStatusActive,
		ReinforcementCount:  1,
		LastReinforced:      now.AddDate(0, 0, -20),
	}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{StalenessThresholdDays: 30, MinReinforcementsToKeep: 2}
	result, err := tracker.Prune(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Retired)
	assert.Equal(t, 1, result.Aging)
	assert.Empty(t, rs.retired)
}

func TestPruneSkipsRuleWithEnoughReinforcementsDespiteStaleness(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.New()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	rule := types.Rule{
		ID:                 "rule1",
		Text:                "well reinforced but old rule",
		Status:              types.RuleStatusActive,
		ReinforcementCount:  5,
		LastReinforced:      now.AddDate(0, 0, -60),
	}
	rs := newFakeRuleStore(rule)
	tracker := New(store, rs, embedder)

	opts := Options{StalenessThresholdDays: 30, MinReinforcementsToKeep: 2}
	result, err := tracker.Prune(ctx, now, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Retired)
}
