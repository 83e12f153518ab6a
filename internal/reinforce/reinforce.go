// Package reinforce runs after every ingestion pass: it searches for
// fresh evidence that each active rule is still relevant, and prunes
// rules that have gone stale without enough reinforcement to survive.
package reinforce

import (
	"context"
	"time"

	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

const exemptReinforcementCount = 10

// Options configures one reinforcement or prune pass.
type Options struct {
	ReinforcementSearchLimit    int
	ReinforcementQualityMin     int
	ReinforcementWindowDays     int
	ReinforcementScoreThreshold float64
	StalenessThresholdDays      int
	MinReinforcementsToKeep     int
}

// RuleStore is the subset of the rule registry this tracker needs: read
// active rules, apply a reinforcement update, and retire a stale one.
type RuleStore interface {
	ActiveRules() []types.Rule
	ApplyReinforcement(ruleID string, newHits int, when time.Time) error
	Retire(ruleID string) error
}

// Tracker scans for reinforcing evidence and prunes stale rules.
type Tracker struct {
	Store vectorstore.Store
	Rules RuleStore
	Embed *embedding.Embedder
}

// New builds a Tracker.
func New(store vectorstore.Store, rules RuleStore, embedder *embedding.Embedder) *Tracker {
	return &Tracker{Store: store, Rules: rules, Embed: embedder}
}

// ReinforceResult reports how many rules were updated and by how much.
type ReinforceResult struct {
	RulesScanned    int
	RulesReinforced int
	TotalHits       int
}

// Reinforce embeds each active rule's text, searches sessions for
// similar high-quality evidence, and increments reinforcementCount for
// every retained hit.
func (t *Tracker) Reinforce(ctx context.Context, now time.Time, opts Options) (ReinforceResult, error) {
	var result ReinforceResult
	active := t.Rules.ActiveRules()

	for _, rule := range active {
		result.RulesScanned++

		vec, err := t.Embed.Embed(rule.Text)
		if err != nil {
			continue
		}

		qualityMin := float64(opts.ReinforcementQualityMin)
		points, err := t.Store.Search(ctx, vectorstore.CollectionSessions, vec, opts.ReinforcementSearchLimit, &vectorstore.Filter{
			Must: []vectorstore.Condition{{Key: "quality_score", Gte: &qualityMin}},
		})
		if err != nil {
			continue
		}

		retained := t.retainHits(points, rule, now, opts)
		if retained == 0 {
			continue
		}

		if err := t.Rules.ApplyReinforcement(rule.ID, retained, now); err == nil {
			result.RulesReinforced++
			result.TotalHits += retained
		}
	}

	return result, nil
}

func (t *Tracker) retainHits(points []vectorstore.Point, rule types.Rule, now time.Time, opts Options) int {
	sourceSessions := make(map[string]bool, len(rule.SourceSessionIds))
	for _, sid := range rule.SourceSessionIds {
		sourceSessions[sid] = true
	}

	retained := 0
	for _, p := range points {
		sid, _ := p.Payload["session_id"].(string)
		if sourceSessions[sid] {
			continue
		}

		dateStr, _ := p.Payload["date"].(string)
		if !withinWindow(dateStr, now, opts.ReinforcementWindowDays) {
			continue
		}

		if p.Score < opts.ReinforcementScoreThreshold {
			continue
		}

		retained++
	}
	return retained
}

func withinWindow(dateStr string, now time.Time, windowDays int) bool {
	if dateStr == "" {
		return false
	}
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return false
	}
	return now.Sub(t) <= time.Duration(windowDays)*24*time.Hour
}

// PruneResult reports how many rules were retired or flagged as aging.
type PruneResult struct {
	Retired int
	Aging   int
}

// Prune retires active rules that have gone stale without enough
// reinforcement to survive. A rule with reinforcementCount >= 10 is
// always exempt from retirement, per the staleness-exemption law.
func (t *Tracker) Prune(ctx context.Context, now time.Time, opts Options) (PruneResult, error) {
	var result PruneResult
	active := t.Rules.ActiveRules()

	for _, rule := range active {
		if rule.ReinforcementCount >= exemptReinforcementCount {
			continue
		}

		age := now.Sub(rule.LastReinforced)
		staleThreshold := time.Duration(opts.StalenessThresholdDays) * 24 * time.Hour

		if age > staleThreshold && rule.ReinforcementCount < opts.MinReinforcementsToKeep {
			if err := t.Rules.Retire(rule.ID); err != nil {
				continue
			}
			_ = t.Store.Delete(ctx, vectorstore.CollectionRules, []string{rule.ID})
			result.Retired++
			continue
		}

		if age > staleThreshold/2 {
			result.Aging++
		}
	}

	return result, nil
}
