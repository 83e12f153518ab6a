// Package insight pairs high- and low-quality session chunks and asks
// the LLM for contrastive rules, funneling candidates into the rule
// proposal manager.
package insight

import (
	"context"
	"strings"

	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

// Completer is the one-shot completion call the extractor needs from
// internal/llm.Client, narrowed to an interface so tests can substitute
// a fake without a real API key.
type Completer interface {
	Complete(ctx context.Context, op, system, user string) (string, error)
}

const (
	defaultPairCap       = 10
	defaultBatchSize     = 3
	minChunkTextLen      = 40
)

// RuleAdder is the subset of ProposalManager the extractor needs,
// narrowed to avoid an import cycle between insight and rules.
type RuleAdder interface {
	AddRule(ctx context.Context, text string, source types.RuleSource, sourceSessionIDs []string) error
}

// Options configures quality thresholds and pairing/batch limits.
type Options struct {
	QualityThresholdSuccess int
	QualityThresholdFailure int
	PairCap                 int
	BatchSize               int
}

// Extractor pairs contrastive chunks and proposes rules from them.
type Extractor struct {
	Store vectorstore.Store
	LLM   Completer
	Rules RuleAdder
}

// New builds an Extractor.
func New(store vectorstore.Store, client Completer, rules RuleAdder) *Extractor {
	return &Extractor{Store: store, LLM: client, Rules: rules}
}

type pair struct {
	high vectorstore.Point
	low  vectorstore.Point
}

// Extract scrolls sessions for high- and low-quality chunks, pairs them,
// and asks the LLM for contrastive rules it funnels into AddRule.
// Idempotence is the proposal manager's responsibility, not this stage's.
func (e *Extractor) Extract(ctx context.Context, opts Options) (int, error) {
	pairCap := opts.PairCap
	if pairCap <= 0 {
		pairCap = defaultPairCap
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	high, err := e.scrollByThreshold(ctx, "quality_score", opts.QualityThresholdSuccess, true)
	if err != nil {
		return 0, err
	}
	low, err := e.scrollByThreshold(ctx, "quality_score", opts.QualityThresholdFailure, false)
	if err != nil {
		return 0, err
	}

	if len(high) == 0 || len(low) == 0 {
		return 0, nil
	}

	pairs := buildPairs(high, low, pairCap)

	proposed := 0
	for i := 0; i < len(pairs); i += batchSize {
		end := i + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[i:end]

		rules, err := e.contrastiveRules(ctx, batch)
		if err != nil {
			continue
		}
		for j, ruleText := range rules {
			if ruleText == "" {
				continue
			}
			src := []string{
				stringField(batch[j%len(batch)].high.Payload, "session_id"),
				stringField(batch[j%len(batch)].low.Payload, "session_id"),
			}
			if err := e.Rules.AddRule(ctx, ruleText, types.RuleSourceInsight, src); err == nil {
				proposed++
			}
		}
	}

	return proposed, nil
}

func (e *Extractor) scrollByThreshold(ctx context.Context, key string, threshold int, gte bool) ([]vectorstore.Point, error) {
	t := float64(threshold)
	cond := vectorstore.Condition{Key: key}
	if gte {
		cond.Gte = &t
	} else {
		cond.Lte = &t
	}

	points, err := e.Store.Scroll(ctx, vectorstore.CollectionSessions, &vectorstore.Filter{Must: []vectorstore.Condition{cond}}, 0)
	if err != nil {
		return nil, err
	}

	out := points[:0:0]
	for _, p := range points {
		if text, _ := p.Payload["chunk_text"].(string); len(strings.TrimSpace(text)) > minChunkTextLen {
			out = append(out, p)
		}
	}
	return out, nil
}

// buildPairs pairs the i-th high chunk with the (i mod len(low))-th low
// chunk, up to cap pairs.
func buildPairs(high, low []vectorstore.Point, cap int) []pair {
	n := len(high)
	if n > cap {
		n = cap
	}
	pairs := make([]pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, pair{high: high[i], low: low[i%len(low)]})
	}
	return pairs
}

// contrastiveRules asks for 1-2 contrastive rules per pair in the batch
// and returns one rule string per output line, best-effort matched back
// to the originating pair by position.
func (e *Extractor) contrastiveRules(ctx context.Context, batch []pair) ([]string, error) {
	var sb strings.Builder
	for i, p := range batch {
		sb.WriteString("Pair ")
		sb.WriteString(itoa(i))
		sb.WriteString(":\nHigh-quality example:\n")
		sb.WriteString(stringField(p.high.Payload, "chunk_text"))
		sb.WriteString("\nLow-quality example:\n")
		sb.WriteString(stringField(p.low.Payload, "chunk_text"))
		sb.WriteString("\n\n")
	}

	system := "Compare each high-quality and low-quality example pair and state 1-2 short, actionable rules that explain the difference. Respond with one rule per line, no numbering, no extra commentary."
	resp, err := e.LLM.Complete(ctx, "extract_insights", system, sb.String())
	if err != nil {
		return nil, err
	}

	var rules []string
	for _, line := range strings.Split(resp, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			rules = append(rules, trimmed)
		}
	}
	return rules, nil
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
