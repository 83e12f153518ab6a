// Package scorer assigns a 0-10 reusability score to each chunk in the
// sessions collection via a two-phase pipeline: a pure heuristic
// pre-filter, then a batched LLM pass for anything the heuristic could
// not confidently decide.
package scorer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentops-ai/ao/internal/llm"
	"github.com/agentops-ai/ao/internal/vectorstore"
	"github.com/agentops-ai/ao/internal/worker"
)

const (
	defaultLLMBatchSize   = 25
	defaultLLMConcurrency = 3
	fallbackScore         = 5
)

// Options configures one Score run.
type Options struct {
	SessionID string
	Rescore   bool
	Pending   bool
	BatchSize int
}

// Summary reports the outcome of one Score run.
type Summary struct {
	HeuristicScored int
	LLMScored       int
	Pending         int
	BatchErrors     int
}

// Scorer assigns quality scores to unscored chunks.
type Scorer struct {
	Store vectorstore.Store
	LLM   *llm.Client
}

// New builds a Scorer.
func New(store vectorstore.Store, client *llm.Client) *Scorer {
	return &Scorer{Store: store, LLM: client}
}

// Score runs the two-phase scoring pass over the points selected by
// pointsToScore(opts).
func (s *Scorer) Score(ctx context.Context, opts Options) (Summary, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLLMBatchSize
	}

	points, err := s.pointsToScore(ctx, opts)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	if opts.Pending {
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = p.ID
		}
		if err := s.Store.SetPayload(ctx, vectorstore.CollectionSessions, ids, map[string]any{"pending_score": true}); err == nil {
			summary.Pending = len(ids)
		}
		return summary, nil
	}

	heuristicByScore := make(map[int][]string)
	var toLLM []vectorstore.Point

	for _, p := range points {
		text, _ := p.Payload["chunk_text"].(string)
		if score, ok := PreFilter(text); ok {
			heuristicByScore[score] = append(heuristicByScore[score], p.ID)
			continue
		}
		toLLM = append(toLLM, p)
	}

	for score, ids := range heuristicByScore {
		if err := s.Store.SetPayload(ctx, vectorstore.CollectionSessions, ids, map[string]any{"quality_score": score}); err != nil {
			continue
		}
		summary.HeuristicScored += len(ids)
	}

	if len(toLLM) == 0 {
		return summary, nil
	}

	batches := chunkPoints(toLLM, batchSize)
	pool := worker.NewPool[[]int](defaultLLMConcurrency)
	results := worker.ProcessCtx(ctx, pool, batches, func(c context.Context, batch []vectorstore.Point) ([]int, error) {
		return s.scoreBatch(c, batch)
	})

	for i, r := range results {
		batch := batches[i]
		scores := r.Value
		if r.Err != nil || len(scores) != len(batch) {
			summary.BatchErrors++
			scores = fallbackScores(len(batch))
		}

		byScore := make(map[int][]string)
		for j, p := range batch {
			score := clamp(scores[j])
			byScore[score] = append(byScore[score], p.ID)
		}
		for score, ids := range byScore {
			if err := s.Store.SetPayload(ctx, vectorstore.CollectionSessions, ids, map[string]any{"quality_score": score}); err != nil {
				continue
			}
			summary.LLMScored += len(ids)
		}
	}

	return summary, nil
}

// scoreBatch asks the LLM for scores in chunk order. A parse failure
// returns an error so the caller applies the batch-wide fallback.
func (s *Scorer) scoreBatch(ctx context.Context, batch []vectorstore.Point) ([]int, error) {
	if s.LLM == nil {
		return nil, fmt.Errorf("no LLM configured")
	}

	var sb strings.Builder
	for i, p := range batch {
		text, _ := p.Payload["chunk_text"].(string)
		sb.WriteString("Chunk ")
		sb.WriteString(itoa(i))
		sb.WriteString(":\n")
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	system := "You rate coding-assistant transcript chunks for long-term reuse value on a 0-10 scale. Respond with a single JSON array of integers, one per chunk, in order. No other text."
	resp, err := s.LLM.Complete(ctx, "score_chunks", system, sb.String())
	if err != nil {
		return nil, err
	}

	scores, ok := llm.ExtractIntArray(resp)
	if !ok || len(scores) != len(batch) {
		return nil, errBadResponse
	}
	return scores, nil
}

var errBadResponse = badResponseError{}

type badResponseError struct{}

func (badResponseError) Error() string { return "llm response did not parse into a matching int array" }

func fallbackScores(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = fallbackScore
	}
	return out
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}

func chunkPoints(points []vectorstore.Point, size int) [][]vectorstore.Point {
	var out [][]vectorstore.Point
	for i := 0; i < len(points); i += size {
		end := i + size
		if end > len(points) {
			end = len(points)
		}
		out = append(out, points[i:end])
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

// pointsToScore scrolls the sessions collection, excluding chunks whose
// quality_score is already set unless Rescore is true, optionally
// filtered by SessionID. There is no pending_score filter: a chunk marked
// pending keeps a nil quality_score and is selected like any unscored one.
func (s *Scorer) pointsToScore(ctx context.Context, opts Options) ([]vectorstore.Point, error) {
	var filter *vectorstore.Filter
	if opts.SessionID != "" {
		filter = &vectorstore.Filter{Must: []vectorstore.Condition{{Key: "session_id", Eq: opts.SessionID}}}
	}

	points, err := s.Store.Scroll(ctx, vectorstore.CollectionSessions, filter, 0)
	if err != nil {
		return nil, err
	}

	out := points[:0:0]
	for _, p := range points {
		if !opts.Rescore {
			if _, scored := p.Payload["quality_score"]; scored && p.Payload["quality_score"] != nil {
				continue
			}
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		si, _ := out[i].Payload["session_id"].(string)
		sj, _ := out[j].Payload["session_id"].(string)
		if si != sj {
			return si < sj
		}
		ii, _ := out[i].Payload["chunk_index"].(int)
		ij, _ := out[j].Payload["chunk_index"].(int)
		return ii < ij
	})

	return out, nil
}

var (
	base64ish  = regexp.MustCompile(`^[A-Za-z0-9+/=]{40,}$`)
	hexish     = regexp.MustCompile(`^[0-9a-fA-F]{40,}$`)
	stackFrame = regexp.MustCompile(`(?m)^\s*(at |File "|goroutine |panic:|Traceback)`)
	shellRoutine = regexp.MustCompile(`(?i)^\s*(git status|ls\b|pwd|cd\b|git log)`)
	strongSignal = regexp.MustCompile(`(?i)(root cause|decided to|lesson learned|here'?s why)`)
	weakSignalWords = []string{"refactor", "migration", "performance", "security", "algorithm", "architecture"}
)

// PreFilter is a pure, side-effect-free heuristic classifier. It returns
// (score, true) when it can confidently score text without the LLM, and
// (0, false) when the text should be sent to the LLM pass instead.
func PreFilter(text string) (int, bool) {
	trimmed := strings.TrimSpace(text)

	if len(trimmed) < 10 || base64ish.MatchString(trimmed) || hexish.MatchString(trimmed) {
		return 1, true
	}

	if stackFrame.MatchString(trimmed) || looksLikeDenseErrorJSON(trimmed) {
		return 2, true
	}

	if shellRoutine.MatchString(trimmed) && len(trimmed) < 200 {
		return 3, true
	}

	if strongSignal.MatchString(trimmed) {
		return 0, false
	}

	if countWeakSignals(trimmed) >= 2 {
		return 0, false
	}

	return 4, true
}

func looksLikeDenseErrorJSON(text string) bool {
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		return false
	}
	lower := strings.ToLower(text)
	return strings.Count(lower, "error") >= 2 || strings.Contains(lower, `"stack"`)
}

func countWeakSignals(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, w := range weakSignalWords {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}
