// Package skillgen summarizes novel, high-quality sessions into
// SKILL.md documents: reusable procedure templates derived from
// successful transcripts that have not been seen before.
package skillgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

const (
	summaryMessageWindow = 20
	similarityTopK       = 3
	descriptionOverlapMax = 0.60
)

// Completer is the narrowed LLM call this package depends on.
type Completer interface {
	Complete(ctx context.Context, op, system, user string) (string, error)
}

// Ledger gates at-most-once processing per session.
type Ledger interface {
	Seen(sessionID string) bool
	MarkSeen(sessionID string) error
}

// SkillStore persists a candidate or promoted skill.
type SkillStore interface {
	ExistingSkills(ctx context.Context) ([]types.SkillCandidate, error)
	SaveCandidate(ctx context.Context, c types.SkillCandidate) error
	Promote(ctx context.Context, c types.SkillCandidate) error
}

// Options configures one Generate call.
type Options struct {
	QualityThresholdSuccess int
	NoveltyThreshold        float64
	ApprovalMode            string
}

// Generator produces skill candidates from novel, high-quality sessions.
type Generator struct {
	Store    vectorstore.Store
	Embedder *embedding.Embedder
	LLM      Completer
	Skills   SkillStore
	Ledger   Ledger
}

// New builds a Generator.
func New(store vectorstore.Store, embedder *embedding.Embedder, client Completer, skills SkillStore, ledger Ledger) *Generator {
	return &Generator{Store: store, Embedder: embedder, LLM: client, Skills: skills, Ledger: ledger}
}

// Generate considers sessionID (ledger-gated) for skill extraction. The
// quality gate runs before any LLM call; the novelty gate needs the
// session summary, so it runs after the summarizing call and before the
// drafting call. Returns (nil, false) when the session is skipped for any
// documented reason: already seen, low average quality, or not novel.
func (g *Generator) Generate(ctx context.Context, sessionID string, messages []string, avgQuality float64, opts Options) (*types.SkillCandidate, bool, error) {
	if g.Ledger.Seen(sessionID) {
		return nil, false, nil
	}

	if avgQuality < float64(opts.QualityThresholdSuccess) {
		_ = g.Ledger.MarkSeen(sessionID)
		return nil, false, nil
	}

	summary, err := g.summarize(ctx, messages)
	if err != nil {
		_ = g.Ledger.MarkSeen(sessionID)
		return nil, false, err
	}

	vec, err := g.Embedder.Embed(summary)
	if err != nil {
		_ = g.Ledger.MarkSeen(sessionID)
		return nil, false, err
	}

	similar, err := g.Store.Search(ctx, vectorstore.CollectionSessions, vec, similarityTopK, nil)
	if err != nil {
		_ = g.Ledger.MarkSeen(sessionID)
		return nil, false, err
	}

	novelty := 1.0
	if len(similar) > 0 {
		novelty = 1 - meanSimilarityScore(similar)
	}

	if novelty < (1 - opts.NoveltyThreshold) {
		_ = g.Ledger.MarkSeen(sessionID)
		return nil, false, nil
	}

	candidate, err := g.draftSkill(ctx, sessionID, summary, novelty)
	if err != nil {
		_ = g.Ledger.MarkSeen(sessionID)
		return nil, false, err
	}

	if opts.ApprovalMode == "autonomous" {
		if err := g.promoteIfValid(ctx, candidate); err != nil {
			_ = g.Ledger.MarkSeen(sessionID)
			return candidate, true, err
		}
	} else {
		candidate.Status = types.SkillCandidateProposed
		_ = g.Skills.SaveCandidate(ctx, *candidate)
	}

	_ = g.Ledger.MarkSeen(sessionID)
	return candidate, true, nil
}

func (g *Generator) summarize(ctx context.Context, messages []string) (string, error) {
	n := summaryMessageWindow
	if n > len(messages) {
		n = len(messages)
	}
	joined := strings.Join(messages[:n], "\n")

	system := "Summarize this coding-assistant session in 2-3 sentences, focused on what procedure was followed and what outcome resulted."
	return g.LLM.Complete(ctx, "summarize_session", system, joined)
}

func (g *Generator) draftSkill(ctx context.Context, sessionID, summary string, novelty float64) (*types.SkillCandidate, error) {
	system := "Produce a SKILL document with a header of `name`, `description`, `auto_activation` (comma-separated keywords), followed by sections `When to Use`, `Instructions`, `Verification`. Use the session summary as source material."
	resp, err := g.LLM.Complete(ctx, "draft_skill", system, summary)
	if err != nil {
		return nil, err
	}

	name, _ := fieldValue(resp, "name")
	description, _ := fieldValue(resp, "description")
	keys, _ := fieldValue(resp, "auto_activation")

	if name == "" {
		name = fmt.Sprintf("skill-%s", sessionID)
	}

	return &types.SkillCandidate{
		Name:               name,
		Description:        description,
		Body:               resp,
		AutoActivationKeys: splitKeys(keys),
		SourceSessionID:    sessionID,
		NoveltyScore:       novelty,
	}, nil
}

func (g *Generator) promoteIfValid(ctx context.Context, candidate *types.SkillCandidate) error {
	existing, err := g.Skills.ExistingSkills(ctx)
	if err != nil {
		return err
	}

	for _, e := range existing {
		if strings.EqualFold(e.Name, candidate.Name) {
			candidate.Status = types.SkillCandidateRejected
			return nil
		}
		if descriptionOverlap(e.Description, candidate.Description) >= descriptionOverlapMax {
			candidate.Status = types.SkillCandidateRejected
			return nil
		}
	}

	candidate.Status = types.SkillCandidateApproved
	return g.Skills.Promote(ctx, *candidate)
}

func meanSimilarityScore(points []vectorstore.Point) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Score
	}
	return sum / float64(len(points))
}

func fieldValue(text, key string) (string, bool) {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(key)+":")
	if idx < 0 {
		return "", false
	}
	rest := text[idx+len(key)+1:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest), true
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// descriptionOverlap returns the fraction of words in b that also appear
// in a, a crude symmetric-enough proxy for the spec's "word overlap".
func descriptionOverlap(a, b string) float64 {
	aWords := wordSet(a)
	bWords := strings.Fields(strings.ToLower(b))
	if len(bWords) == 0 {
		return 0
	}
	overlap := 0
	for _, w := range bWords {
		if aWords[w] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(bWords))
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
