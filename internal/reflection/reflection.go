// Package reflection scans a session transcript for failure signals
// (retry loops, backtracking, git reverts) and asks the LLM to produce a
// root-cause reflection and a prevention rule for each one detected.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

// Completer is the narrowed LLM call this package depends on.
type Completer interface {
	Complete(ctx context.Context, op, system, user string) (string, error)
}

// RuleAdder is the subset of ProposalManager this package needs.
type RuleAdder interface {
	AddRule(ctx context.Context, text string, source types.RuleSource, sourceSessionIDs []string) error
}

// Ledger gates at-most-once processing per session.
type Ledger interface {
	Seen(sessionID string) bool
	MarkSeen(sessionID string) error
}

// Message is one transcript entry, already normalized to role/content by
// the caller (the same extraction the ingestor performs).
type Message struct {
	Role    string
	Content string
}

// SignalKind names a detected failure pattern.
type SignalKind string

const (
	SignalRetryLoop    SignalKind = "retry-loop"
	SignalBacktracking SignalKind = "backtracking"
	SignalGitRevert    SignalKind = "git-revert"
)

// Signal is one detected failure occurrence within a session.
type Signal struct {
	Kind    SignalKind
	Excerpt string
}

var errorVocab = regexp.MustCompile(`(?i)\b(error|failed|exception)\b`)
var revertMarkers = regexp.MustCompile(`\bgit\s+(reset|revert|checkout\s+--)`)
var filePathInOp = regexp.MustCompile(`(?i)\b(Edit|Write)\s*\(?\s*"?([\w./\-]+\.\w+)"?`)

// DetectSignals scans messages for the three documented failure signals.
func DetectSignals(messages []Message) []Signal {
	var signals []Signal

	signals = append(signals, detectRetryLoop(messages)...)
	signals = append(signals, detectBacktracking(messages)...)
	signals = append(signals, detectGitRevert(messages)...)

	return signals
}

func detectRetryLoop(messages []Message) []Signal {
	var signals []Signal
	run := 0
	var excerpt string
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		if errorVocab.MatchString(m.Content) {
			run++
			excerpt = m.Content
			if run == 3 {
				signals = append(signals, Signal{Kind: SignalRetryLoop, Excerpt: excerpt})
				run = 0
			}
		} else {
			run = 0
		}
	}
	return signals
}

func detectBacktracking(messages []Message) []Signal {
	var signals []Signal
	var window []string

	for _, m := range messages {
		matches := filePathInOp.FindAllStringSubmatch(m.Content, -1)
		for _, match := range matches {
			path := match[2]
			window = append(window, path)
			if len(window) > 6 {
				window = window[len(window)-6:]
			}
			if countOccurrences(window, path) >= 3 {
				signals = append(signals, Signal{Kind: SignalBacktracking, Excerpt: path})
			}
		}
	}
	return signals
}

func countOccurrences(window []string, path string) int {
	n := 0
	for _, w := range window {
		if w == path {
			n++
		}
	}
	return n
}

func detectGitRevert(messages []Message) []Signal {
	var signals []Signal
	for _, m := range messages {
		if revertMarkers.MatchString(m.Content) {
			signals = append(signals, Signal{Kind: SignalGitRevert, Excerpt: m.Content})
		}
	}
	return signals
}

// Generator produces reflections from detected signals.
type Generator struct {
	Store    vectorstore.Store
	Embedder *embedding.Embedder
	LLM      Completer
	Rules    RuleAdder
	Ledger   Ledger
}

// New builds a Generator.
func New(store vectorstore.Store, embedder *embedding.Embedder, client Completer, rules RuleAdder, ledger Ledger) *Generator {
	return &Generator{Store: store, Embedder: embedder, LLM: client, Rules: rules, Ledger: ledger}
}

// Generate processes sessionID's transcript once (ledger-gated),
// producing a Reflection per detected signal and funneling each
// prevention rule into AddRule.
func (g *Generator) Generate(ctx context.Context, sessionID string, messages []Message) ([]types.Reflection, error) {
	if g.Ledger.Seen(sessionID) {
		return nil, nil
	}

	signals := DetectSignals(messages)
	var reflections []types.Reflection

	for i, sig := range signals {
		refl, ok := g.reflectOn(ctx, sessionID, i, sig)
		if !ok {
			continue
		}
		reflections = append(reflections, refl)

		if err := g.upsertReflection(ctx, refl); err != nil {
			continue
		}
		_ = g.Rules.AddRule(ctx, refl.PreventionRule, types.RuleSourceReflection, []string{sessionID})
	}

	if err := g.Ledger.MarkSeen(sessionID); err != nil {
		return reflections, err
	}
	return reflections, nil
}

func (g *Generator) reflectOn(ctx context.Context, sessionID string, ordinal int, sig Signal) (types.Reflection, bool) {
	system := "A coding assistant session hit a failure signal. Respond with exactly three lines: ROOT_CAUSE: ..., REFLECTION: ..., PREVENTION_RULE: ... . No other text."
	user := fmt.Sprintf("Signal: %s\nExcerpt:\n%s", sig.Kind, sig.Excerpt)

	resp, err := g.LLM.Complete(ctx, "reflect", system, user)
	if err != nil {
		return types.Reflection{}, false
	}

	rootCause, ok1 := extractField(resp, "ROOT_CAUSE")
	reflectionText, ok2 := extractField(resp, "REFLECTION")
	preventionRule, ok3 := extractField(resp, "PREVENTION_RULE")
	if !ok1 || !ok2 || !ok3 {
		return types.Reflection{}, false
	}

	return types.Reflection{
		ID:                 types.ReflectionID(sessionID, ordinal),
		SessionID:          sessionID,
		FailureDescription: string(sig.Kind),
		RootCause:          rootCause,
		ReflectionText:     reflectionText,
		PreventionRule:     preventionRule,
	}, true
}

func (g *Generator) upsertReflection(ctx context.Context, r types.Reflection) error {
	summary := r.RootCause + " " + r.ReflectionText
	vec, err := g.Embedder.Embed(summary)
	if err != nil {
		return err
	}

	payload, err := reflectionPayload(r)
	if err != nil {
		return err
	}

	return g.Store.Upsert(ctx, vectorstore.CollectionReflections, []vectorstore.Point{
		{ID: r.ID, Vector: vec, Payload: payload},
	})
}

func reflectionPayload(r types.Reflection) (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func extractField(text, key string) (string, bool) {
	lines := strings.Split(text, "\n")
	prefix := key + ":"
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, prefix) {
			value := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
			if value != "" {
				return value, true
			}
		}
	}
	return "", false
}
