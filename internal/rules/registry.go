// Package rules implements the ProposalManager: the only component that
// mutates the rule registry. It validates, deduplicates, categorizes,
// and persists rules, and keeps the rules vector collection as an
// idempotent search-time mirror of the registry.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/logging"
	"github.com/agentops-ai/ao/internal/pipelineerrors"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

const maxRuleWords = 50

// Completer is the narrowed LLM call used to validate candidate rules.
type Completer interface {
	Complete(ctx context.Context, op, system, user string) (string, error)
}

// Options configures the manager's lifecycle thresholds.
type Options struct {
	ApprovalMode            string
	MaxActiveRules          int
	DeduplicationSimilarity float64
}

// AddResult reports the outcome of one addRule call.
type AddResult struct {
	Applied bool
	Reason  string
	Rule    *types.Rule
}

// Manager is the ProposalManager. It owns the single writer of
// rules.json and mirrors active rules into the rules collection.
type Manager struct {
	mu       sync.Mutex
	path     string
	stageDir string
	rules    []types.Rule
	store    vectorstore.Store
	embedder *embedding.Embedder
	llm      Completer
	opts     Options
}

// NewManager loads (or initializes) the registry at path.
func NewManager(path, stageDir string, store vectorstore.Store, embedder *embedding.Embedder, llm Completer, opts Options) (*Manager, error) {
	m := &Manager{path: path, stageDir: stageDir, store: store, embedder: embedder, llm: llm, opts: opts}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.rules = nil
		return nil
	}
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}
	var rules []types.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}
	m.rules = rules
	return nil
}

// save writes the registry atomically: temp file in the same directory,
// then rename. The last-good file on disk is never left half-written.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.rules, "", "  ")
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".rules-*.json.tmp")
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: m.path, Err: err}
	}
	return nil
}

// gitCommandRunner executes a git subcommand against dir; replaced in
// tests so commitChange's non-fatal-failure path is exercisable without
// a real git binary.
var gitCommandRunner = func(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run()
}

// commitChange commits the registry file to version control with a
// conventional-commit subject, per the mandatory persistence clause:
// every mutation commits the file, and a failure to commit is logged
// but never fails the caller.
func (m *Manager) commitChange(action string) {
	dir := filepath.Dir(m.path)
	subject := fmt.Sprintf("chore(rules): %s", action)

	if err := gitCommandRunner(dir, "add", m.path); err != nil {
		logging.Logger.Warn().Err(err).Str("path", m.path).Msg("git add failed; rule change not committed")
		return
	}
	if err := gitCommandRunner(dir, "commit", "-m", subject); err != nil {
		logging.Logger.Warn().Err(err).Str("path", m.path).Str("subject", subject).Msg("git commit failed; rule change left uncommitted")
	}
}

// AddRule validates, deduplicates, and persists a candidate rule.
// Rule registry mutations are strictly serialized within a process.
func (m *Manager) AddRule(ctx context.Context, text string, source types.RuleSource, sourceSessionIDs []string) error {
	_, err := m.addRule(ctx, text, source, sourceSessionIDs)
	return err
}

func (m *Manager) addRule(ctx context.Context, text string, source types.RuleSource, sourceSessionIDs []string) (AddResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return AddResult{Applied: false, Reason: "empty rule text"}, nil
	}

	active := m.activeLocked()

	if m.isDuplicate(text, active) {
		return AddResult{Applied: false, Reason: "Duplicate of existing rule"}, nil
	}

	if len(active) >= m.opts.MaxActiveRules {
		m.retireLeastReinforcedLocked()
	}

	valid, reason := m.validateRule(ctx, text, active)

	rule := types.Rule{
		ID:                 types.NewID(),
		Text:               text,
		Source:             source,
		ReinforcementCount: 0,
		CreatedAt:          timeNow(),
		LastReinforced:     timeNow(),
		SourceSessionIds:   sourceSessionIDs,
		Categories:         CategorizeRule(text),
	}

	if m.opts.ApprovalMode == "autonomous" && valid {
		rule.Status = types.RuleStatusActive
		m.rules = append(m.rules, rule)
		if err := m.save(); err != nil {
			return AddResult{}, err
		}
		m.commitChange(fmt.Sprintf("activate rule %s", rule.ID))
		if err := m.mirrorRule(ctx, rule); err != nil {
			return AddResult{Applied: true, Rule: &rule}, nil
		}
		return AddResult{Applied: true, Rule: &rule}, nil
	}

	rule.Status = types.RuleStatusProposed
	m.rules = append(m.rules, rule)
	if err := m.save(); err != nil {
		return AddResult{}, err
	}
	m.commitChange(fmt.Sprintf("propose rule %s", rule.ID))
	_ = m.writeStagedChange(rule, reason)

	return AddResult{Applied: false, Reason: reason, Rule: &rule}, nil
}

func (m *Manager) writeStagedChange(rule types.Rule, reason string) error {
	if m.stageDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.stageDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]any{
		"id":        rule.ID,
		"text":      rule.Text,
		"reason":    reason,
		"timestamp": timeNow(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.stageDir, rule.ID+".json"), data, 0o644)
}

// ApplyPending promotes every proposed rule that still passes
// validation, applying the same cap/dedup protocol as AddRule.
func (m *Manager) ApplyPending(ctx context.Context) (int, error) {
	m.mu.Lock()
	pending := make([]types.Rule, 0)
	for _, r := range m.rules {
		if r.Status == types.RuleStatusProposed {
			pending = append(pending, r)
		}
	}
	m.mu.Unlock()

	promoted := 0
	for _, r := range pending {
		m.mu.Lock()
		active := m.activeLocked()
		if m.isDuplicate(r.Text, active) {
			m.mu.Unlock()
			continue
		}
		valid, _ := m.validateRule(ctx, r.Text, active)
		if !valid {
			m.mu.Unlock()
			continue
		}
		if len(active) >= m.opts.MaxActiveRules {
			m.retireLeastReinforcedLocked()
		}
		for i := range m.rules {
			if m.rules[i].ID == r.ID {
				m.rules[i].Status = types.RuleStatusActive
				if err := m.save(); err == nil {
					m.commitChange(fmt.Sprintf("activate rule %s", r.ID))
					_ = m.mirrorRule(ctx, m.rules[i])
					promoted++
				}
				break
			}
		}
		m.mu.Unlock()
	}
	return promoted, nil
}

// Review enumerates rules grouped by status, for a human reader.
func (m *Manager) Review() map[types.RuleStatus][]types.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[types.RuleStatus][]types.Rule)
	for _, r := range m.rules {
		out[r.Status] = append(out[r.Status], r)
	}
	return out
}

// mirrorRule upserts a single active rule into the rules collection.
// Called right after a rule is activated, so its vector presence never
// lags its registry status by more than one write.
func (m *Manager) mirrorRule(ctx context.Context, r types.Rule) error {
	if err := m.store.EnsureCollection(ctx, vectorstore.CollectionRules); err != nil {
		return err
	}
	point, err := m.rulePoint(r)
	if err != nil {
		return err
	}
	return m.store.Upsert(ctx, vectorstore.CollectionRules, []vectorstore.Point{point})
}

func (m *Manager) rulePoint(r types.Rule) (vectorstore.Point, error) {
	vec, err := m.embedder.Embed(r.Text)
	if err != nil {
		return vectorstore.Point{}, err
	}
	return vectorstore.Point{
		ID:     r.ID,
		Vector: vec,
		Payload: map[string]any{
			"text":               r.Text,
			"status":             string(r.Status),
			"source":             string(r.Source),
			"categories":         r.Categories,
			"reinforcementCount": r.ReinforcementCount,
			"createdAt":          r.CreatedAt,
		},
	}, nil
}

// SyncRulesToQdrant bulk-mirrors every active rule into the rules
// collection, idempotently: re-running has the same observable effect
// as one call.
func (m *Manager) SyncRulesToQdrant(ctx context.Context) error {
	m.mu.Lock()
	active := m.activeLocked()
	m.mu.Unlock()

	if err := m.store.EnsureCollection(ctx, vectorstore.CollectionRules); err != nil {
		return err
	}

	points := make([]vectorstore.Point, 0, len(active))
	for _, r := range active {
		point, err := m.rulePoint(r)
		if err != nil {
			continue
		}
		points = append(points, point)
	}
	return m.store.Upsert(ctx, vectorstore.CollectionRules, points)
}

// validateRule asks the LLM to classify text as VALID/INVALID. LLM
// unavailability returns invalid with a reason that routes to staging
// rather than outright rejection (the caller still appends the rule as
// proposed).
func (m *Manager) validateRule(ctx context.Context, text string, existing []types.Rule) (bool, string) {
	if wordCount(text) > maxRuleWords {
		return false, fmt.Sprintf("exceeds %d words", maxRuleWords)
	}

	if m.llm == nil {
		return false, "llm unavailable; staged for review"
	}

	system := "Classify the candidate rule as VALID or INVALID. A rule is valid if it is specific, non-contradicting with the existing guidance listed below, coherent, and at most 50 words. Respond with VALID or INVALID followed by a one-sentence reason."
	resp, err := m.llm.Complete(ctx, "validate_rule", system, validationPrompt(text, existing))
	if err != nil {
		return false, "llm unavailable; staged for review"
	}

	upper := strings.ToUpper(strings.TrimSpace(resp))
	if strings.HasPrefix(upper, "VALID") {
		return true, strings.TrimSpace(resp)
	}
	return false, strings.TrimSpace(resp)
}

// validationPrompt lists existing active rule texts ahead of the
// candidate, so the LLM can actually judge "non-contradicting with
// existing guidance" instead of the candidate in isolation.
func validationPrompt(text string, existing []types.Rule) string {
	if len(existing) == 0 {
		return fmt.Sprintf("Existing rules: (none yet)\n\nCandidate rule:\n%s", text)
	}
	var sb strings.Builder
	sb.WriteString("Existing rules:\n")
	for _, r := range existing {
		sb.WriteString("- ")
		sb.WriteString(r.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCandidate rule:\n")
	sb.WriteString(text)
	return sb.String()
}

// IsDuplicate computes cosine similarity against every active rule; true
// iff any meets or exceeds DeduplicationSimilarity. Falls back to exact
// lowercase-trim text equality if embedding fails.
func (m *Manager) isDuplicate(text string, active []types.Rule) bool {
	vec, err := m.embedder.Embed(text)
	if err != nil {
		normalized := strings.ToLower(strings.TrimSpace(text))
		for _, r := range active {
			if strings.ToLower(strings.TrimSpace(r.Text)) == normalized {
				return true
			}
		}
		return false
	}

	for _, r := range active {
		rvec, err := m.embedder.Embed(r.Text)
		if err != nil {
			continue
		}
		if embedding.CosineSimilarity(vec, rvec) >= m.opts.DeduplicationSimilarity {
			return true
		}
	}
	return false
}

var categoryKeywords = map[string][]string{
	"git":          {"git", "commit", "branch", "merge", "rebase"},
	"typescript":   {"typescript", "tsx", "type-check", "interface"},
	"debugging":    {"debug", "breakpoint", "stack trace", "root cause"},
	"testing":      {"test", "assertion", "mock", "fixture", "coverage"},
	"architecture": {"architecture", "design pattern", "module boundary"},
	"config":       {"config", "environment variable", "flag", "yaml"},
	"security":     {"security", "auth", "credential", "secret", "vulnerability"},
	"planning":     {"plan", "scope", "estimate", "roadmap"},
	"deployment":   {"deploy", "release", "rollout", "ci/cd", "pipeline"},
}

// CategorizeRule is a pure keyword-regex classifier against a fixed
// category table; always returns a non-empty set, falling back to
// "general".
func CategorizeRule(text string) []string {
	lower := strings.ToLower(text)
	var cats []string
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				cats = append(cats, cat)
				break
			}
		}
	}
	if len(cats) == 0 {
		return []string{"general"}
	}
	sort.Strings(cats)
	return cats
}

// ActiveRules returns a snapshot of every active rule, for the
// reinforcement tracker to scan.
func (m *Manager) ActiveRules() []types.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// ApplyReinforcement increments a rule's reinforcement count and
// advances its lastReinforced timestamp. No-op, successfully, if the
// rule is no longer present (e.g. concurrently retired).
func (m *Manager) ApplyReinforcement(ruleID string, newHits int, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		if m.rules[i].ID == ruleID {
			m.rules[i].ReinforcementCount += newHits
			m.rules[i].LastReinforced = when
			if err := m.save(); err != nil {
				return err
			}
			m.commitChange(fmt.Sprintf("reinforce rule %s", ruleID))
			return nil
		}
	}
	return nil
}

// Retire transitions a rule to retired. Terminal: a retired rule never
// transitions again.
func (m *Manager) Retire(ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		if m.rules[i].ID == ruleID {
			m.rules[i].Status = types.RuleStatusRetired
			if err := m.save(); err != nil {
				return err
			}
			m.commitChange(fmt.Sprintf("retire rule %s", ruleID))
			return nil
		}
	}
	return nil
}

func (m *Manager) activeLocked() []types.Rule {
	var out []types.Rule
	for _, r := range m.rules {
		if r.Status == types.RuleStatusActive {
			out = append(out, r)
		}
	}
	return out
}

// retireLeastReinforcedLocked retires the least-reinforced active rule
// to make room under the cap. Must be called with m.mu held.
func (m *Manager) retireLeastReinforcedLocked() {
	leastIdx := -1
	for i, r := range m.rules {
		if r.Status != types.RuleStatusActive {
			continue
		}
		if leastIdx == -1 || r.ReinforcementCount < m.rules[leastIdx].ReinforcementCount {
			leastIdx = i
		}
	}
	if leastIdx >= 0 {
		m.rules[leastIdx].Status = types.RuleStatusRetired
	}
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

var timeNowFunc = time.Now

func timeNow() time.Time { return timeNowFunc() }
