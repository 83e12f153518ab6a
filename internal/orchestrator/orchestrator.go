// Package orchestrator drives the pipeline's eight post-ingestion
// stages in sequence, isolating each behind an error boundary so one
// stage's failure never aborts the ones after it, and emits a timed
// summary table plus a dashboard-data.json snapshot.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/formatter"
	"github.com/agentops-ai/ao/internal/ingest"
	"github.com/agentops-ai/ao/internal/insight"
	"github.com/agentops-ai/ao/internal/ledger"
	"github.com/agentops-ai/ao/internal/llm"
	"github.com/agentops-ai/ao/internal/logging"
	"github.com/agentops-ai/ao/internal/reflection"
	"github.com/agentops-ai/ao/internal/reinforce"
	"github.com/agentops-ai/ao/internal/rules"
	"github.com/agentops-ai/ao/internal/scorer"
	"github.com/agentops-ai/ao/internal/skillgen"
	"github.com/agentops-ai/ao/internal/skillstore"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

// StageResult records one stage's name, duration, and outcome.
type StageResult struct {
	Name     string
	Duration time.Duration
	Err      error
	Summary  string
}

// Report is the full run's output: every stage's result plus the
// dashboard snapshot written to disk.
type Report struct {
	Stages    []StageResult
	Dashboard Dashboard
}

// Dashboard is the orchestrator summary persisted to
// visualizations/dashboard-data.json.
type Dashboard struct {
	RunID            string         `json:"run_id"`
	RanAt            time.Time      `json:"ran_at"`
	Stages           []StageSummary `json:"stages"`
	ActiveRules      int            `json:"active_rules"`
	ProposedRules    int            `json:"proposed_rules"`
	RetiredRules     int            `json:"retired_rules"`
	SessionsIngested int            `json:"sessions_ingested"`
}

// StageSummary is one stage's persisted outcome line.
type StageSummary struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	OK         bool   `json:"ok"`
	Detail     string `json:"detail,omitempty"`
}

// Deps bundles every collaborator the orchestrator's stages call into.
// All fields are required except LLM, which may be nil in review-only
// or offline contexts (stages that need it degrade to their documented
// fallback behavior).
type Deps struct {
	Store       vectorstore.Store
	Embedder    *embedding.Embedder
	LLM         *llm.Client
	Rules       *rules.Manager
	Reinforce   *reinforce.Tracker
	Reflections *ledger.Ledger
	Skills      *ledger.Ledger
	SkillStore  *skillstore.Store
	BaseDir     string

	QualityThresholdSuccess     int
	QualityThresholdFailure     int
	NoveltyThreshold            float64
	ApprovalMode                string
	ReinforcementSearchLimit    int
	ReinforcementQualityMin     int
	ReinforcementWindowDays     int
	ReinforcementScoreThreshold float64
	StalenessThresholdDays      int
	MinReinforcementsToKeep     int
}

// Options configures one Run call.
type Options struct {
	EmbedOnly  bool
	WorkDir    string
	IngestOnly bool
	// Rebuild drops and recreates the sessions collection before
	// ingesting (CLI: ingest --rebuild).
	Rebuild bool
	// BackupPath, set from EMBEDDING_BACKUP_PATH unless --no-backup,
	// snapshots the sessions collection before a rebuild drops it.
	BackupPath string
}

// Orchestrator drives the pipeline stages.
type Orchestrator struct {
	Deps Deps
}

// New builds an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{Deps: deps}
}

func completer(d Deps) llmCompleter {
	if d.LLM == nil {
		return nil
	}
	return d.LLM
}

type llmCompleter interface {
	Complete(ctx context.Context, op, system, user string) (string, error)
}

// Run executes ingestion, and then (unless EmbedOnly) stages 1-8 in
// sequence: score, extract-insights, generate-reflections,
// propose-skills, reinforce, prune, sync, dashboard.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Report, error) {
	var report Report

	ingestor := ingest.New(o.Deps.Store, o.Deps.Embedder)
	report.Stages = append(report.Stages, o.runStage("ingest", func() (string, error) {
		summary, err := ingestor.IngestWithOptions(ctx, opts.WorkDir, ingest.Options{
			Rebuild:    opts.Rebuild,
			BackupPath: opts.BackupPath,
		})
		return fmt.Sprintf("processed=%d skipped=%d", summary.Processed, summary.Skipped), err
	}))

	if opts.EmbedOnly {
		report.Dashboard = o.buildDashboard(report.Stages)
		_ = o.writeDashboard(report.Dashboard)
		return report, nil
	}

	report.Stages = append(report.Stages, o.runStage("score", func() (string, error) { return o.stageScore(ctx, scorer.Options{}) }))
	report.Stages = append(report.Stages, o.runStage("extract-insights", func() (string, error) { return o.stageExtractInsights(ctx) }))
	report.Stages = append(report.Stages, o.runStage("generate-reflections", func() (string, error) { return o.stageGenerateReflections(ctx) }))
	report.Stages = append(report.Stages, o.runStage("propose-skills", func() (string, error) { return o.stageProposeSkills(ctx) }))
	report.Stages = append(report.Stages, o.runStage("reinforce", func() (string, error) { return o.stageReinforce(ctx) }))
	report.Stages = append(report.Stages, o.runStage("prune", func() (string, error) { return o.stagePrune(ctx) }))
	report.Stages = append(report.Stages, o.runStage("sync", func() (string, error) { return o.stageSync(ctx) }))

	report.Dashboard = o.buildDashboard(report.Stages)
	report.Stages = append(report.Stages, o.runStage("dashboard", func() (string, error) {
		return "wrote dashboard-data.json", o.writeDashboard(report.Dashboard)
	}))

	return report, nil
}

// RunStage runs exactly one named stage (ingestion is not re-run), for
// CLI subcommands like `ao knowledge prune` that should do only what
// they say. name must be one of: score, extract-insights,
// generate-reflections, propose-skills, reinforce, prune, sync.
func (o *Orchestrator) RunStage(ctx context.Context, name string) (StageResult, error) {
	switch name {
	case "score":
		return o.runStage(name, func() (string, error) { return o.stageScore(ctx, scorer.Options{}) }), nil
	case "extract-insights":
		return o.runStage(name, func() (string, error) { return o.stageExtractInsights(ctx) }), nil
	case "generate-reflections":
		return o.runStage(name, func() (string, error) { return o.stageGenerateReflections(ctx) }), nil
	case "propose-skills":
		return o.runStage(name, func() (string, error) { return o.stageProposeSkills(ctx) }), nil
	case "reinforce":
		return o.runStage(name, func() (string, error) { return o.stageReinforce(ctx) }), nil
	case "prune":
		return o.runStage(name, func() (string, error) { return o.stagePrune(ctx) }), nil
	case "sync":
		return o.runStage(name, func() (string, error) { return o.stageSync(ctx) }), nil
	default:
		return StageResult{}, fmt.Errorf("unknown stage %q", name)
	}
}

func (o *Orchestrator) stageScore(ctx context.Context, opts scorer.Options) (string, error) {
	sc := scorer.New(o.Deps.Store, o.Deps.LLM)
	summary, err := sc.Score(ctx, opts)
	return fmt.Sprintf("heuristic=%d llm=%d pending=%d", summary.HeuristicScored, summary.LLMScored, summary.Pending), err
}

func (o *Orchestrator) stageExtractInsights(ctx context.Context) (string, error) {
	if completer(o.Deps) == nil {
		return "skipped: no LLM configured", nil
	}
	ins := insight.New(o.Deps.Store, completer(o.Deps), o.Deps.Rules)
	n, err := ins.Extract(ctx, insight.Options{
		QualityThresholdSuccess: o.Deps.QualityThresholdSuccess,
		QualityThresholdFailure: o.Deps.QualityThresholdFailure,
	})
	return fmt.Sprintf("proposed=%d", n), err
}

func (o *Orchestrator) stageGenerateReflections(ctx context.Context) (string, error) {
	if completer(o.Deps) == nil {
		return "skipped: no LLM configured", nil
	}
	n, err := o.generateReflections(ctx)
	return fmt.Sprintf("reflections=%d", n), err
}

func (o *Orchestrator) stageProposeSkills(ctx context.Context) (string, error) {
	if completer(o.Deps) == nil {
		return "skipped: no LLM configured", nil
	}
	n, err := o.proposeSkills(ctx)
	return fmt.Sprintf("candidates=%d", n), err
}

func (o *Orchestrator) stageReinforce(ctx context.Context) (string, error) {
	result, err := o.Deps.Reinforce.Reinforce(ctx, time.Now(), o.reinforceOptions())
	return fmt.Sprintf("reinforced=%d hits=%d", result.RulesReinforced, result.TotalHits), err
}

func (o *Orchestrator) stagePrune(ctx context.Context) (string, error) {
	result, err := o.Deps.Reinforce.Prune(ctx, time.Now(), o.reinforceOptions())
	return fmt.Sprintf("retired=%d aging=%d", result.Retired, result.Aging), err
}

func (o *Orchestrator) stageSync(ctx context.Context) (string, error) {
	err := o.Deps.Rules.SyncRulesToQdrant(ctx)
	return "synced active rules", err
}

func (o *Orchestrator) reinforceOptions() reinforce.Options {
	return reinforce.Options{
		ReinforcementSearchLimit:    o.Deps.ReinforcementSearchLimit,
		ReinforcementQualityMin:     o.Deps.ReinforcementQualityMin,
		ReinforcementWindowDays:     o.Deps.ReinforcementWindowDays,
		ReinforcementScoreThreshold: o.Deps.ReinforcementScoreThreshold,
		StalenessThresholdDays:      o.Deps.StalenessThresholdDays,
		MinReinforcementsToKeep:     o.Deps.MinReinforcementsToKeep,
	}
}

// runStage wraps fn in the per-stage error boundary: the stage's error
// is captured in the result, never propagated, so later stages still
// run.
func (o *Orchestrator) runStage(name string, fn func() (string, error)) StageResult {
	log := logging.Stage(name)
	log.Debug().Msg("stage started")

	start := time.Now()
	summary, err := fn()
	result := StageResult{Name: name, Duration: time.Since(start), Err: err, Summary: summary}

	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.Dur("duration", result.Duration).Str("detail", summary).Msg("stage finished")

	return result
}

func (o *Orchestrator) buildDashboard(stages []StageResult) Dashboard {
	d := Dashboard{RunID: uuid.NewString(), RanAt: time.Now()}
	for _, s := range stages {
		d.Stages = append(d.Stages, StageSummary{
			Name:       s.Name,
			DurationMS: s.Duration.Milliseconds(),
			OK:         s.Err == nil,
			Detail:     s.Summary,
		})
	}

	if o.Deps.Rules != nil {
		byStatus := o.Deps.Rules.Review()
		d.ActiveRules = len(byStatus[types.RuleStatusActive])
		d.ProposedRules = len(byStatus[types.RuleStatusProposed])
		d.RetiredRules = len(byStatus[types.RuleStatusRetired])
	}

	ctx := context.Background()
	if o.Deps.Store != nil {
		if count, err := o.Deps.Store.Count(ctx, vectorstore.CollectionSessions, nil); err == nil {
			d.SessionsIngested = count
		}
	}

	return d
}

func (o *Orchestrator) writeDashboard(d Dashboard) error {
	path := filepath.Join(o.Deps.BaseDir, "visualizations", "dashboard-data.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var messageLinePattern = regexp.MustCompile(`(?s)^\[([^\]]+)\]:\s(.*)$`)

// sessionChunks groups every chunk in the sessions collection by
// session id, sorted by chunk index, and reports each session's mean
// quality score (chunks without a score are excluded from the mean).
func (o *Orchestrator) sessionChunks(ctx context.Context) (map[string][]vectorstore.Point, map[string]float64, error) {
	points, err := o.Deps.Store.Scroll(ctx, vectorstore.CollectionSessions, nil, 0)
	if err != nil {
		return nil, nil, err
	}

	bySession := make(map[string][]vectorstore.Point)
	for _, p := range points {
		sid, _ := p.Payload["session_id"].(string)
		bySession[sid] = append(bySession[sid], p)
	}

	avgQuality := make(map[string]float64)
	for sid, chunks := range bySession {
		sort.Slice(chunks, func(i, j int) bool {
			ii, _ := payloadFloat(chunks[i].Payload["chunk_index"])
			jj, _ := payloadFloat(chunks[j].Payload["chunk_index"])
			return ii < jj
		})
		bySession[sid] = chunks

		sum, n := 0.0, 0
		for _, c := range chunks {
			if q, ok := payloadFloat(c.Payload["quality_score"]); ok {
				sum += q
				n++
			}
		}
		if n > 0 {
			avgQuality[sid] = sum / float64(n)
		}
	}

	return bySession, avgQuality, nil
}

// payloadFloat reads a numeric payload field regardless of whether the
// store kept it as a Go int (MemoryStore, no JSON round-trip) or
// unmarshaled it as a float64 (Qdrant, JSON-shaped payload values).
func payloadFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// chunkToMessages splits a chunk's "[role]: content" lines back into
// discrete messages for signal detection.
func chunkToMessages(text string) []reflection.Message {
	var out []reflection.Message
	for _, line := range strings.Split(text, "\n") {
		if m := messageLinePattern.FindStringSubmatch(line); m != nil {
			out = append(out, reflection.Message{Role: m[1], Content: m[2]})
		}
	}
	return out
}

func (o *Orchestrator) generateReflections(ctx context.Context) (int, error) {
	bySession, _, err := o.sessionChunks(ctx)
	if err != nil {
		return 0, err
	}

	gen := reflection.New(o.Deps.Store, o.Deps.Embedder, completer(o.Deps), o.Deps.Rules, o.Deps.Reflections)

	total := 0
	for sid, chunks := range bySession {
		var messages []reflection.Message
		for _, c := range chunks {
			text, _ := c.Payload["chunk_text"].(string)
			messages = append(messages, chunkToMessages(text)...)
		}
		refls, err := gen.Generate(ctx, sid, messages)
		if err != nil {
			continue
		}
		total += len(refls)
	}
	return total, nil
}

func (o *Orchestrator) proposeSkills(ctx context.Context) (int, error) {
	bySession, avgQuality, err := o.sessionChunks(ctx)
	if err != nil {
		return 0, err
	}

	gen := skillgen.New(o.Deps.Store, o.Deps.Embedder, completer(o.Deps), o.Deps.SkillStore, o.Deps.Skills)
	opts := skillgen.Options{
		QualityThresholdSuccess: o.Deps.QualityThresholdSuccess,
		NoveltyThreshold:        o.Deps.NoveltyThreshold,
		ApprovalMode:            o.Deps.ApprovalMode,
	}

	total := 0
	for sid, chunks := range bySession {
		texts := make([]string, 0, len(chunks))
		for _, c := range chunks {
			if text, ok := c.Payload["chunk_text"].(string); ok {
				texts = append(texts, text)
			}
		}
		_, produced, err := gen.Generate(ctx, sid, texts, avgQuality[sid], opts)
		if err != nil {
			continue
		}
		if produced {
			total++
		}
	}
	return total, nil
}

// WriteSummaryTable renders every stage's outcome as a table, in the
// teacher's tabwriter style.
func WriteSummaryTable(w io.Writer, stages []StageResult) {
	t := formatter.NewTable(w, "STAGE", "DURATION", "STATUS", "DETAIL")
	for _, s := range stages {
		status := "ok"
		if s.Err != nil {
			status = "error: " + s.Err.Error()
		}
		t.AddRow(s.Name, s.Duration.Round(time.Millisecond).String(), status, s.Summary)
	}
	_ = t.Render()
}
