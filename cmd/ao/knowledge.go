package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentops-ai/ao/internal/config"
	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/ledger"
	"github.com/agentops-ai/ao/internal/llm"
	"github.com/agentops-ai/ao/internal/orchestrator"
	"github.com/agentops-ai/ao/internal/reinforce"
	"github.com/agentops-ai/ao/internal/rules"
	"github.com/agentops-ai/ao/internal/scorer"
	"github.com/agentops-ai/ao/internal/skillstore"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

var (
	knowledgeEmbedOnly  bool
	knowledgeRebuild    bool
	knowledgeNoBackup   bool
	knowledgeSessionID  string
	knowledgeRescore    bool
	knowledgePending    bool
	knowledgeQdrantAddr string
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Run the self-improvement pipeline over session transcripts",
	Long: `knowledge ingests session transcripts into semantic memory and
compounds them into reusable rules, reflections, and skill candidates.

Stages:
  ingest               Chunk, embed, and store raw session transcripts
  stats                Show collection and rule-lifecycle counts
  score                Assign reusability scores to unscored chunks
  extract-insights     Propose rules from high/low quality evidence
  generate-reflections Summarize sessions with failure signals
  propose-skills       Draft skill candidates from high-quality sessions
  reinforce            Search for fresh evidence an active rule still applies
  prune                Retire stale, under-reinforced rules
  sync                 Re-mirror active rules into the rules collection`,
}

func init() {
	rootCmd.AddCommand(knowledgeCmd)

	knowledgeCmd.PersistentFlags().StringVar(&knowledgeQdrantAddr, "qdrant-addr", "", "Qdrant gRPC address (default: in-memory store)")

	ingestCmd := &cobra.Command{
		Use:   "ingest [<dir>]",
		Short: "Chunk, embed, and store session transcripts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runKnowledgeIngest,
	}
	ingestCmd.Flags().BoolVar(&knowledgeEmbedOnly, "embed-only", false, "Ingest only; skip scoring and every downstream stage")
	ingestCmd.Flags().BoolVar(&knowledgeRebuild, "rebuild", false, "Drop and recreate the sessions collection, re-ingesting every file")
	ingestCmd.Flags().BoolVar(&knowledgeNoBackup, "no-backup", false, "Skip the pre-rebuild sessions snapshot to EMBEDDING_BACKUP_PATH")
	knowledgeCmd.AddCommand(ingestCmd)

	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show collection sizes and rule-lifecycle counts",
		RunE:  runKnowledgeStats,
	})

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Assign reusability scores to unscored chunks",
		RunE:  runKnowledgeScore,
	}
	scoreCmd.Flags().StringVar(&knowledgeSessionID, "session", "", "Limit to one session")
	scoreCmd.Flags().BoolVar(&knowledgeRescore, "rescore", false, "Rescore chunks that already have a score")
	scoreCmd.Flags().BoolVar(&knowledgePending, "pending", false, "Mark matching chunks pending instead of scoring them")
	knowledgeCmd.AddCommand(scoreCmd)

	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "extract-insights",
		Short: "Propose rules from scored session evidence",
		RunE:  runKnowledgeStage("extract-insights"),
	})
	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "generate-reflections",
		Short: "Summarize sessions that show a failure signal",
		RunE:  runKnowledgeStage("generate-reflections"),
	})
	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "propose-skills",
		Short: "Draft skill candidates from high-quality sessions",
		RunE:  runKnowledgeStage("propose-skills"),
	})
	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "reinforce",
		Short: "Search for fresh evidence that active rules still apply",
		RunE:  runKnowledgeStage("reinforce"),
	})
	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Retire stale, under-reinforced rules",
		RunE:  runKnowledgeStage("prune"),
	})
	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Re-mirror active rules into the rules collection",
		RunE:  runKnowledgeStage("sync"),
	})
}

// processMemoryStore is the one in-process store shared by every command
// run in this process when no Qdrant address is set, so a later command
// (e.g. ingest --rebuild) sees the points an earlier one wrote.
var processMemoryStore = vectorstore.NewMemoryStore()

// buildOrchestrator wires every collaborator from the resolved config.
// The vector store is Qdrant when --qdrant-addr (or QDRANT_URL) is set,
// otherwise the process-wide in-process MemoryStore — enough to run the
// full pipeline locally without a running Qdrant instance.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	addr := knowledgeQdrantAddr
	if addr == "" {
		addr = os.Getenv("QDRANT_URL")
	}

	var store vectorstore.Store
	if addr != "" {
		qs, err := vectorstore.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dial qdrant at %s: %w", addr, err)
		}
		store = qs
	} else {
		store = processMemoryStore
	}

	embedder := embedding.New()

	var client *llm.Client
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		client = llm.New(key)
	}

	baseDir := cfg.BaseDir
	rulesManager, err := rules.NewManager(
		filepath.Join(baseDir, "rules.json"),
		filepath.Join(baseDir, "staged"),
		store, embedder, wrapCompleter(client),
		rules.Options{
			ApprovalMode:            string(cfg.Knowledge.ApprovalMode),
			MaxActiveRules:          cfg.Knowledge.MaxActiveRules,
			DeduplicationSimilarity: cfg.Knowledge.DeduplicationSimilarity,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("load rule registry: %w", err)
	}

	reflectionsLedger, err := ledger.Open(filepath.Join(baseDir, "reflection-state.json"))
	if err != nil {
		return nil, fmt.Errorf("open reflection ledger: %w", err)
	}
	skillsLedger, err := ledger.Open(filepath.Join(baseDir, "skill-state.json"))
	if err != nil {
		return nil, fmt.Errorf("open skill ledger: %w", err)
	}

	deps := orchestrator.Deps{
		Store:       store,
		Embedder:    embedder,
		LLM:         client,
		Rules:       rulesManager,
		Reinforce:   reinforce.New(store, rulesManager, embedder),
		Reflections: reflectionsLedger,
		Skills:      skillsLedger,
		SkillStore:  skillstore.New(baseDir),
		BaseDir:     baseDir,

		QualityThresholdSuccess:     cfg.Knowledge.QualityThresholdSuccess,
		QualityThresholdFailure:     cfg.Knowledge.QualityThresholdFailure,
		NoveltyThreshold:            cfg.Knowledge.NoveltyThreshold,
		ApprovalMode:                string(cfg.Knowledge.ApprovalMode),
		ReinforcementSearchLimit:    cfg.Knowledge.ReinforcementSearchLimit,
		ReinforcementQualityMin:     cfg.Knowledge.ReinforcementQualityMin,
		ReinforcementWindowDays:     cfg.Knowledge.ReinforcementWindowDays,
		ReinforcementScoreThreshold: cfg.Knowledge.ReinforcementScoreThreshold,
		StalenessThresholdDays:      cfg.Knowledge.StalenessThresholdDays,
		MinReinforcementsToKeep:     cfg.Knowledge.MinReinforcementsToKeep,
	}

	return orchestrator.New(deps), nil
}

// wrapCompleter adapts a possibly-nil *llm.Client to rules.Completer,
// returning a genuine nil interface (not a typed nil) when there is no
// client, matching orchestrator.completer's same concern.
func wrapCompleter(c *llm.Client) rules.Completer {
	if c == nil {
		return nil
	}
	return c
}

func loadKnowledgeConfig() (*config.Config, error) {
	return config.Load(&config.Config{Verbose: GetVerbose()})
}

func runKnowledgeIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadKnowledgeConfig()
	if err != nil {
		return err
	}

	o, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	workDir := defaultSessionsDir()
	if len(args) == 1 {
		workDir = args[0]
	}

	backupPath := ""
	if !knowledgeNoBackup {
		backupPath = os.Getenv("EMBEDDING_BACKUP_PATH")
	}

	report, err := o.Run(cmd.Context(), orchestrator.Options{
		EmbedOnly:  knowledgeEmbedOnly,
		WorkDir:    workDir,
		Rebuild:    knowledgeRebuild,
		BackupPath: backupPath,
	})
	if err != nil {
		return err
	}

	orchestrator.WriteSummaryTable(cmd.OutOrStdout(), report.Stages)
	return nil
}

// defaultSessionsDir resolves the session-transcript directory, honoring
// WORKSPACE_ROOT when the caller gives no explicit path.
func defaultSessionsDir() string {
	root := os.Getenv("WORKSPACE_ROOT")
	if root == "" {
		root = "."
	}
	return filepath.Join(root, "logs", "sessions")
}

// runKnowledgeStage builds a closure that runs exactly the named stage
// (no re-ingestion, no other stages), matching spec.md's "each subcommand
// runs one stage" CLI surface.
func runKnowledgeStage(stage string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadKnowledgeConfig()
		if err != nil {
			return err
		}

		o, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		result, err := o.RunStage(cmd.Context(), stage)
		if err != nil {
			return err
		}
		if result.Err != nil {
			return fmt.Errorf("%s: %w", stage, result.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", result.Name, result.Summary, result.Duration.Round(time.Millisecond))
		return nil
	}
}

// runKnowledgeScore runs the score stage directly, rather than through
// the single-stage helper runKnowledgeStage, so --session/--rescore/--pending
// take effect (the stage helper always runs scorer.Options{}).
func runKnowledgeScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadKnowledgeConfig()
	if err != nil {
		return err
	}

	o, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	sc := scorer.New(o.Deps.Store, o.Deps.LLM)
	summary, err := sc.Score(cmd.Context(), scorer.Options{
		SessionID: knowledgeSessionID,
		Rescore:   knowledgeRescore,
		Pending:   knowledgePending,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "heuristic=%d llm=%d pending=%d errors=%d\n",
		summary.HeuristicScored, summary.LLMScored, summary.Pending, summary.BatchErrors)
	return nil
}

func runKnowledgeStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadKnowledgeConfig()
	if err != nil {
		return err
	}

	o, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	sessions, _ := o.Deps.Store.Count(ctx, vectorstore.CollectionSessions, nil)
	reflections, _ := o.Deps.Store.Count(ctx, vectorstore.CollectionReflections, nil)
	rulesCount, _ := o.Deps.Store.Count(ctx, vectorstore.CollectionRules, nil)
	byStatus := o.Deps.Rules.Review()

	fmt.Fprintf(cmd.OutOrStdout(), "sessions:    %d chunks\n", sessions)
	fmt.Fprintf(cmd.OutOrStdout(), "reflections: %d\n", reflections)
	fmt.Fprintf(cmd.OutOrStdout(), "rules:       %d mirrored\n", rulesCount)
	for status, rs := range byStatus {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %d\n", status, len(rs))
	}
	return nil
}
