// Package config provides configuration management for AgentOps.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AGENTOPS_*)
// 3. Project config (.agentops/config.yaml in cwd)
// 4. Home config (~/.agentops/config.yaml)
// 5. Defaults
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ApprovalMode controls how validated rules are persisted.
type ApprovalMode string

const (
	// ApprovalAutonomous auto-applies validated, non-duplicate rules.
	ApprovalAutonomous ApprovalMode = "autonomous"
	// ApprovalProposeAndConfirm stages validated rules for human review.
	ApprovalProposeAndConfirm ApprovalMode = "propose-and-confirm"
	// ApprovalReviewOnly never persists anything.
	ApprovalReviewOnly ApprovalMode = "review-only"
)

// Config holds all AgentOps configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output"`

	// BaseDir is the AgentOps data directory (default: .agents/ao).
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Knowledge holds the self-improvement pipeline's enumerated config
	// (spec's Config record).
	Knowledge KnowledgeConfig `yaml:"knowledge" json:"knowledge"`
}

// KnowledgeConfig enumerates every option the knowledge pipeline reads.
type KnowledgeConfig struct {
	// ApprovalMode governs rule persistence (autonomous, propose-and-confirm, review-only).
	ApprovalMode ApprovalMode `yaml:"approval_mode" json:"approval_mode"`

	// MaxActiveRules is the hard cap on active rules.
	MaxActiveRules int `yaml:"max_active_rules" json:"max_active_rules"`

	// StalenessThresholdDays is the age without reinforcement before a rule
	// becomes eligible for retirement.
	StalenessThresholdDays int `yaml:"staleness_threshold_days" json:"staleness_threshold_days"`

	// MinReinforcementsToKeep is the minimum reinforcement count to survive
	// a staleness check; rules with >=10 are always exempt.
	MinReinforcementsToKeep int `yaml:"min_reinforcements_to_keep" json:"min_reinforcements_to_keep"`

	// NoveltyThreshold: mean similarity to top-3 sessions >= this means
	// "not novel".
	NoveltyThreshold float64 `yaml:"novelty_threshold" json:"novelty_threshold"`

	// QualityThresholdSuccess is the cutoff for "high-quality" chunks.
	QualityThresholdSuccess int `yaml:"quality_threshold_success" json:"quality_threshold_success"`

	// QualityThresholdFailure is the cutoff for "low-quality" chunks.
	QualityThresholdFailure int `yaml:"quality_threshold_failure" json:"quality_threshold_failure"`

	// DeduplicationSimilarity is the cosine-similarity cutoff above which a
	// new rule is rejected as a duplicate.
	DeduplicationSimilarity float64 `yaml:"deduplication_similarity" json:"deduplication_similarity"`

	// ReinforcementWindowDays bounds how recent a reinforcing hit must be.
	ReinforcementWindowDays int `yaml:"reinforcement_window_days" json:"reinforcement_window_days"`

	// ReinforcementScoreThreshold is the minimum similarity for a retained hit.
	ReinforcementScoreThreshold float64 `yaml:"reinforcement_score_threshold" json:"reinforcement_score_threshold"`

	// ReinforcementQualityMin filters candidate chunks by quality score.
	ReinforcementQualityMin int `yaml:"reinforcement_quality_min" json:"reinforcement_quality_min"`

	// ReinforcementSearchLimit is topK for the reinforcement vector search.
	ReinforcementSearchLimit int `yaml:"reinforcement_search_limit" json:"reinforcement_search_limit"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput  = "table"
	defaultBaseDir = ".agents/ao"
)

var errInvalidInt = errors.New("invalid integer value")

// DefaultKnowledgeConfig returns the pipeline's default configuration.
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		ApprovalMode:                ApprovalProposeAndConfirm,
		MaxActiveRules:              100,
		StalenessThresholdDays:      30,
		MinReinforcementsToKeep:     3,
		NoveltyThreshold:            0.85,
		QualityThresholdSuccess:     7,
		QualityThresholdFailure:     3,
		DeduplicationSimilarity:     0.90,
		ReinforcementWindowDays:     90,
		ReinforcementScoreThreshold: 0.75,
		ReinforcementQualityMin:     6,
		ReinforcementSearchLimit:    20,
	}
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:    defaultOutput,
		BaseDir:   defaultBaseDir,
		Verbose:   false,
		Knowledge: DefaultKnowledgeConfig(),
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentops", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("AGENTOPS_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".agentops", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("AGENTOPS_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("AGENTOPS_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if os.Getenv("AGENTOPS_VERBOSE") == "true" || os.Getenv("AGENTOPS_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("AGENTOPS_APPROVAL_MODE"); v != "" {
		cfg.Knowledge.ApprovalMode = ApprovalMode(v)
	}
	if v := os.Getenv("AGENTOPS_MAX_ACTIVE_RULES"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Knowledge.MaxActiveRules = n
		}
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.BaseDir != "" {
		dst.BaseDir = src.BaseDir
	}
	if src.Verbose {
		dst.Verbose = true
	}

	if src.Knowledge.ApprovalMode != "" {
		dst.Knowledge.ApprovalMode = src.Knowledge.ApprovalMode
	}
	if src.Knowledge.MaxActiveRules != 0 {
		dst.Knowledge.MaxActiveRules = src.Knowledge.MaxActiveRules
	}
	if src.Knowledge.StalenessThresholdDays != 0 {
		dst.Knowledge.StalenessThresholdDays = src.Knowledge.StalenessThresholdDays
	}
	if src.Knowledge.MinReinforcementsToKeep != 0 {
		dst.Knowledge.MinReinforcementsToKeep = src.Knowledge.MinReinforcementsToKeep
	}
	if src.Knowledge.NoveltyThreshold != 0 {
		dst.Knowledge.NoveltyThreshold = src.Knowledge.NoveltyThreshold
	}
	if src.Knowledge.QualityThresholdSuccess != 0 {
		dst.Knowledge.QualityThresholdSuccess = src.Knowledge.QualityThresholdSuccess
	}
	if src.Knowledge.QualityThresholdFailure != 0 {
		dst.Knowledge.QualityThresholdFailure = src.Knowledge.QualityThresholdFailure
	}
	if src.Knowledge.DeduplicationSimilarity != 0 {
		dst.Knowledge.DeduplicationSimilarity = src.Knowledge.DeduplicationSimilarity
	}
	if src.Knowledge.ReinforcementWindowDays != 0 {
		dst.Knowledge.ReinforcementWindowDays = src.Knowledge.ReinforcementWindowDays
	}
	if src.Knowledge.ReinforcementScoreThreshold != 0 {
		dst.Knowledge.ReinforcementScoreThreshold = src.Knowledge.ReinforcementScoreThreshold
	}
	if src.Knowledge.ReinforcementQualityMin != 0 {
		dst.Knowledge.ReinforcementQualityMin = src.Knowledge.ReinforcementQualityMin
	}
	if src.Knowledge.ReinforcementSearchLimit != 0 {
		dst.Knowledge.ReinforcementSearchLimit = src.Knowledge.ReinforcementSearchLimit
	}

	return dst
}

// parseIntEnv parses a base-10 integer from an environment variable value.
func parseIntEnv(v string) (int, error) {
	n := 0
	neg := false
	for i, r := range v {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0, errInvalidInt
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.agentops/config.yaml"
	SourceProject Source = ".agentops/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)
