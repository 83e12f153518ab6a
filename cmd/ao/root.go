package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentops-ai/ao/internal/logging"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ao",
	Short: "AgentOps Knowledge Compounding CLI",
	Long: `ao is the CLI for AgentOps, a self-improvement pipeline over a
coding assistant's own session transcripts.

"Problem in. Value out. Intelligence compounds."

Knowledge Pipeline (ao knowledge <subcommand>):
  ingest               Chunk, embed, and upsert session transcripts
  score                Rate chunk reusability (heuristic pre-filter + LLM)
  extract-insights     Draft candidate rules from scored chunks
  generate-reflections Summarize a session's outcome into the reflection log
  propose-skills       Draft reusable skill candidates from session chunks
  reinforce            Search for fresh evidence that active rules still apply
  prune                Retire stale, under-reinforced rules
  sync                 Push the rule registry into the vector store
  stats                Show collection counts and pipeline status

Other:
  version      Show version information
  completion   Generate shell completion scripts

Sessions compound: every ingested transcript feeds the same store,
so later runs see everything earlier runs already learned.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
		level := logging.InfoLevel
		if verbose {
			level = logging.DebugLevel
		}
		logging.Init(logging.Config{Level: level, Output: os.Stderr, Pretty: true})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.agentops/config.yaml)")
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool {
	return dryRun
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// GetConfigFile returns the config file path for use by subcommands.
func GetConfigFile() string {
	return cfgFile
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("AGENTOPS_CONFIG", path)
}

// GetCurrentUser returns the current system username.
// Uses os/user package for reliable identity, not spoofable via env vars.
func GetCurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
