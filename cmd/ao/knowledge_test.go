package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops-ai/ao/internal/config"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

func testConfig(t *testing.T, baseDir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = baseDir
	return cfg
}

func TestBuildOrchestratorUsesMemoryStoreWithoutQdrantAddr(t *testing.T) {
	oldAddr := knowledgeQdrantAddr
	knowledgeQdrantAddr = ""
	t.Cleanup(func() { knowledgeQdrantAddr = oldAddr })

	o, err := buildOrchestrator(testConfig(t, t.TempDir()))
	require.NoError(t, err)

	_, ok := o.Deps.Store.(*vectorstore.MemoryStore)
	assert.True(t, ok, "expected an in-process MemoryStore when no qdrant address is configured")
}

func TestWrapCompleterReturnsGenuineNilInterface(t *testing.T) {
	c := wrapCompleter(nil)
	assert.Nil(t, c)
	assert.True(t, c == nil, "wrapCompleter(nil) must be a genuine nil interface, not a typed nil")
}

func TestDefaultSessionsDirHonorsWorkspaceRoot(t *testing.T) {
	t.Setenv("WORKSPACE_ROOT", "/tmp/workspace")
	assert.Equal(t, filepath.Join("/tmp/workspace", "logs", "sessions"), defaultSessionsDir())
}

func TestDefaultSessionsDirFallsBackToCwd(t *testing.T) {
	t.Setenv("WORKSPACE_ROOT", "")
	assert.Equal(t, filepath.Join(".", "logs", "sessions"), defaultSessionsDir())
}

func TestRunKnowledgeStageRunsOnlyNamedStage(t *testing.T) {
	base := t.TempDir()
	t.Setenv("AGENTOPS_BASE_DIR", base)
	oldAddr := knowledgeQdrantAddr
	knowledgeQdrantAddr = ""
	t.Cleanup(func() { knowledgeQdrantAddr = oldAddr })

	cmd := knowledgeCmd
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())

	run := runKnowledgeStage("sync")
	err := run(cmd, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "sync:")
}

func TestRunKnowledgeStatsReportsCollectionCounts(t *testing.T) {
	base := t.TempDir()
	t.Setenv("AGENTOPS_BASE_DIR", base)
	oldAddr := knowledgeQdrantAddr
	knowledgeQdrantAddr = ""
	t.Cleanup(func() { knowledgeQdrantAddr = oldAddr })

	cmd := knowledgeCmd
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())

	require.NoError(t, runKnowledgeStats(cmd, nil))
	assert.Contains(t, buf.String(), "sessions:")
	assert.Contains(t, buf.String(), "rules:")
}

func TestRunKnowledgeIngestRebuildWritesBackup(t *testing.T) {
	base := t.TempDir()
	backupDir := filepath.Join(base, "backups")
	sessionsDir := filepath.Join(base, "logs", "sessions")
	require.NoError(t, os.MkdirAll(sessionsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionsDir, "session-1.json"), []byte(`{
  "messages": [
    {"role": "user", "content": "Why does the deploy pipeline keep stalling on the build step?"},
    {"role": "assistant", "content": "The build cache was stale; clearing it resolved the hang."}
  ]
}`), 0o644))

	t.Setenv("AGENTOPS_BASE_DIR", base)
	t.Setenv("WORKSPACE_ROOT", base)
	t.Setenv("EMBEDDING_BACKUP_PATH", backupDir)
	oldAddr := knowledgeQdrantAddr
	knowledgeQdrantAddr = ""
	t.Cleanup(func() { knowledgeQdrantAddr = oldAddr })

	oldRebuild, oldNoBackup := knowledgeRebuild, knowledgeNoBackup
	knowledgeRebuild, knowledgeNoBackup = false, false
	t.Cleanup(func() { knowledgeRebuild, knowledgeNoBackup = oldRebuild, oldNoBackup })

	cmd := knowledgeCmd
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())

	require.NoError(t, runKnowledgeIngest(cmd, nil))

	knowledgeRebuild = true
	require.NoError(t, runKnowledgeIngest(cmd, nil))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
