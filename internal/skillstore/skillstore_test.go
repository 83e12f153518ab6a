package skillstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops-ai/ao/internal/types"
)

func TestSaveCandidateWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	c := types.SkillCandidate{Name: "retry-with-backoff", Description: "handle flaky retries", Body: "# SKILL\n...", Status: types.SkillCandidateProposed}
	require.NoError(t, store.SaveCandidate(ctx, c))

	data, err := os.ReadFile(filepath.Join(dir, "skill-candidates", "retry-with-backoff.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "retry-with-backoff")
}

func TestPromoteWritesSkillMDAndRemovesCandidate(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	c := types.SkillCandidate{Name: "retry-with-backoff", Description: "handle flaky retries", Body: "# SKILL\ninstructions here", Status: types.SkillCandidateProposed}
	require.NoError(t, store.SaveCandidate(ctx, c))

	c.Status = types.SkillCandidateApproved
	require.NoError(t, store.Promote(ctx, c))

	body, err := os.ReadFile(filepath.Join(dir, "skills", "retry-with-backoff", "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "# SKILL\ninstructions here", string(body))

	_, err = os.Stat(filepath.Join(dir, "skill-candidates", "retry-with-backoff.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestExistingSkillsReadsPromotedMeta(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	c := types.SkillCandidate{Name: "retry-with-backoff", Description: "handle flaky retries", Body: "# SKILL"}
	require.NoError(t, store.Promote(ctx, c))

	existing, err := store.ExistingSkills(ctx)
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, "retry-with-backoff", existing[0].Name)
}

func TestExistingSkillsEmptyWhenNoSkillsDir(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	existing, err := store.ExistingSkills(context.Background())
	require.NoError(t, err)
	assert.Empty(t, existing)
}
