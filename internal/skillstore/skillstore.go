// Package skillstore persists skill candidates and promoted skills to
// the workspace filesystem layout: pending candidates as
// skill-candidates/<name>.json, promoted skills as
// skills/<name>/SKILL.md.
package skillstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agentops-ai/ao/internal/pipelineerrors"
	"github.com/agentops-ai/ao/internal/types"
)

// Store implements skillgen.SkillStore against the workspace
// filesystem.
type Store struct {
	CandidatesDir string
	SkillsDir     string
}

// New builds a Store rooted at baseDir (the workspace's .agents/ao dir
// or equivalent), matching the spec's skill-candidates/ and skills/
// directories.
func New(baseDir string) *Store {
	return &Store{
		CandidatesDir: filepath.Join(baseDir, "skill-candidates"),
		SkillsDir:     filepath.Join(baseDir, "skills"),
	}
}

// ExistingSkills lists every promoted skill by reading each
// skills/<name>/SKILL.md's front-matter-derived JSON sidecar.
func (s *Store) ExistingSkills(_ context.Context) ([]types.SkillCandidate, error) {
	entries, err := os.ReadDir(s.SkillsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &pipelineerrors.RegistryIOError{Path: s.SkillsDir, Err: err}
	}

	var out []types.SkillCandidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metaPath := filepath.Join(s.SkillsDir, entry.Name(), "meta.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var c types.SkillCandidate
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveCandidate writes a pending candidate as
// skill-candidates/<name>.json, overwriting any existing file for the
// same name.
func (s *Store) SaveCandidate(_ context.Context, c types.SkillCandidate) error {
	if err := os.MkdirAll(s.CandidatesDir, 0o755); err != nil {
		return &pipelineerrors.RegistryIOError{Path: s.CandidatesDir, Err: err}
	}
	return writeAtomicJSON(filepath.Join(s.CandidatesDir, c.Name+".json"), c)
}

// Promote writes the candidate's full body as skills/<name>/SKILL.md
// plus a meta.json sidecar carrying its structured fields, and removes
// any pending candidate file for the same name.
func (s *Store) Promote(_ context.Context, c types.SkillCandidate) error {
	dir := filepath.Join(s.SkillsDir, c.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &pipelineerrors.RegistryIOError{Path: dir, Err: err}
	}

	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(c.Body), 0o644); err != nil {
		return &pipelineerrors.RegistryIOError{Path: dir, Err: err}
	}
	if err := writeAtomicJSON(filepath.Join(dir, "meta.json"), c); err != nil {
		return err
	}

	_ = os.Remove(filepath.Join(s.CandidatesDir, c.Name+".json"))
	return nil
}

func writeAtomicJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".skill-*.json.tmp")
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}
	return nil
}
