// Package ledger implements the ProcessingLedger: an at-most-once gate,
// one JSON file per pipeline stage (reflection-state.json,
// skill-state.json), recording which sessions have already been
// considered so a stage is never re-run against the same session.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentops-ai/ao/internal/pipelineerrors"
	"github.com/agentops-ai/ao/internal/types"
)

// Ledger is a single-writer, atomically-persisted map of session id to
// LedgerEntry, backing one stage's processing record.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries map[string]types.LedgerEntry
}

// Open loads (or initializes) the ledger at path.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]types.LedgerEntry)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, &pipelineerrors.RegistryIOError{Path: path, Err: err}
	}
	return l, nil
}

// Seen reports whether sessionID has already been recorded.
func (l *Ledger) Seen(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[sessionID]
	return ok
}

// MarkSeen records sessionID as processed, producing an artifact.
// Idempotent: marking an already-seen session again is a no-op.
func (l *Ledger) MarkSeen(sessionID string) error {
	return l.markSeen(sessionID, true)
}

// MarkSeenEmpty records sessionID as considered but producing no
// artifact, for callers that distinguish the two in reporting.
func (l *Ledger) MarkSeenEmpty(sessionID string) error {
	return l.markSeen(sessionID, false)
}

func (l *Ledger) markSeen(sessionID string, producedArtifact bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[sessionID]; ok {
		return nil
	}

	l.entries[sessionID] = types.LedgerEntry{
		SessionID:        sessionID,
		ProcessedAt:      time.Now(),
		ProducedArtifact: producedArtifact,
	}
	return l.save()
}

// save writes the ledger atomically: temp file in the same directory,
// then rename, mirroring the rule registry's persistence idiom.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: l.path, Err: err}
	}

	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &pipelineerrors.RegistryIOError{Path: l.path, Err: err}
		}
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.json.tmp")
	if err != nil {
		return &pipelineerrors.RegistryIOError{Path: l.path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: l.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: l.path, Err: err}
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return &pipelineerrors.RegistryIOError{Path: l.path, Err: err}
	}
	return nil
}
