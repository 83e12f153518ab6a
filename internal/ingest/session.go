// Package ingest walks session transcript files on disk, extracts
// speaker-tagged text, chunks it, embeds the chunks, and upserts them
// into the sessions collection, skipping sessions already ingested.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentops-ai/ao/internal/chunker"
	"github.com/agentops-ai/ao/internal/embedding"
	"github.com/agentops-ai/ao/internal/pipelineerrors"
	"github.com/agentops-ai/ao/internal/types"
	"github.com/agentops-ai/ao/internal/vectorstore"
)

const minMessageContentLen = 10

// rawMessage matches either documented session file shape: a bare
// {role, content} entry, or a wrapped {message: {role, content}, isMeta}.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	IsMeta bool `json:"isMeta"`
}

type sessionFile struct {
	Messages []rawMessage `json:"messages"`
}

// Summary reports what one Ingest call did.
type Summary struct {
	Processed int
	Skipped   int
	Errors    []string
}

// Ingestor embeds and upserts session transcripts into the sessions
// collection.
type Ingestor struct {
	Store    vectorstore.Store
	Embedder *embedding.Embedder
	Chunker  chunker.Options
}

// New builds an Ingestor with default chunking options.
func New(store vectorstore.Store, embedder *embedding.Embedder) *Ingestor {
	return &Ingestor{Store: store, Embedder: embedder, Chunker: chunker.DefaultOptions()}
}

// Options configures one Ingest call.
type Options struct {
	// Rebuild drops and recreates the sessions collection before
	// ingesting, so every file in dir is re-processed regardless of
	// what was previously ingested.
	Rebuild bool
	// BackupPath, if set and Rebuild is true, receives a JSON snapshot
	// of every point in the sessions collection before it is dropped.
	BackupPath string
}

// Ingest scrolls sessions once for already-ingested session ids, then
// processes every file in dir whose session id is new. It is idempotent
// at session granularity: rerunning over the same directory upserts
// nothing for files already represented in the sessions collection.
func (ig *Ingestor) Ingest(ctx context.Context, dir string) (Summary, error) {
	return ig.IngestWithOptions(ctx, dir, Options{})
}

// IngestWithOptions is Ingest with --rebuild/backup support.
func (ig *Ingestor) IngestWithOptions(ctx context.Context, dir string, opts Options) (Summary, error) {
	if opts.Rebuild {
		if opts.BackupPath != "" {
			if err := ig.backupSessions(ctx, opts.BackupPath); err != nil {
				return Summary{}, err
			}
		}
		if err := ig.Store.RecreateCollection(ctx, vectorstore.CollectionSessions); err != nil {
			return Summary{}, err
		}
	} else if err := ig.Store.EnsureCollection(ctx, vectorstore.CollectionSessions); err != nil {
		return Summary{}, err
	}

	seen, err := ig.ingestedSessionIDs(ctx)
	if err != nil {
		return Summary{}, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Summary{}, &pipelineerrors.ParseError{Source: dir, Err: err}
	}

	var summary Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(entry.Name(), ".json")
		if seen[sessionID] {
			summary.Skipped++
			continue
		}

		path := filepath.Join(dir, entry.Name())
		n, err := ig.ingestFile(ctx, sessionID, path)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sessionID, err))
			continue
		}
		if n > 0 {
			summary.Processed++
		} else {
			summary.Skipped++
		}
	}

	return summary, nil
}

// backupSessions writes every currently-stored session point to a
// timestamped JSON file under dir, so a --rebuild never discards
// already-embedded text irrecoverably when EMBEDDING_BACKUP_PATH is set.
func (ig *Ingestor) backupSessions(ctx context.Context, dir string) error {
	points, err := ig.Store.Scroll(ctx, vectorstore.CollectionSessions, nil, 0)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &pipelineerrors.ParseError{Source: dir, Err: err}
	}

	data, err := json.MarshalIndent(points, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("sessions-backup-%s.json", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &pipelineerrors.ParseError{Source: path, Err: err}
	}
	return nil
}

// ingestedSessionIDs performs the single session_id-only scroll the spec
// requires instead of a per-file existence check.
func (ig *Ingestor) ingestedSessionIDs(ctx context.Context) (map[string]bool, error) {
	ids, err := ig.Store.ListSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, sid := range ids {
		seen[sid] = true
	}
	return seen, nil
}

// ingestFile parses, chunks, embeds, and upserts one session file. It
// returns the number of chunks upserted.
func (ig *Ingestor) ingestFile(ctx context.Context, sessionID, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &pipelineerrors.ParseError{Source: path, Err: err}
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return 0, &pipelineerrors.ParseError{Source: path, Err: err}
	}

	text := extractText(sf.Messages)
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	chunks := chunker.Split(text, ig.Chunker)
	if len(chunks) == 0 {
		return 0, nil
	}

	points := make([]vectorstore.Point, 0, len(chunks))
	date := fileDate(path)
	for _, c := range chunks {
		sanitized := sanitizeText(c.Text)
		vec, err := ig.Embedder.Embed(sanitized)
		if err != nil {
			continue
		}
		tc := types.Chunk{SessionID: sessionID, ChunkIndex: c.Index, Text: sanitized, Date: date}
		points = append(points, vectorstore.Point{
			ID:     tc.ID(),
			Vector: vec,
			Payload: map[string]any{
				"session_id":    sessionID,
				"chunk_text":    sanitized,
				"date":          date,
				"chunk_index":   c.Index,
				"quality_score": nil,
				"pending_score": false,
			},
		})
	}

	if len(points) == 0 {
		return 0, nil
	}

	if err := ig.Store.Upsert(ctx, vectorstore.CollectionSessions, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// extractText concatenates non-meta message content with "[role]: "
// prefixes, dropping meta-tagged messages and those shorter than
// minMessageContentLen.
func extractText(messages []rawMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		role := m.Role
		content := m.Content
		if m.Message != nil {
			role = m.Message.Role
			content = m.Message.Content
		}
		if m.IsMeta {
			continue
		}

		text := stringifyContent(content)
		if len(text) < minMessageContentLen {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s", role, text))
	}
	return sb.String()
}

// stringifyContent returns content as a plain string, unwrapping a JSON
// string literal or stringifying any other JSON value.
func stringifyContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// sanitizeText replaces lone UTF-16 surrogate code units with U+FFFD.
func sanitizeText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if r == utf8.RuneError {
			sb.WriteRune('�')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func fileDate(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return info.ModTime().UTC().Format("2006-01-02")
}
