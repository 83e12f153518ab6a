package types

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"
)

// EmbeddingDim is the fixed dimensionality for every vector stored or
// searched by the pipeline. The source material mentions 768 in a few
// stale paths; 384 is the only dimension this implementation ever
// produces or accepts.
const EmbeddingDim = 384

// Chunk is a bounded fragment of a session transcript, identified by
// (SessionID, ChunkIndex). Immutable once written except for the score
// fields, which the QualityScorer patches in place.
type Chunk struct {
	// SessionID is the owning session's identifier.
	SessionID string `json:"session_id"`

	// ChunkIndex is the 0-based, contiguous position within the session.
	ChunkIndex int `json:"chunk_index"`

	// Text is the UTF-8, surrogate-sanitized chunk content.
	Text string `json:"chunk_text"`

	// Date is the ISO-8601 date the source session occurred.
	Date string `json:"date"`

	// Embedding is the 384-dim L2-normalized vector, nil until embedded.
	Embedding []float32 `json:"-"`

	// QualityScore is 0-10, nil until scored.
	QualityScore *int `json:"quality_score,omitempty"`

	// PendingScore marks a chunk deferred from scoring (fast-shutdown mode).
	PendingScore bool `json:"pending_score"`
}

// ID returns the stable point identity the VectorStore keys on.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d", c.SessionID, c.ChunkIndex)
}

// RuleSource identifies how a rule entered the registry.
type RuleSource string

const (
	RuleSourceInsight    RuleSource = "insight-extraction"
	RuleSourceReflection RuleSource = "reflection"
	RuleSourceManual     RuleSource = "manual"
)

// RuleStatus is the lifecycle stage of a Rule.
type RuleStatus string

const (
	RuleStatusProposed RuleStatus = "proposed"
	RuleStatusActive   RuleStatus = "active"
	RuleStatusStale    RuleStatus = "stale"
	RuleStatusRetired  RuleStatus = "retired"
)

// Rule is a short, actionable guideline surfaced back into the assistant's
// context. Lifecycle: proposed -> active -> (stale) -> retired. Retired is
// terminal.
type Rule struct {
	// ID is an 8-char alphanumeric identifier, unique within a process.
	ID string `json:"id"`

	// Text is the rule body, non-empty, target <= 50 words.
	Text string `json:"text"`

	// Source records how this rule was produced.
	Source RuleSource `json:"source"`

	// Status is the current lifecycle stage.
	Status RuleStatus `json:"status"`

	// ReinforcementCount is non-negative and never decreases.
	ReinforcementCount int `json:"reinforcement_count"`

	// CreatedAt is when the rule was first added to the registry.
	CreatedAt time.Time `json:"created_at"`

	// LastReinforced is updated whenever a reinforcement scan retains a hit.
	LastReinforced time.Time `json:"last_reinforced"`

	// SourceSessionIds is the ordered list of sessions that produced or
	// were excluded from reinforcing this rule.
	SourceSessionIds []string `json:"source_session_ids"`

	// Categories is a set of keyword tags derived from Text.
	Categories []string `json:"categories"`

	// --- adapted from the teacher's CASS maturity system (ol-cass) ---
	// Maturity holds one of the Maturity labels below. No code in this
	// module computes, sets or reports it; it round-trips through
	// rules.json as stored and never gates lifecycle transitions.
	Maturity Maturity `json:"maturity,omitempty"`

	// --- adapted from the teacher's supersession chain (ol-a46.1.4) ---
	// SupersededBy and Supersedes name the replacing and the replaced rule
	// ids. No code in this module sets them: addRule rejects a duplicate
	// outright and leaves the existing rule unchanged. They round-trip
	// through rules.json as stored.
	SupersededBy string `json:"superseded_by,omitempty"`
	Supersedes   string `json:"supersedes,omitempty"`
}

// Maturity mirrors the teacher's CASS lifecycle labels, repurposed to
// describe rule reinforcement health rather than candidate promotion.
type Maturity string

const (
	MaturityProvisional Maturity = "provisional"
	MaturityEstablished Maturity = "established"
	MaturityAging       Maturity = "aging"
)

// Reflection is a root-cause note extracted from a detected failure
// signal in one session.
type Reflection struct {
	ID                 string `json:"id"`
	SessionID          string `json:"session_id"`
	Date               string `json:"date"`
	FailureDescription string `json:"failure_description"`
	RootCause          string `json:"root_cause"`
	ReflectionText     string `json:"reflection"`
	PreventionRule     string `json:"prevention_rule"`
	QualityScore       int    `json:"quality_score"`
}

// ReflectionID builds the derived, non-collidable identifier for the
// ordinal-th reflection produced within a session.
func ReflectionID(sessionID string, ordinal int) string {
	return fmt.Sprintf("reflection-%s-%d", sessionID, ordinal)
}

// SkillCandidateStatus is the review state of a proposed skill.
type SkillCandidateStatus string

const (
	SkillCandidateProposed SkillCandidateStatus = "proposed"
	SkillCandidateApproved SkillCandidateStatus = "approved"
	SkillCandidateRejected SkillCandidateStatus = "rejected"
)

// SkillCandidate is a proposed reusable procedure template derived from a
// novel, high-quality session.
type SkillCandidate struct {
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	Status             SkillCandidateStatus `json:"status"`
	Body               string               `json:"body"`
	AutoActivationKeys []string             `json:"auto_activation"`
	SourceSessionID    string               `json:"source_session_id"`
	NoveltyScore       float64              `json:"novelty_score"`
	QualityScore       float64              `json:"quality_score"`
	CreatedAt          time.Time            `json:"created_at"`
}

// LedgerEntry is one row of a ProcessingLedger: whether a session has
// already been considered for a given at-most-once stage.
type LedgerEntry struct {
	SessionID       string    `json:"session_id"`
	ProcessedAt     time.Time `json:"processed_at"`
	ProducedArtifact bool     `json:"produced_artifact"`
}

// NewID generates an 8-char lowercase alphanumeric identifier, unique
// within this process by construction (crypto-random, collision
// probability negligible at pipeline scale).
func NewID() string {
	var buf [5]byte
	_, _ = rand.Read(buf[:])
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	return strings.ToLower(enc)[:8]
}
