// Package chunker splits a cleaned session transcript into bounded,
// overlapping text chunks with stable, contiguous indices.
package chunker

import (
	"regexp"
	"strings"
)

// Options configures a single chunking pass. Split replaces a
// MaxChunkSize of zero or less, and a negative Overlap or MinChunkSize,
// with the package defaults; a zero Overlap or MinChunkSize is kept.
type Options struct {
	// MaxChunkSize is the target bound on chunk character length.
	MaxChunkSize int
	// Overlap is how many trailing characters of a chunk are repeated at
	// the start of the next chunk.
	Overlap int
	// MinChunkSize drops any candidate chunk shorter than this.
	MinChunkSize int
}

const (
	defaultMaxChunkSize = 1500
	defaultOverlap      = 200
	defaultMinChunkSize = 100
)

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxChunkSize: defaultMaxChunkSize,
		Overlap:      defaultOverlap,
		MinChunkSize: defaultMinChunkSize,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = defaultMaxChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = defaultOverlap
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = defaultMinChunkSize
	}
	return o
}

// Chunk is one chunker output unit, before it becomes a types.Chunk.
type Chunk struct {
	Index int
	Text  string
}

var (
	blankRuns       = regexp.MustCompile(`\n{3,}`)
	timestampPrefix = regexp.MustCompile(`(?m)^\s*\[?\d{1,2}:\d{2}(:\d{2})?(\s?[AaPp][Mm])?\]?\s*[-:]?\s*`)
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
)

// clean collapses blank-line runs to a single blank line, strips leading
// timestamp prefixes line by line, and trims trailing whitespace.
func clean(text string) string {
	text = timestampPrefix.ReplaceAllString(text, "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimRight(text, " \t\n")
}

// Split cleans text and splits it into bounded, overlapping chunks with
// contiguous 0-based indices. Chunks shorter than MinChunkSize are
// dropped; remaining indices are renumbered to stay contiguous.
func Split(text string, opts Options) []Chunk {
	opts = opts.withDefaults()
	cleaned := clean(text)
	if strings.TrimSpace(cleaned) == "" {
		return nil
	}

	raw := splitBounded(cleaned, opts)

	out := make([]Chunk, 0, len(raw))
	idx := 0
	for _, r := range raw {
		trimmed := strings.TrimSpace(r)
		if len(trimmed) < opts.MinChunkSize {
			continue
		}
		out = append(out, Chunk{Index: idx, Text: trimmed})
		idx++
	}
	return out
}

// splitBounded walks text, taking a MaxChunkSize window at a time,
// preferring to end the window at a paragraph or sentence boundary, and
// carrying Overlap characters of context into the next window.
func splitBounded(text string, opts Options) []string {
	if len(text) <= opts.MaxChunkSize {
		return []string{text}
	}

	var chunks []string
	pos := 0
	for pos < len(text) {
		end := pos + opts.MaxChunkSize
		if end >= len(text) {
			chunks = append(chunks, text[pos:])
			break
		}

		boundary := bestBoundary(text, pos, end)
		chunks = append(chunks, text[pos:boundary])

		next := boundary - opts.Overlap
		if next <= pos {
			next = boundary
		}
		pos = next
	}
	return chunks
}

// bestBoundary looks for a paragraph break, then a sentence break, inside
// (start, end], falling back to a hard cut at end.
func bestBoundary(text string, start, end int) int {
	window := text[start:end]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return start + i + 2
	}

	if loc := lastSentenceBoundary(window); loc > 0 {
		return start + loc
	}

	return end
}

func lastSentenceBoundary(window string) int {
	locs := sentenceBoundary.FindAllStringIndex(window, -1)
	if len(locs) == 0 {
		return -1
	}
	last := locs[len(locs)-1]
	return last[1]
}
