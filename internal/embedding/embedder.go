// Package embedding implements the pipeline's deterministic text-to-vector
// feature extraction: tokenize, hash each token into one of 384 buckets,
// mean-pool, L2-normalize. This is intentionally not a learned encoder —
// the pipeline needs reproducible vectors across runs and hosts, and the
// hashing trick gives that for free.
package embedding

import (
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/agentops-ai/ao/internal/pipelineerrors"
	"github.com/pkoukk/tiktoken-go"
)

// Dim is the fixed vector dimensionality. Every vector the pipeline
// stores or searches must have exactly this many components.
const Dim = 384

// encodingName is the tiktoken-go encoding used to tokenize text before
// hashing. cl100k_base is loaded lazily and cached by tiktoken-go itself.
const encodingName = "cl100k_base"

// Embedder produces deterministic, L2-normalized 384-dim vectors and
// caches them for the lifetime of the process.
type Embedder struct {
	mu    sync.RWMutex
	cache map[string][]float32

	tokEncOnce sync.Once
	tokEnc     *tiktoken.Tiktoken
	tokErr     error
}

// New creates an Embedder with an empty cache.
func New() *Embedder {
	return &Embedder{cache: make(map[string][]float32)}
}

func (e *Embedder) encoding() (*tiktoken.Tiktoken, error) {
	e.tokEncOnce.Do(func() {
		e.tokEnc, e.tokErr = tiktoken.GetEncoding(encodingName)
	})
	return e.tokEnc, e.tokErr
}

// Embed returns the 384-dim L2-normalized vector for text, using the
// process-lifetime cache when the exact text has been embedded before.
func (e *Embedder) Embed(text string) ([]float32, error) {
	e.mu.RLock()
	if v, ok := e.cache[text]; ok {
		e.mu.RUnlock()
		return v, nil
	}
	e.mu.RUnlock()

	vec, err := e.compute(text)
	if err != nil {
		return nil, &pipelineerrors.EmbeddingError{Err: err}
	}

	e.mu.Lock()
	e.cache[text] = vec
	e.mu.Unlock()

	return vec, nil
}

// EmbedBatch embeds each text in order, sequentially, to preserve cache
// effectiveness across repeated rule/chunk text (spec §5: embeddings are
// computed sequentially, not fanned out).
func (e *Embedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// compute performs the actual tokenize -> hash -> pool -> normalize
// pipeline. It never returns a vector of the wrong dimension.
func (e *Embedder) compute(text string) ([]float32, error) {
	enc, err := e.encoding()
	if err != nil {
		return nil, err
	}

	tokens := enc.Encode(text, nil, nil)
	acc := make([]float64, Dim)
	counts := make([]int, Dim)

	if len(tokens) == 0 {
		// Fall back to whitespace splitting so empty/degenerate tokenizer
		// output never silently yields a zero vector for non-empty text.
		for _, w := range strings.Fields(strings.ToLower(text)) {
			bucket, sign := hashToken(w)
			acc[bucket] += sign
			counts[bucket]++
		}
	} else {
		for i, tok := range tokens {
			bucket, sign := hashTokenID(tok, i)
			acc[bucket] += sign
			counts[bucket]++
		}
	}

	vec := make([]float32, Dim)
	for i := range acc {
		if counts[i] > 0 {
			vec[i] = float32(acc[i] / float64(counts[i]))
		}
	}

	return l2Normalize(vec), nil
}

// hashToken deterministically maps a string token to a (bucket, sign)
// pair using FNV-1a. The sign bit reduces systematic bias from always
// adding positive mass to a bucket.
func hashToken(tok string) (int, float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	sum := h.Sum32()
	bucket := int(sum % uint32(Dim))
	sign := 1.0
	if sum&1 == 0 {
		sign = -1.0
	}
	return bucket, sign
}

// hashTokenID hashes an integer token id together with its position,
// keeping the mapping stable regardless of encoding internals.
func hashTokenID(id, pos int) (int, float64) {
	h := fnv.New32a()
	b := [8]byte{
		byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24),
		byte(pos), byte(pos >> 8), byte(pos >> 16), byte(pos >> 24),
	}
	_, _ = h.Write(b[:])
	sum := h.Sum32()
	bucket := int(sum % uint32(Dim))
	sign := 1.0
	if sum&1 == 0 {
		sign = -1.0
	}
	return bucket, sign
}

// l2Normalize scales vec to unit length. A zero vector (degenerate empty
// text) is returned unchanged rather than dividing by zero.
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Vectors of mismatched length are compared over the shorter length only:
// the longer vector's extra components count toward neither the dot
// product nor its norm.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
