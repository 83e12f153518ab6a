package types

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var alnumLower = regexp.MustCompile(`^[a-z2-7]+$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 8)
	assert.True(t, alnumLower.MatchString(id), "id %q should be lowercase base32", id)
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := NewID()
		assert.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}

func TestChunkID(t *testing.T) {
	c := Chunk{SessionID: "session-42", ChunkIndex: 3}
	assert.Equal(t, "session-42:3", c.ID())
}

func TestReflectionID(t *testing.T) {
	assert.Equal(t, "reflection-session-1-0", ReflectionID("session-1", 0))
	assert.Equal(t, "reflection-session-1-1", ReflectionID("session-1", 1))
}

func TestEmbeddingDim(t *testing.T) {
	assert.Equal(t, 384, EmbeddingDim)
}
