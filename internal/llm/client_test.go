package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIntArrayBareArray(t *testing.T) {
	got, ok := ExtractIntArray("[3, 7, 5, 9]")
	assert.True(t, ok)
	assert.Equal(t, []int{3, 7, 5, 9}, got)
}

func TestExtractIntArrayWrappedEnvelope(t *testing.T) {
	got, ok := ExtractIntArray(`{"scores": [4, 4, 8]}`)
	assert.True(t, ok)
	assert.Equal(t, []int{4, 4, 8}, got)
}

func TestExtractIntArrayWithProse(t *testing.T) {
	got, ok := ExtractIntArray("Sure, here are the scores: [1, 2, 3]. Let me know if you need more.")
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestExtractIntArrayNoArrayPresent(t *testing.T) {
	_, ok := ExtractIntArray("sorry, cannot comply")
	assert.False(t, ok)
}

func TestExtractIntArrayMalformedContents(t *testing.T) {
	_, ok := ExtractIntArray("[1, two, 3]")
	assert.False(t, ok)
}

func TestExtractIntArrayNegativeNumbers(t *testing.T) {
	got, ok := ExtractIntArray("[-1, 0, 5]")
	assert.True(t, ok)
	assert.Equal(t, []int{-1, 0, 5}, got)
}

func TestExtractFieldThreeFields(t *testing.T) {
	text := "ROOT_CAUSE: forgot to close the file handle\n" +
		"REFLECTION: the bug surfaced after three retries\n" +
		"PREVENTION_RULE: always defer Close immediately after Open"

	root, ok := ExtractField(text, "ROOT_CAUSE")
	assert.True(t, ok)
	assert.Equal(t, "forgot to close the file handle", root)

	reflection, ok := ExtractField(text, "REFLECTION")
	assert.True(t, ok)
	assert.Equal(t, "the bug surfaced after three retries", reflection)

	rule, ok := ExtractField(text, "PREVENTION_RULE")
	assert.True(t, ok)
	assert.Equal(t, "always defer Close immediately after Open", rule)
}

func TestExtractFieldMissing(t *testing.T) {
	_, ok := ExtractField("no structured fields here", "ROOT_CAUSE")
	assert.False(t, ok)
}

func TestExtractFieldMultilineValue(t *testing.T) {
	text := "ROOT_CAUSE: the root cause spans\nmultiple lines of text\nREFLECTION: done"
	got, ok := ExtractField(text, "ROOT_CAUSE")
	assert.True(t, ok)
	assert.Equal(t, "the root cause spans multiple lines of text", got)
}
