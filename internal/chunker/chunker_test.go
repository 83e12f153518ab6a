package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitExactlyOneChunkAtMax(t *testing.T) {
	opts := DefaultOptions()
	text := strings.Repeat("a", opts.MaxChunkSize)
	chunks := Split(text, opts)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestSplitProducesContiguousIndices(t *testing.T) {
	opts := Options{MaxChunkSize: 50, Overlap: 10, MinChunkSize: 1}
	text := strings.Repeat("word ", 200)
	chunks := Split(text, opts)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplitDropsShortChunks(t *testing.T) {
	opts := Options{MaxChunkSize: 20, Overlap: 0, MinChunkSize: 100}
	text := "short text that will never reach the minimum length on its own"
	chunks := Split(text, opts)
	assert.Empty(t, chunks)
}

func TestSplitCollapsesBlankLineRuns(t *testing.T) {
	text := "first paragraph\n\n\n\n\nsecond paragraph goes here and is long enough to survive trimming"
	cleaned := clean(text)
	assert.NotContains(t, cleaned, "\n\n\n")
}

func TestSplitStripsTimestampPrefix(t *testing.T) {
	text := "[12:34:56 PM] user: said something\nmore text follows on this line to pad length"
	cleaned := clean(text)
	assert.NotContains(t, cleaned, "12:34:56")
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	chunks := Split("   \n\n  ", DefaultOptions())
	assert.Empty(t, chunks)
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	opts := Options{MaxChunkSize: 100, Overlap: 30, MinChunkSize: 1}
	text := strings.Repeat("0123456789", 25)
	chunks := Split(text, opts)
	require.GreaterOrEqual(t, len(chunks), 2)
	first := chunks[0].Text
	assert.Equal(t, first[len(first)-opts.Overlap:], chunks[1].Text[:opts.Overlap])
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("a", 40)
	para2 := strings.Repeat("b", 40)
	text := para1 + "\n\n" + para2
	opts := Options{MaxChunkSize: 50, Overlap: 5, MinChunkSize: 1}
	chunks := Split(text, opts)
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "aaaa"))
}
