package tokenchunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc, err := NewEncoder("cl100k_base", 64)
	require.NoError(t, err)
	return enc
}

func TestSplitInvalidMaxToken(t *testing.T) {
	enc := newTestEncoder(t)
	_, err := enc.Split("hello", 0)
	assert.ErrorIs(t, err, ErrInvalidMaxToken)
}

func TestSplitLosslessConcatenation(t *testing.T) {
	enc := newTestEncoder(t)
	text := "First paragraph with a sentence. And another one!\n\n" +
		"Second paragraph.\n1. item one\n2. item two\n\nTrailing text without terminators"

	chunks, err := enc.Split(text, 6)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, text, rebuilt.String())

	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 6)
	}
}

func TestSplitHTMLAtomicUnit(t *testing.T) {
	enc := newTestEncoder(t)
	html := "<p>hello</p><br><span>world</span>"

	chunks, err := enc.Split(html, 50)
	require.NoError(t, err)

	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, html, rebuilt.String())
}

func TestSplitHTMLOversizedAtom(t *testing.T) {
	enc := newTestEncoder(t)
	html := "<p>" + strings.Repeat("word ", 200) + "</p>"

	_, err := enc.Split(html, 1)
	var oversized *OversizedAtomError
	require.ErrorAs(t, err, &oversized)
}

func TestGetSingleTokenChunks(t *testing.T) {
	enc := newTestEncoder(t)
	s := "hello world"
	pieces := enc.GetSingleTokenChunks(s)

	var rebuilt strings.Builder
	for _, p := range pieces {
		rebuilt.WriteString(p)
	}
	assert.Equal(t, s, rebuilt.String())

	for _, p := range pieces {
		assert.Len(t, enc.Encode(p), 1)
	}
}

func TestEncoderCache(t *testing.T) {
	enc := newTestEncoder(t)
	text := "cache me once"
	first := enc.CountTokens(text)
	second := enc.CountTokens(text)
	assert.Equal(t, first, second)
}
