// Package tokenchunk converts text to and from token ids using a cached
// BPE encoder, and splits text into token-bounded pieces that preserve
// semantic structure (§4.1). The splitter is grounded on the breakpoint-
// scanning idiom of the platform message chunker, generalized from a
// character budget to a token budget and extended with HTML atomic-unit
// handling.
package tokenchunk

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rivo/uniseg"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// ErrInvalidMaxToken is returned when maxChunkToken is non-positive or NaN.
var ErrInvalidMaxToken = errors.New("tokenchunk: invalid maxChunkToken")

// OversizedAtomError reports an HTML element that exceeds the chunk budget
// on its own (§4.1).
type OversizedAtomError struct {
	Atom       string
	TokenCount int
	Max        int
}

func (e *OversizedAtomError) Error() string {
	return fmt.Sprintf("tokenchunk: atomic unit has %d tokens, exceeds max %d", e.TokenCount, e.Max)
}

// Encoder wraps a cl100k-style BPE tokenizer with an LRU cache keyed by the
// text's xxhash, so repeated encode calls on identical text (common across
// retries and compression passes) skip re-tokenization.
type Encoder struct {
	bpe   *tiktoken.Tiktoken
	cache *lru.Cache[uint64, []int]
	mu    sync.Mutex
}

// NewEncoder constructs an Encoder using the given tiktoken encoding name
// (e.g. "cl100k_base"), with an LRU cache of the given size.
func NewEncoder(encoding string, cacheSize int) (*Encoder, error) {
	bpe, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenchunk: load encoding %q: %w", encoding, err)
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[uint64, []int](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Encoder{bpe: bpe, cache: cache}, nil
}

// Encode returns the token ids for s, using the cache when available.
func (e *Encoder) Encode(s string) []int {
	key := xxhash.Sum64String(s)

	e.mu.Lock()
	if ids, ok := e.cache.Get(key); ok {
		e.mu.Unlock()
		return ids
	}
	e.mu.Unlock()

	ids := e.bpe.Encode(s, nil, nil)

	e.mu.Lock()
	e.cache.Add(key, ids)
	e.mu.Unlock()

	return ids
}

// CountTokens returns the number of tokens s encodes to.
func (e *Encoder) CountTokens(s string) int {
	return len(e.Encode(s))
}

// Decode returns the text for the given token ids.
func (e *Encoder) Decode(ids []int) string {
	return e.bpe.Decode(ids)
}

// sentenceTerminators includes ASCII terminators and the script-specific
// variants named in §4.1 (Urdu full stop, CJK full stop).
var sentenceTerminators = []rune{'.', '!', '?', '۔', '。'}

func isSentenceTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}

// numberedListPrefix reports whether s, starting at byte offset i, begins a
// numbered-list item boundary: a newline followed by digits and one of
// ".):-" (§4.1).
func numberedListPrefix(s string, i int) (end int, ok bool) {
	if i >= len(s) || s[i] != '\n' {
		return 0, false
	}
	j := i + 1
	start := j
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == start {
		return 0, false
	}
	if j >= len(s) {
		return 0, false
	}
	switch s[j] {
	case '.', ')', '-', ':':
		return j + 1, true
	default:
		return 0, false
	}
}

// Split divides text into pieces of at most maxChunkToken tokens each,
// preserving semantic boundaries (§4.1). Concatenating the returned pieces
// reproduces text exactly.
func (e *Encoder) Split(text string, maxChunkToken int) ([]cortex.Chunk, error) {
	if maxChunkToken <= 0 || math.IsNaN(float64(maxChunkToken)) {
		return nil, ErrInvalidMaxToken
	}
	if text == "" {
		return nil, nil
	}

	if looksLikeHTML(text) {
		return e.splitHTML(text, maxChunkToken)
	}
	return e.splitText(text, maxChunkToken)
}

// looksLikeHTML reports whether text contains both a '<' and a '>'
// anywhere, which is taken as the sign of markup (§4.1 format detection).
func looksLikeHTML(text string) bool {
	return strings.ContainsRune(text, '<') && strings.ContainsRune(text, '>')
}

// splitText implements the text-format cascade: paragraph boundaries, then
// sentence terminators, then numbered-list boundaries, then whitespace
// runs, then grapheme clusters (§4.1).
func (e *Encoder) splitText(text string, maxChunkToken int) ([]cortex.Chunk, error) {
	var out []cortex.Chunk
	idx := 0

	var emit func(s string)
	emit = func(s string) {
		if s == "" {
			return
		}
		n := e.CountTokens(s)
		if n <= maxChunkToken {
			out = append(out, cortex.Chunk{Text: s, TokenCount: n, Index: idx})
			idx++
			return
		}
		pieces := e.splitOnce(s, maxChunkToken)
		if len(pieces) == 1 && pieces[0] == s {
			// A single grapheme cluster can exceed maxChunkToken on its
			// own (e.g. a long combining-mark sequence); it cannot be
			// subdivided further, so emit it as-is rather than recursing
			// on the same string forever.
			out = append(out, cortex.Chunk{Text: s, TokenCount: n, Index: idx})
			idx++
			return
		}
		for _, piece := range pieces {
			emit(piece)
		}
	}

	emit(text)
	return out, nil
}

// splitOnce finds the best single breakpoint cascade (paragraph > sentence
// > numbered-list > whitespace > grapheme) for s and returns the two
// halves; the caller re-measures and recurses on oversized halves.
func (e *Encoder) splitOnce(s string, maxChunkToken int) []string {
	if i := lastIndexWithin(s, "\n\n", maxChunkToken, e); i >= 0 {
		return []string{s[:i+2], s[i+2:]}
	}
	if i := lastSentenceBreak(s, e, maxChunkToken); i >= 0 {
		return []string{s[:i], s[i:]}
	}
	if i := lastNumberedListBreak(s, e, maxChunkToken); i >= 0 {
		return []string{s[:i], s[i:]}
	}
	if i := lastWhitespaceBreak(s, e, maxChunkToken); i >= 0 {
		return []string{s[:i], s[i:]}
	}
	return e.graphemeSplit(s, maxChunkToken)
}

// withinBudget reports whether the prefix of s up to byte offset i
// encodes to at most maxChunkToken tokens; used by the breakpoint scanners
// to keep the prefix under budget before committing to a break.
func withinBudget(e *Encoder, s string, i, maxChunkToken int) bool {
	return e.CountTokens(s[:i]) <= maxChunkToken
}

func lastIndexWithin(s, sep string, maxChunkToken int, e *Encoder) int {
	last := -1
	start := 0
	for {
		i := strings.Index(s[start:], sep)
		if i < 0 {
			break
		}
		pos := start + i
		if withinBudget(e, s, pos+len(sep), maxChunkToken) {
			last = pos
		} else {
			break
		}
		start = pos + len(sep)
	}
	return last
}

// lastSentenceBreak scans for the last sentence terminator whose prefix
// (including trailing punctuation and an immediately adjacent ellipsis)
// stays within budget.
func lastSentenceBreak(s string, e *Encoder, maxChunkToken int) int {
	runes := []rune(s)
	last := -1
	for i, r := range runes {
		if !isSentenceTerminator(r) {
			continue
		}
		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '…') {
			end++
		}
		bytePos := len(string(runes[:end]))
		if bytePos <= 0 || bytePos >= len(s) {
			continue
		}
		if withinBudget(e, s, bytePos, maxChunkToken) {
			last = bytePos
		} else {
			break
		}
	}
	return last
}

func lastNumberedListBreak(s string, e *Encoder, maxChunkToken int) int {
	last := -1
	for i := 0; i < len(s); i++ {
		if _, ok := numberedListPrefix(s, i); ok {
			if withinBudget(e, s, i+1, maxChunkToken) {
				last = i + 1
			} else {
				break
			}
		}
	}
	return last
}

func lastWhitespaceBreak(s string, e *Encoder, maxChunkToken int) int {
	last := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if withinBudget(e, s, i+1, maxChunkToken) {
				last = i + 1
			} else {
				break
			}
		}
	}
	return last
}

// graphemeSplit is the last-resort splitter: it walks grapheme cluster
// boundaries (keeping combining diacritics attached to their base rune,
// §4.1) and accumulates clusters until the next one would exceed budget.
func (e *Encoder) graphemeSplit(s string, maxChunkToken int) []string {
	var clusters []string
	state := -1
	remaining := s
	for len(remaining) > 0 {
		cluster, rest, _, newState := uniseg.FirstGraphemeClusterInString(remaining, state)
		clusters = append(clusters, cluster)
		remaining = rest
		state = newState
	}

	var pieces []string
	var b strings.Builder
	for _, c := range clusters {
		trial := b.String() + c
		if b.Len() > 0 && e.CountTokens(trial) > maxChunkToken {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		b.WriteString(c)
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	if len(pieces) < 2 {
		return []string{s}
	}
	return pieces
}

// GetSingleTokenChunks returns a list whose concatenation equals s, with
// each element the shortest non-empty prefix the encoder treats as a
// single token (§4.1).
func (e *Encoder) GetSingleTokenChunks(s string) []string {
	var out []string
	remaining := []rune(s)
	for len(remaining) > 0 {
		n := 1
		for n <= len(remaining) {
			candidate := string(remaining[:n])
			if len(e.Encode(candidate)) == 1 {
				n++
				continue
			}
			break
		}
		if n > 1 {
			n--
		}
		out = append(out, string(remaining[:n]))
		remaining = remaining[n:]
	}
	return out
}
