package tokenchunk

import (
	"regexp"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// topLevelTagRegexp matches an opening tag, including self-closing and void
// elements; used to find top-level element boundaries without a full DOM
// parse, matching the teacher's regex-driven approach to structural
// text-munging (cf. its markdown code-fence scanner).
var topLevelTagRegexp = regexp.MustCompile(`(?is)<([a-zA-Z][a-zA-Z0-9:-]*)([^>]*?)(/?)>`)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// splitHTML treats each top-level element as an atomic unit and recursively
// splits the text between units with the text algorithm (§4.1). It fails
// with OversizedAtomError if any atomic unit alone exceeds maxChunkToken.
func (e *Encoder) splitHTML(text string, maxChunkToken int) ([]cortex.Chunk, error) {
	var out []cortex.Chunk
	idx := 0
	pos := 0

	appendText := func(s string) error {
		if s == "" {
			return nil
		}
		chunks, err := e.splitText(s, maxChunkToken)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			c.Index = idx
			idx++
			out = append(out, c)
		}
		return nil
	}

	for pos < len(text) {
		loc := topLevelTagRegexp.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			if err := appendText(text[pos:]); err != nil {
				return nil, err
			}
			break
		}

		tagStart := pos + loc[0]
		tagEnd := pos + loc[1]
		name := text[pos+loc[2] : pos+loc[3]]
		selfClosing := loc[6] >= 0 && text[pos+loc[6]:pos+loc[7]] == "/"

		if err := appendText(text[pos:tagStart]); err != nil {
			return nil, err
		}

		elemEnd := tagEnd
		if !selfClosing && !voidElements[toLower(name)] {
			if close := findMatchingClose(text, tagEnd, name); close >= 0 {
				elemEnd = close
			}
		}

		atom := text[tagStart:elemEnd]
		n := e.CountTokens(atom)
		if n > maxChunkToken {
			return nil, &OversizedAtomError{Atom: truncate(atom, 80), TokenCount: n, Max: maxChunkToken}
		}
		out = append(out, cortex.Chunk{Text: atom, TokenCount: n, Index: idx})
		idx++

		pos = elemEnd
	}

	return out, nil
}

// findMatchingClose returns the byte offset just past the first matching
// </name> closing tag found at or after from, or -1 if none exists; the
// caller then takes the opening tag alone as the atomic unit.
func findMatchingClose(text string, from int, name string) int {
	closeRe := regexp.MustCompile(`(?is)</` + regexp.QuoteMeta(name) + `\s*>`)
	loc := closeRe.FindStringIndex(text[from:])
	if loc == nil {
		return -1
	}
	return from + loc[1]
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
