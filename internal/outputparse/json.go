package outputparse

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSON extracts the largest balanced JSON object or array substring from
// text; on parse failure it attempts to repair common faults (trailing
// commas, single quotes, unquoted keys) and, if still unrepairable,
// returns "{}" (§4.7).
func JSON(text string) string {
	candidate := largestBalancedJSON(text)
	if candidate == "" {
		return "{}"
	}
	if gjson.Valid(candidate) {
		return candidate
	}

	repaired := repairJSON(candidate)
	if gjson.Valid(repaired) {
		return repaired
	}
	return "{}"
}

// largestBalancedJSON scans text for the longest substring that is a
// balanced run of matching braces/brackets (ignoring braces inside string
// literals), trying every '{' or '[' in text as a starting point.
func largestBalancedJSON(text string) string {
	best := ""
	for i, c := range text {
		if c != '{' && c != '[' {
			continue
		}
		if end := matchBalanced(text, i); end > i {
			candidate := text[i : end+1]
			if len(candidate) > len(best) {
				best = candidate
			}
		}
	}
	return best
}

// matchBalanced returns the index of the closing brace/bracket matching
// the opener at start, or -1 if text is truncated before it closes.
func matchBalanced(text string, start int) int {
	open := text[start]
	var close byte
	if open == '{' {
		close = '}'
	} else {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// repairJSON applies a small set of mechanical fixes to near-miss JSON:
// single quotes to double quotes, unquoted object keys, and trailing
// commas before a closing brace/bracket.
func repairJSON(s string) string {
	s = singleToDoubleQuotes(s)
	s = quoteUnquotedKeys(s)
	s = stripTrailingCommas(s)

	// Normalize through sjson/gjson by round-tripping the outermost value
	// once it parses, which also canonicalizes formatting.
	if gjson.Valid(s) {
		if out, err := sjson.SetRaw("{}", "_", s); err == nil {
			if v := gjson.Get(out, "_"); v.Exists() {
				return v.Raw
			}
		}
	}
	return s
}

func singleToDoubleQuotes(s string) string {
	var b strings.Builder
	inDouble := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inDouble = !inDouble
		}
		if c == '\'' && !inDouble {
			b.WriteByte('"')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var unquotedKeyReplacer = func(s string) string {
	var b strings.Builder
	inString := false
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			i++
			continue
		}
		if !inString && (c == '{' || c == ',') {
			b.WriteByte(c)
			i++
			// skip whitespace
			for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t') {
				b.WriteByte(s[i])
				i++
			}
			// bare identifier key?
			j := i
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			if j > i && j < len(s) && s[j] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				i = j
				continue
			}
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func quoteUnquotedKeys(s string) string {
	return unquotedKeyReplacer(s)
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
		}
		if c == ',' && !inString {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
