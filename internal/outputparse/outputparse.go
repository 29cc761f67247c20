// Package outputparse implements the declared-output-shape parsers of
// §4.7: numbered list, numbered object list, comma-separated list, and a
// JSON extractor with repair fallback. New small hand-rolled parsers
// following the teacher's general string-utility style, since the teacher
// carries no equivalent parsing layer of its own.
package outputparse

import (
	"regexp"
	"strings"
)

var numberedItemRe = regexp.MustCompile(`(?m)^\s*\d+[.)\-:]\s*`)

// NumberedList splits text into items delimited by a leading "1.", "1)",
// "1-", or "1:" marker (§4.7).
func NumberedList(text string) []string {
	indices := numberedItemRe.FindAllStringIndex(text, -1)
	if len(indices) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var items []string
	for i, loc := range indices {
		start := loc[1]
		end := len(text)
		if i+1 < len(indices) {
			end = indices[i+1][0]
		}
		item := strings.TrimSpace(text[start:end])
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// NumberedObjectList parses a numbered list of records against a
// whitespace-separated field spec (§4.7). Each item is split into fields
// on commas outside quoted runs, and each field into key and value at a
// ":" or "-"; a comma is not accepted as a key/value splitter. Matching
// field names is case-insensitive; missing fields are omitted, extra
// fields ignored. When an item carries
// no recognizable keys, its comma-separated values are mapped positionally
// against fieldSpec.
func NumberedObjectList(text, fieldSpec string) []map[string]string {
	fields := strings.Fields(fieldSpec)
	fieldSet := make(map[string]string, len(fields)) // lowercase -> canonical
	for _, f := range fields {
		fieldSet[strings.ToLower(f)] = f
	}

	var out []map[string]string
	for _, item := range NumberedList(text) {
		out = append(out, parseObjectItem(item, fields, fieldSet))
	}
	return out
}

var kvSplitRe = regexp.MustCompile(`\s*[:\-]\s*`)

func parseObjectItem(item string, fields []string, fieldSet map[string]string) map[string]string {
	parts := splitOutsideQuotes(item, ',')
	result := make(map[string]string)

	anyKeyed := false
	for _, part := range parts {
		kv := kvSplitRe.Split(part, 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if canonical, ok := fieldSet[key]; ok {
			result[canonical] = strings.TrimSpace(kv[1])
			anyKeyed = true
		}
	}

	if anyKeyed {
		return result
	}

	// positional fallback
	for i, part := range parts {
		if i >= len(fields) {
			break
		}
		result[fields[i]] = strings.TrimSpace(part)
	}
	return result
}

// CommaSeparatedList splits text on commas that fall outside any quoted
// run (§4.7).
func CommaSeparatedList(text string) []string {
	parts := splitOutsideQuotes(text, ',')
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitOutsideQuotes splits s on sep, ignoring occurrences inside single-
// or double-quoted runs.
func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}
