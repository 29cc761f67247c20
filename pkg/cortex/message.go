// Package cortex defines the provider-agnostic data model shared by every
// layer of the gateway: pathways, models, chat messages, tool calls, file
// records, contexts, and progress events.
package cortex

import "encoding/json"

// Role identifies the sender of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType tags the variant held by a ContentPart.
type ContentPartType string

const (
	ContentText       ContentPartType = "text"
	ContentImageURL   ContentPartType = "image_url"
	ContentFile       ContentPartType = "file"
	ContentToolUse    ContentPartType = "tool_use"
	ContentToolResult ContentPartType = "tool_result"
)

// ContentPart is the tagged-sum re-architecture of the source's untyped
// content-part union (design note §9): exactly one of the typed fields is
// populated, selected by Type.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text holds the payload for Type == ContentText.
	Text string `json:"text,omitempty"`

	// ImageURL holds the payload for Type == ContentImageURL.
	ImageURL *ImageURLPart `json:"image_url,omitempty"`

	// File holds the payload for Type == ContentFile.
	File *FilePart `json:"file,omitempty"`

	// ToolUse holds the payload for Type == ContentToolUse.
	ToolUse *ToolUseReference `json:"tool_use,omitempty"`

	// ToolResult holds the payload for Type == ContentToolResult.
	ToolResult *ToolResultReference `json:"tool_result,omitempty"`
}

// Text returns a text content part, the normalized form of a bare string
// element inside a content sequence (§4.3.1).
func Text(s string) ContentPart {
	return ContentPart{Type: ContentText, Text: s}
}

// ImageURLPart is the payload of an image_url content part.
type ImageURLPart struct {
	URL string `json:"url"`
}

// FilePart is the payload of a file content part (§3 ChatMessage).
type FilePart struct {
	URL      string `json:"url"`
	GCS      string `json:"gcs,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ToolUseReference mirrors an assistant's tool invocation inside content.
type ToolUseReference struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultReference mirrors a tool's result inside content.
type ToolResultReference struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Content is the sum type for ChatMessage.Content: it is either null, a bare
// string, or an ordered sequence of ContentPart (§3). Exactly one of the
// three is meaningful at a time; IsNull distinguishes "absent" from "empty
// string" since both marshal differently under OpenAI's wire format.
type Content struct {
	IsNull bool
	Str    *string
	Parts  []ContentPart
}

// NullContent returns Content representing JSON null.
func NullContent() Content { return Content{IsNull: true} }

// StringContent returns Content holding a plain string.
func StringContent(s string) Content { return Content{Str: &s} }

// PartsContent returns Content holding an ordered content-part sequence.
func PartsContent(parts []ContentPart) Content { return Content{Parts: parts} }

// IsEmpty reports whether the content carries no text and no parts, used by
// the normalizer to decide whether a message should be dropped (§4.3.1).
func (c Content) IsEmpty() bool {
	if c.IsNull {
		return false // null is meaningful on tool_calls messages, not "empty"
	}
	if c.Str != nil {
		return *c.Str == ""
	}
	return len(c.Parts) == 0
}

// AsText concatenates all text found in the content, used by providers whose
// wire format has no content-part concept (§4.3.1 fallback rendering).
func (c Content) AsText() string {
	if c.Str != nil {
		return *c.Str
	}
	var out string
	for _, p := range c.Parts {
		switch p.Type {
		case ContentText:
			out += p.Text
		case ContentImageURL:
			if p.ImageURL != nil {
				out += "[Image: " + p.ImageURL.URL + "]"
			}
		case ContentFile:
			if p.File != nil {
				out += "[File: " + p.File.Filename + "]"
			}
		}
	}
	return out
}

// ToolCall is the normalized representation of a single function-call
// emission (§3 "Tool call").
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc carries the function name and JSON-encoded argument string.
// Arguments is intentionally a string, not json.RawMessage: while streaming,
// fragments of it are not individually valid JSON (§4.3.3).
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is the canonical in-memory chat message (§3).
type ChatMessage struct {
	Role       Role       `json:"role"`
	Name       string     `json:"name,omitempty"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message carries one or more tool calls.
func (m ChatMessage) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
