package providers

import (
	"context"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// StreamChunk is a single increment of a streaming completion (§4.3.2). A
// chunk carries a text Delta, a complete tool call (ToolCallID, ToolName,
// ArgsDelta), a FinishReason, or an Err; a tool-call chunk also carries
// FinishReason tool_calls.
type StreamChunk struct {
	Delta        string
	ToolCallID   string // set when the chunk carries a tool call
	ToolName     string
	ArgsDelta    string // the tool call's full JSON-argument text, accumulated by the plugin
	FinishReason FinishReason
	Err          error
}

// FinishReason is the vendor-neutral completion termination reason (§4.3.2).
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// CompletionRequest is the normalized request passed into a Plugin (§4.3.1).
// Messages have already had their Content normalized: bare strings become a
// single text part, nulls are preserved only where meaningful (assistant
// tool-calls messages).
type CompletionRequest struct {
	Model          *cortex.Model
	Messages       []cortex.ChatMessage
	Tools          []cortex.ToolSpec
	MaxTokens      int
	Stream         bool
	EnableThinking bool
}

// Plugin is the uniform execution/streaming contract every vendor
// integration satisfies (§4.3). A Plugin's Complete must be safe for
// concurrent use: the executor may call it from many goroutines at once for
// different requests.
type Plugin interface {
	// Complete sends req and returns a channel of StreamChunk. The channel
	// is closed after a chunk with a non-empty FinishReason or a non-nil
	// Err has been delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// Name returns the plugin's vendor identifier.
	Name() string

	// SupportsTools reports whether this plugin can dispatch tool calls.
	SupportsTools() bool
}
