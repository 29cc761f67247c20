package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// anthropicSSEServer streams frames as Anthropic's "event: <type>\ndata:
// <json>\n\n" SSE lines, the wire shape anthropic-sdk-go's
// Messages.NewStreaming expects (§4.3.2).
func anthropicSSEServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func TestMapAnthropicStopReasonSurjective(t *testing.T) {
	cases := []struct {
		in   string
		want FinishReason
	}{
		{"end_turn", FinishStop},
		{"stop_sequence", FinishStop},
		{"max_tokens", FinishLength},
		{"tool_use", FinishToolCalls},
		{"something_unexpected", FinishStop},
	}
	seen := map[FinishReason]bool{}
	for _, c := range cases {
		got := mapAnthropicStopReason(c.in)
		assert.Equalf(t, c.want, got, "in=%v", c.in)
		seen[got] = true
	}
	assert.True(t, seen[FinishStop])
	assert.True(t, seen[FinishLength])
	assert.True(t, seen[FinishToolCalls])
}

func TestConvertMessagesToAnthropicExtractsSystem(t *testing.T) {
	msgs := []cortex.ChatMessage{
		{Role: cortex.RoleSystem, Content: cortex.StringContent("be concise")},
		{Role: cortex.RoleSystem, Content: cortex.StringContent("no markdown")},
		{Role: cortex.RoleUser, Content: cortex.StringContent("hi")},
	}
	system, out, err := convertMessagesToAnthropic(msgs)
	require.NoError(t, err)
	assert.Equal(t, "be concise\n\nno markdown", system)
	require.Len(t, out, 1)
}

func TestConvertMessagesToAnthropicToolCallRoundTrip(t *testing.T) {
	msgs := []cortex.ChatMessage{
		{Role: cortex.RoleUser, Content: cortex.StringContent("sum 2 and 3")},
		{
			Role:    cortex.RoleAssistant,
			Content: cortex.NullContent(),
			ToolCalls: []cortex.ToolCall{
				{ID: "call_1", Type: "function", Function: cortex.ToolCallFunc{Name: "sum", Arguments: `{"a":2,"b":3}`}},
			},
		},
		{Role: cortex.RoleTool, ToolCallID: "call_1", Content: cortex.StringContent("5")},
	}
	_, out, err := convertMessagesToAnthropic(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestConvertMessagesToAnthropicMalformedToolArgumentsErrors(t *testing.T) {
	msgs := []cortex.ChatMessage{
		{
			Role:    cortex.RoleAssistant,
			Content: cortex.NullContent(),
			ToolCalls: []cortex.ToolCall{
				{ID: "call_1", Type: "function", Function: cortex.ToolCallFunc{Name: "sum", Arguments: `not json`}},
			},
		},
	}
	_, _, err := convertMessagesToAnthropic(msgs)
	assert.Error(t, err)
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []cortex.ToolSpec{
		{Name: "sum", Description: "adds two numbers", Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
		}},
	}
	out := convertToolsToAnthropic(tools)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "sum", out[0].OfTool.Name)
}

func TestDefaultMaxTokens(t *testing.T) {
	assert.Equal(t, 4096, defaultMaxTokens(0))
	assert.Equal(t, 4096, defaultMaxTokens(-1))
	assert.Equal(t, 1000, defaultMaxTokens(1000))
}

// TestAnthropicPluginStreamsTextAndSingleTerminalChunk exercises §4.3.2's
// event-framed stream end-to-end: a text turn emits "content_block_stop"
// (no finish reason, since inToolUse is false) followed by "message_delta"
// carrying the stop reason — exactly one finish_reason-bearing chunk,
// matching §8 invariant 3.
func TestAnthropicPluginStreamsTextAndSingleTerminalChunk(t *testing.T) {
	srv := anthropicSSEServer(t, []string{
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	})
	defer srv.Close()

	p := NewAnthropicPlugin("test-key", srv.URL)
	req := &CompletionRequest{
		Model:    &cortex.Model{APIModel: "claude-sonnet-4"},
		Messages: []cortex.ChatMessage{{Role: cortex.RoleUser, Content: cortex.StringContent("hi")}},
		Stream:   true,
	}
	ch, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	chunks := drainChunks(ch, 2*time.Second)
	var text string
	var terminalCount int
	for _, c := range chunks {
		text += c.Delta
		if c.FinishReason != "" {
			terminalCount++
		}
	}
	assert.Equal(t, "Hello", text)
	assert.Equal(t, 1, terminalCount, "exactly one finish-reason-bearing chunk")
	assert.Equal(t, FinishStop, chunks[len(chunks)-1].FinishReason, "the terminal chunk must be last")
}

// TestAnthropicPluginAccumulatesToolCallArgumentsAndTerminatesOnToolCalls
// regression-tests the "content_block_stop flushes the tool call AND
// message_delta carries stop_reason=tool_use" double-terminal-chunk shape
// Anthropic sends for a tool-use turn: only the first must produce a
// finish_reason-bearing chunk.
func TestAnthropicPluginAccumulatesToolCallArgumentsAndTerminatesOnToolCalls(t *testing.T) {
	srv := anthropicSSEServer(t, []string{
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"call_1\",\"name\":\"sum\",\"input\":{}}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"a\\\":2,\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"b\\\":3}\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	})
	defer srv.Close()

	p := NewAnthropicPlugin("test-key", srv.URL)
	req := &CompletionRequest{
		Model:    &cortex.Model{APIModel: "claude-sonnet-4"},
		Messages: []cortex.ChatMessage{{Role: cortex.RoleUser, Content: cortex.StringContent("sum 2 and 3")}},
		Stream:   true,
		Tools:    []cortex.ToolSpec{{Name: "sum"}},
	}
	ch, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	chunks := drainChunks(ch, 2*time.Second)
	var toolChunks []StreamChunk
	var terminalCount int
	for _, c := range chunks {
		if c.FinishReason != "" {
			terminalCount++
		}
		if c.ToolCallID != "" {
			toolChunks = append(toolChunks, c)
		}
	}
	require.Len(t, toolChunks, 1, "tool call must be flushed exactly once")
	assert.Equal(t, "call_1", toolChunks[0].ToolCallID)
	assert.Equal(t, "sum", toolChunks[0].ToolName)
	assert.Equal(t, `{"a":2,"b":3}`, toolChunks[0].ArgsDelta)
	assert.Equal(t, FinishToolCalls, toolChunks[0].FinishReason)
	assert.Equal(t, 1, terminalCount, "exactly one finish-reason-bearing chunk despite message_delta also carrying a stop_reason")
}
