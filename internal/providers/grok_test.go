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

// sseServer returns an httptest.Server that streams frames as
// "data: <json>\n\n" lines, matching xAI's documented SSE framing (§4.3.2).
func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func drainChunks(ch <-chan StreamChunk, timeout time.Duration) []StreamChunk {
	var out []StreamChunk
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			return out
		}
	}
}

func TestGrokPluginStreamsTextDeltasAndStop(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.output_text.delta","delta":"lo"}`,
		`{"type":"response.completed","response":{"finish_reason":"stop"}}`,
		"[DONE]",
	})
	defer srv.Close()

	p := NewGrokPlugin("test-key", srv.URL)
	req := &CompletionRequest{
		Model:    &cortex.Model{APIModel: "grok-3"},
		Messages: []cortex.ChatMessage{{Role: cortex.RoleUser, Content: cortex.StringContent("hi")}},
		Stream:   true,
	}
	ch, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	chunks := drainChunks(ch, 2*time.Second)
	var text string
	var sawStop bool
	for _, c := range chunks {
		text += c.Delta
		if c.FinishReason == FinishStop {
			sawStop = true
		}
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, sawStop)
	assert.Equal(t, FinishStop, chunks[len(chunks)-1].FinishReason)
}

func TestGrokPluginAccumulatesToolCallArguments(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.tool_call.delta","index":0,"id":"call_1","name":"sum","delta":""}`,
		`{"type":"response.tool_call.delta","index":0,"delta":"{\"a\":2,"}`,
		`{"type":"response.tool_call.delta","index":0,"delta":"\"b\":3}"}`,
		`{"type":"response.completed","response":{"finish_reason":"tool_calls"}}`,
		"[DONE]",
	})
	defer srv.Close()

	p := NewGrokPlugin("test-key", srv.URL)
	req := &CompletionRequest{
		Model:  &cortex.Model{APIModel: "grok-3"},
		Stream: true,
		Tools:  []cortex.ToolSpec{{Name: "sum"}},
	}
	ch, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	chunks := drainChunks(ch, 2*time.Second)
	var toolChunk *StreamChunk
	for i := range chunks {
		if chunks[i].FinishReason == FinishToolCalls {
			toolChunk = &chunks[i]
			break
		}
	}
	require.NotNil(t, toolChunk, "expected a tool_calls chunk")
	assert.Equal(t, "call_1", toolChunk.ToolCallID)
	assert.Equal(t, "sum", toolChunk.ToolName)
	assert.Equal(t, `{"a":2,"b":3}`, toolChunk.ArgsDelta)
}

func TestGrokPluginAppendsInlineCitations(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.output_text.delta","delta":"answer"}`,
		`{"type":"response.citation.added","citation":{"url":"https://example.com/a","title":"A"}}`,
		`{"type":"response.citation.added","citation":{"url":"https://example.com/a","title":"A"}}`,
		`{"type":"response.completed","response":{"finish_reason":"stop"}}`,
		"[DONE]",
	})
	defer srv.Close()

	p := NewGrokPlugin("test-key", srv.URL)
	req := &CompletionRequest{Model: &cortex.Model{APIModel: "grok-3"}, Stream: true}
	ch, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	chunks := drainChunks(ch, 2*time.Second)
	var citationDeltas int
	for _, c := range chunks {
		if c.Delta == "[[1]](https://example.com/a)" {
			citationDeltas++
		}
	}
	assert.Equal(t, 1, citationDeltas, "duplicate citation URL must not be re-emitted")
}

func TestGrokPluginPropagatesHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewGrokPlugin("bad-key", srv.URL)
	req := &CompletionRequest{Model: &cortex.Model{APIModel: "grok-3"}, Stream: true}
	_, err := p.Complete(context.Background(), req)
	require.Error(t, err)

	pe, ok := GetProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.Equal(t, FailoverAuth, pe.Reason)
}

func TestNewGrokPluginDefaultBaseURL(t *testing.T) {
	p := NewGrokPlugin("key", "")
	assert.Equal(t, "https://api.x.ai/v1", p.baseURL)
	assert.Equal(t, "grok", p.Name())
	assert.True(t, p.SupportsTools())
}
