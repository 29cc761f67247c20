package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// GrokPlugin implements Plugin against xAI's Responses API over a
// hand-rolled SSE client: no Go SDK for xAI/Grok appears anywhere in the
// retrieval pack, so this plugin talks to the documented "response.*"
// event stream directly with net/http/bufio, the same way the teacher's
// SSE helper reads raw "event:"/"data:" frames off an io.Reader.
type GrokPlugin struct {
	*BaseProvider
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewGrokPlugin creates a plugin bound to apiKey, targeting xAI's default
// API base unless baseURL overrides it.
func NewGrokPlugin(apiKey, baseURL string) *GrokPlugin {
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	return &GrokPlugin{
		BaseProvider: NewBaseProvider("grok", 3),
		httpClient:   &http.Client{Timeout: 0}, // streaming: caller's ctx governs deadline
		apiKey:       apiKey,
		baseURL:      baseURL,
	}
}

func (p *GrokPlugin) Name() string        { return "grok" }
func (p *GrokPlugin) SupportsTools() bool { return true }

type grokRequestBody struct {
	Model     string                        `json:"model"`
	Input     []openAICompatMessage         `json:"input"`
	Tools     []openAICompatToolDeclaration `json:"tools,omitempty"`
	Stream    bool                          `json:"stream"`
	MaxTokens int                           `json:"max_output_tokens,omitempty"`
}

func (p *GrokPlugin) Complete(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	body := grokRequestBody{
		Model:     req.Model.APIModel,
		Input:     convertMessagesToOpenAICompat(req.Messages),
		Stream:    true,
		MaxTokens: req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		body.Tools = convertToolsToOpenAICompat(req.Tools)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("providers: grok encode request: %w", err)
	}

	var resp *http.Response
	err = p.Retry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		r, err := p.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		if r.StatusCode >= 400 {
			defer r.Body.Close()
			return (&ProviderError{Provider: "grok", Status: r.StatusCode}).WithStatus(r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk)
	go processGrokSSE(ctx, resp, chunks)
	return chunks, nil
}

// grokEvent is the envelope shared by every "response.*" SSE frame xAI's
// Responses API emits (§4.3.2): a discriminator plus whichever of the
// following fields that event type populates.
type grokEvent struct {
	Type string `json:"type"`

	// response.output_text.delta
	Delta string `json:"delta"`

	// response.tool_call.delta
	Index int `json:"index"`
	ID    string `json:"id"`
	Name  string `json:"name"`

	// response.citation.added
	Citation struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"citation"`

	// response.completed
	Response struct {
		FinishReason string `json:"finish_reason"`
	} `json:"response"`
}

// processGrokSSE reads "data: {json}" frames off the response body,
// terminated by "data: [DONE]", reassembling tool-call argument fragments
// by event index (§4.3.2's "reassemble tool-call arguments by index"). Each
// citation URL is emitted once, as an inline markdown citation of the form
// "[[n]](url)" in the delta stream the first time it is seen; citations are
// not collected into a separate list on the result.
func processGrokSSE(ctx context.Context, resp *http.Response, out chan<- StreamChunk) {
	defer close(out)
	defer resp.Body.Close()

	type partial struct{ id, name, args string }
	toolCalls := make(map[int]*partial)
	var toolOrder []int
	seenCitations := make(map[string]bool)
	var citationCount int

	flushToolCalls := func(reason FinishReason) {
		for _, idx := range toolOrder {
			tc := toolCalls[idx]
			out <- StreamChunk{ToolCallID: tc.id, ToolName: tc.name, ArgsDelta: tc.args, FinishReason: reason}
		}
		toolCalls = make(map[int]*partial)
		toolOrder = nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var ev grokEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta != "" {
				out <- StreamChunk{Delta: ev.Delta}
			}
		case "response.tool_call.delta":
			tc, ok := toolCalls[ev.Index]
			if !ok {
				tc = &partial{}
				toolCalls[ev.Index] = tc
				toolOrder = append(toolOrder, ev.Index)
			}
			if ev.ID != "" {
				tc.id = ev.ID
			}
			if ev.Name != "" {
				tc.name = ev.Name
			}
			tc.args += ev.Delta
		case "response.citation.added":
			if ev.Citation.URL == "" || seenCitations[ev.Citation.URL] {
				continue
			}
			seenCitations[ev.Citation.URL] = true
			citationCount++
			out <- StreamChunk{Delta: fmt.Sprintf("[[%d]](%s)", citationCount, ev.Citation.URL)}
		case "response.completed":
			reason := mapGrokFinishReason(ev.Response.FinishReason)
			if len(toolCalls) > 0 {
				flushToolCalls(FinishToolCalls)
			}
			out <- StreamChunk{FinishReason: reason}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: err}
	}
}

func mapGrokFinishReason(reason string) FinishReason {
	switch reason {
	case "tool_calls":
		return FinishToolCalls
	case "length", "max_output_tokens":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishStop
	}
}
