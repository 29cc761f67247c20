package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// reasoningGapAllowance is the duration of the timer processAnthropicStream
// starts for a reasoning model's stream. Nothing acts on the timer's
// expiry: no stream, reasoning or not, is ended for silence between SSE
// events, and the only deadline is the one ctx carries from the pathway's
// timeout (§9 decision 3).
const reasoningGapAllowance = 90 * time.Second

// AnthropicPlugin implements Plugin against Anthropic's Messages API.
type AnthropicPlugin struct {
	*BaseProvider
	client anthropic.Client
}

// NewAnthropicPlugin creates a plugin bound to apiKey. If baseURL is set,
// the client targets it instead of Anthropic's default endpoint — used by
// tests to drive the streaming translator against an httptest server.
func NewAnthropicPlugin(apiKey string, baseURL ...string) *AnthropicPlugin {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if len(baseURL) > 0 && baseURL[0] != "" {
		opts = append(opts, option.WithBaseURL(baseURL[0]))
	}
	return &AnthropicPlugin{
		BaseProvider: NewBaseProvider("anthropic", 3),
		client:       anthropic.NewClient(opts...),
	}
}

func (p *AnthropicPlugin) Name() string        { return "anthropic" }
func (p *AnthropicPlugin) SupportsTools() bool { return true }

func (p *AnthropicPlugin) Complete(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	system, messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.APIModel),
		Messages:  messages,
		MaxTokens: int64(defaultMaxTokens(req.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToAnthropic(req.Tools)
	}
	if req.EnableThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}

	var stream *anthropic.Stream[anthropic.MessageStreamEventUnion]
	err = p.Retry(ctx, func() error {
		stream = p.client.Messages.NewStreaming(ctx, params)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic stream: %w", err)
	}

	chunks := make(chan StreamChunk)
	gap := time.Duration(0)
	if req.Model.Reasoning {
		gap = reasoningGapAllowance
	}
	go processAnthropicStream(ctx, stream, chunks, gap)
	return chunks, nil
}

func defaultMaxTokens(n int) int {
	if n > 0 {
		return n
	}
	return 4096
}

func processAnthropicStream(ctx context.Context, stream *anthropic.Stream[anthropic.MessageStreamEventUnion], out chan<- StreamChunk, gapAllowance time.Duration) {
	defer close(out)

	var toolID, toolName string
	var toolArgs strings.Builder
	inToolUse := false
	terminated := false

	watchdog := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	if gapAllowance > 0 {
		go func() {
			timer := time.NewTimer(gapAllowance)
			defer timer.Stop()
			for {
				select {
				case <-done:
					return
				case <-timer.C:
					close(watchdog)
					return
				case <-watchdog:
					return
				}
			}
		}()
	}

	for stream.Next() {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			if cb.Type == "tool_use" {
				tu := cb.AsToolUse()
				toolID, toolName = tu.ID, tu.Name
				toolArgs.Reset()
				inToolUse = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- StreamChunk{Delta: delta.Text}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolArgs.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if inToolUse {
				out <- StreamChunk{
					ToolCallID:   toolID,
					ToolName:     toolName,
					ArgsDelta:    toolArgs.String(),
					FinishReason: FinishToolCalls,
				}
				inToolUse = false
				terminated = true
			}

		case "message_delta":
			if sr := string(event.AsMessageDelta().Delta.StopReason); sr != "" && !terminated {
				out <- StreamChunk{FinishReason: mapAnthropicStopReason(sr)}
				terminated = true
			}

		case "message_stop":
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- StreamChunk{Err: err}
	}
}

func mapAnthropicStopReason(r string) FinishReason {
	switch r {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	default:
		return FinishStop
	}
}

// convertMessagesToAnthropic extracts a system prompt from any leading
// RoleSystem messages (Anthropic models system as a separate field, not a
// message role) and converts the rest to anthropic.MessageParam (§4.3.1).
func convertMessagesToAnthropic(messages []cortex.ChatMessage) (string, []anthropic.MessageParam, error) {
	var system strings.Builder
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == cortex.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content.AsText())
			continue
		}

		blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content.AsText())}

		switch msg.Role {
		case cortex.RoleUser:
			result = append(result, anthropic.NewUserMessage(blocks...))
		case cortex.RoleAssistant:
			if msg.HasToolCalls() {
				toolBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					var input map[string]any
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						return "", nil, fmt.Errorf("providers: invalid tool call arguments for %s: %w", tc.Function.Name, err)
					}
					toolBlocks = append(toolBlocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
				}
				result = append(result, anthropic.NewAssistantMessage(toolBlocks...))
			} else {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
		case cortex.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content.AsText(), false),
			))
		}
	}

	return system.String(), result, nil
}

func convertToolsToAnthropic(tools []cortex.ToolSpec) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result
}
