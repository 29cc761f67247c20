package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// OpenAIPlugin implements Plugin against OpenAI's chat completions API.
type OpenAIPlugin struct {
	*BaseProvider
	client *openai.Client
}

// NewOpenAIPlugin creates a plugin bound to apiKey. If baseURL is set, the
// client targets it instead of OpenAI's default endpoint — this is also
// how the compatible.go plugin reuses this wire format for Azure/local
// OpenAI-compatible deployments (§4.3).
func NewOpenAIPlugin(apiKey, baseURL string) *OpenAIPlugin {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIPlugin{
		BaseProvider: NewBaseProvider("openai", 3),
		client:       openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIPlugin) Name() string        { return "openai" }
func (p *OpenAIPlugin) SupportsTools() bool { return true }

func (p *OpenAIPlugin) Complete(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	if p.client == nil {
		return nil, errors.New("providers: openai client not configured")
	}

	messages, err := convertMessagesToOpenAI(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("providers: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model.APIModel,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err = p.Retry(ctx, func() error {
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("providers: openai stream: %w", err)
	}

	chunks := make(chan StreamChunk)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- StreamChunk) {
	defer close(out)
	defer stream.Close()

	type partial struct {
		id, name, args string
	}
	toolCalls := make(map[int]*partial)
	terminated := false

	flushToolCalls := func(reason FinishReason) {
		for _, tc := range toolCalls {
			if tc.id == "" || tc.name == "" {
				continue
			}
			out <- StreamChunk{
				ToolCallID:   tc.id,
				ToolName:     tc.name,
				ArgsDelta:    tc.args,
				FinishReason: reason,
			}
		}
		toolCalls = make(map[int]*partial)
		terminated = true
	}

	for {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !terminated {
					out <- StreamChunk{FinishReason: FinishStop}
				}
				return
			}
			out <- StreamChunk{Err: err}
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- StreamChunk{Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &partial{}
			}
			if tc.ID != "" {
				toolCalls[idx].id = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].args += tc.Function.Arguments
			}
		}

		if fr := mapOpenAIFinishReason(choice.FinishReason); fr != "" {
			if fr == FinishToolCalls {
				flushToolCalls(fr)
			} else {
				out <- StreamChunk{FinishReason: fr}
				terminated = true
			}
		}
	}
}

func mapOpenAIFinishReason(r openai.FinishReason) FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonContentFilter:
		return FinishContentFilter
	default:
		return ""
	}
}

// convertMessagesToOpenAI converts the normalized ChatMessage sequence into
// the wire format shared by openai.go and compatible.go (§4.3.1).
func convertMessagesToOpenAI(messages []cortex.ChatMessage) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == cortex.RoleTool {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content.AsText(),
				ToolCallID: msg.ToolCallID,
			})
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{Role: string(msg.Role), Name: msg.Name}

		if msg.HasToolCalls() {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}

		if parts := msg.Content.Parts; hasNonTextPart(parts) {
			oaiMsg.MultiContent = convertPartsToOpenAI(parts)
		} else {
			oaiMsg.Content = msg.Content.AsText()
		}

		result = append(result, oaiMsg)
	}

	return result, nil
}

func hasNonTextPart(parts []cortex.ContentPart) bool {
	for _, p := range parts {
		if p.Type != cortex.ContentText {
			return true
		}
	}
	return false
}

func convertPartsToOpenAI(parts []cortex.ContentPart) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case cortex.ContentText:
			out = append(out, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
		case cortex.ContentImageURL:
			if p.ImageURL != nil {
				out = append(out, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL, Detail: openai.ImageURLDetailAuto},
				})
			}
		}
	}
	return out
}

func convertToolsToOpenAI(tools []cortex.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}
