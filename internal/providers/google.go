package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// GooglePlugin implements Plugin against Gemini's GenerateContent API.
type GooglePlugin struct {
	*BaseProvider
	client *genai.Client
}

// NewGooglePlugin creates a plugin bound to apiKey.
func NewGooglePlugin(ctx context.Context, apiKey string) (*GooglePlugin, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: google client: %w", err)
	}
	return &GooglePlugin{BaseProvider: NewBaseProvider("google", 3), client: client}, nil
}

func (p *GooglePlugin) Name() string        { return "google" }
func (p *GooglePlugin) SupportsTools() bool { return true }

func (p *GooglePlugin) Complete(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	contents, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("providers: google convert messages: %w", err)
	}

	config := buildGeminiConfig(req)

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)

		var terminated bool
		retryErr := p.Retry(ctx, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, req.Model.APIModel, contents, config)
			var err error
			terminated, err = processGeminiStream(ctx, streamIter, chunks)
			return err
		})
		if retryErr != nil {
			chunks <- StreamChunk{Err: retryErr}
			return
		}
		// Gemini emits tool calls atomically (§4.3.2), so a FunctionCall
		// part or a mapped candidate.FinishReason already produced the
		// stream's one terminal chunk; only synthesize a trailing "stop"
		// when neither happened, to keep exactly one finish_reason-bearing
		// chunk per request (§8 invariant 3).
		if !terminated {
			chunks <- StreamChunk{FinishReason: FinishStop}
		}
	}()

	return chunks, nil
}

func processGeminiStream(ctx context.Context, streamIter func(func(*genai.GenerateContentResponse, error) bool), out chan<- StreamChunk) (bool, error) {
	var streamErr error
	terminated := false
	streamIter(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		default:
		}
		if err != nil {
			streamErr = err
			return false
		}
		if resp == nil {
			return true
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- StreamChunk{Delta: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					out <- StreamChunk{
						ToolCallID:   part.FunctionCall.Name,
						ToolName:     part.FunctionCall.Name,
						ArgsDelta:    string(argsJSON),
						FinishReason: FinishToolCalls,
					}
					terminated = true
				}
			}
			if fr := mapGeminiFinishReason(candidate.FinishReason); fr != "" && fr != FinishToolCalls && !terminated {
				out <- StreamChunk{FinishReason: fr}
				terminated = true
			}
		}
		return true
	})
	return terminated, streamErr
}

func mapGeminiFinishReason(r genai.FinishReason) FinishReason {
	switch r {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return FinishContentFilter
	default:
		return ""
	}
}

func convertMessagesToGemini(messages []cortex.ChatMessage) ([]*genai.Content, error) {
	result := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == cortex.RoleSystem {
			continue // handled via SystemInstruction in buildGeminiConfig
		}

		content := &genai.Content{}
		switch msg.Role {
		case cortex.RoleUser, cortex.RoleTool:
			content.Role = genai.RoleUser
		case cortex.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Role == cortex.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content.AsText()), &response); err != nil {
				response = map[string]any{"result": msg.Content.AsText()}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: msg.ToolCallID, Response: response},
			})
			result = append(result, content)
			continue
		}

		if text := msg.Content.AsText(); text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: text})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("providers: invalid tool call arguments for %s: %w", tc.Function.Name, err)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
			})
		}

		result = append(result, content)
	}
	return result, nil
}

func buildGeminiConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	for _, msg := range req.Messages {
		if msg.Role == cortex.RoleSystem {
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content.AsText()}},
			}
			break
		}
	}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = convertToolsToGemini(req.Tools)
	}

	return config
}

func convertToolsToGemini(tools []cortex.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertJSONSchemaToGemini(t.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertJSONSchemaToGemini narrows a JSON-Schema-shaped map to genai's
// Schema type for the common "object with typed properties" case used by
// every tool declared in this gateway.
func convertJSONSchemaToGemini(params map[string]any) *genai.Schema {
	if params == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	if props, ok := params["properties"].(map[string]any); ok {
		for name, raw := range props {
			if propMap, ok := raw.(map[string]any); ok {
				schema.Properties[name] = &genai.Schema{
					Type:        geminiTypeOf(propMap["type"]),
					Description: stringOr(propMap["description"]),
				}
			}
		}
	}
	if required, ok := params["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func geminiTypeOf(t any) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func stringOr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
