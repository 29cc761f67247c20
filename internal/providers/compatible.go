package providers

import (
	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// CompatiblePlugin serves any OpenAI-compatible REST deployment (Azure
// OpenAI, local model servers, proxies) by reusing OpenAIPlugin's wire
// format against a configurable base URL (§4.3). It is a distinct Vendor
// so pathway configuration and metrics can distinguish it from genuine
// OpenAI traffic.
type CompatiblePlugin struct {
	*OpenAIPlugin
}

// NewCompatiblePlugin creates a plugin targeting baseURL with apiKey.
func NewCompatiblePlugin(apiKey, baseURL string) *CompatiblePlugin {
	return &CompatiblePlugin{OpenAIPlugin: NewOpenAIPlugin(apiKey, baseURL)}
}

func (p *CompatiblePlugin) Name() string { return "compatible" }

// openAICompatMessage is the minimal chat-completion-chunk message shape
// shared by the hand-rolled grok.go client and any other plugin that talks
// the OpenAI wire format without the sashabaranov SDK.
type openAICompatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	ToolCalls []openAICompatToolCall `json:"tool_calls,omitempty"`
}

type openAICompatToolCall struct {
	ID       string                   `json:"id"`
	Type     string                   `json:"type"`
	Function openAICompatFunctionCall `json:"function"`
}

type openAICompatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAICompatToolDeclaration struct {
	Type     string                    `json:"type"`
	Function openAICompatFunctionSpec  `json:"function"`
}

type openAICompatFunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func convertMessagesToOpenAICompat(messages []cortex.ChatMessage) []openAICompatMessage {
	out := make([]openAICompatMessage, 0, len(messages))
	for _, msg := range messages {
		m := openAICompatMessage{
			Role:       string(msg.Role),
			Content:    msg.Content.AsText(),
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openAICompatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAICompatFunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func convertToolsToOpenAICompat(tools []cortex.ToolSpec) []openAICompatToolDeclaration {
	out := make([]openAICompatToolDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAICompatToolDeclaration{
			Type: "function",
			Function: openAICompatFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
