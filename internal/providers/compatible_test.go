package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

func TestNewCompatiblePluginName(t *testing.T) {
	p := NewCompatiblePlugin("key", "https://my-deployment.example.com/v1")
	assert.Equal(t, "compatible", p.Name())
	assert.True(t, p.SupportsTools())
}

func TestConvertMessagesToOpenAICompat(t *testing.T) {
	msgs := []cortex.ChatMessage{
		{Role: cortex.RoleUser, Content: cortex.StringContent("hi")},
		{
			Role:    cortex.RoleAssistant,
			Content: cortex.NullContent(),
			ToolCalls: []cortex.ToolCall{
				{ID: "call_1", Function: cortex.ToolCallFunc{Name: "sum", Arguments: `{"a":1}`}},
			},
		},
		{Role: cortex.RoleTool, ToolCallID: "call_1", Content: cortex.StringContent("1")},
	}
	out := convertMessagesToOpenAICompat(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, "hi", out[0].Content)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "sum", out[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", out[2].ToolCallID)
}

func TestConvertToolsToOpenAICompat(t *testing.T) {
	tools := []cortex.ToolSpec{{Name: "sum", Description: "adds", Parameters: map[string]any{"type": "object"}}}
	out := convertToolsToOpenAICompat(tools)
	require.Len(t, out, 1)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "sum", out[0].Function.Name)
}
