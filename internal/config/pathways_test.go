package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

func TestBuildModelsConvertsDefs(t *testing.T) {
	cfg := &Config{Models: []ModelDef{
		{Name: "gpt-chat", Vendor: "openai", APIModel: "gpt-4o", MaxTokenLength: 128000, SupportsTools: true},
	}}

	models, err := cfg.BuildModels()
	require.NoError(t, err)
	require.Contains(t, models, "gpt-chat")
	assert.Equal(t, cortex.VendorOpenAI, models["gpt-chat"].Vendor)
	assert.True(t, models["gpt-chat"].SupportsTools)
}

func TestBuildModelsRejectsDuplicateNames(t *testing.T) {
	cfg := &Config{Models: []ModelDef{{Name: "m"}, {Name: "m"}}}
	_, err := cfg.BuildModels()
	assert.Error(t, err)
}

func TestBuildPathwaysConvertsDefs(t *testing.T) {
	cfg := &Config{Pathways: []PathwayDef{
		{
			Name:                   "chat",
			Model:                  "gpt-chat",
			TimeoutSeconds:         30,
			EmulateOpenAIChatModel: "cortex-chat",
			ChatIDs:                []string{"abc", "*"},
			Tools:                  []ToolDef{{Name: "sum", Description: "adds numbers"}},
		},
	}}

	pathways, err := cfg.BuildPathways()
	require.NoError(t, err)
	require.Len(t, pathways, 1)
	p := pathways[0]
	assert.Equal(t, "chat", p.Name)
	assert.Equal(t, "gpt-chat", p.Model)
	assert.Equal(t, 30e9, float64(p.Timeout))
	assert.True(t, p.ChatIDs["abc"])
	assert.True(t, p.ChatIDs["*"])
	require.Len(t, p.Tools, 1)
	assert.Equal(t, "sum", p.Tools[0].Name)
}

func TestBuildPathwaysRejectsMissingName(t *testing.T) {
	cfg := &Config{Pathways: []PathwayDef{{Model: "gpt-chat"}}}
	_, err := cfg.BuildPathways()
	assert.Error(t, err)
}
