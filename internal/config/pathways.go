package config

import (
	"fmt"
	"time"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// ModelDef is the YAML-declarable form of cortex.Model (§3), letting a
// deployment add or repoint a model assignment without a Go rebuild.
type ModelDef struct {
	Name              string  `yaml:"name"`
	Vendor            string  `yaml:"vendor"`
	APIModel          string  `yaml:"api_model"`
	MaxTokenLength    int     `yaml:"max_token_length"`
	SupportsTools     bool    `yaml:"supports_tools"`
	Reasoning         bool    `yaml:"reasoning"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ToolDef is the YAML-declarable form of cortex.ToolSpec.
type ToolDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// ParamDef is the YAML-declarable form of cortex.ParamSpec.
type ParamDef struct {
	Name    string `yaml:"name"`
	Default any    `yaml:"default"`
}

// PathwayDef is the YAML-declarable form of cortex.Pathway (§3). Pathways
// needing an ExecutePathwayOverride have no YAML representation and are
// registered directly in code instead.
type PathwayDef struct {
	Name                         string     `yaml:"name"`
	Template                     string     `yaml:"template"`
	Model                        string     `yaml:"model"`
	Tools                        []ToolDef  `yaml:"tools"`
	Params                       []ParamDef `yaml:"params"`
	OutputShape                  string     `yaml:"output_shape"`
	OutputFieldSpec              string     `yaml:"output_field_spec"`
	UseInputChunking             bool       `yaml:"use_input_chunking"`
	EnableDuplicateRequests      bool       `yaml:"enable_duplicate_requests"`
	TimeoutSeconds               int        `yaml:"timeout_seconds"`
	CompressionThresholdFraction float64    `yaml:"compression_threshold_fraction"`
	FallbackPathway              string     `yaml:"fallback_pathway"`
	EmulateOpenAIChatModel       string     `yaml:"emulate_openai_chat_model"`
	InCollection                 bool       `yaml:"in_collection"`
	ChatIDs                      []string   `yaml:"chat_ids"`
}

// BuildModels converts the declared ModelDefs into the map keyed by model
// name the executor and REST surface expect.
func (c *Config) BuildModels() (map[string]*cortex.Model, error) {
	models := make(map[string]*cortex.Model, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("config: model entry missing name")
		}
		if _, dup := models[m.Name]; dup {
			return nil, fmt.Errorf("config: duplicate model name %q", m.Name)
		}
		models[m.Name] = &cortex.Model{
			Name:              m.Name,
			Vendor:            cortex.Vendor(m.Vendor),
			APIModel:          m.APIModel,
			MaxTokenLength:    m.MaxTokenLength,
			SupportsTools:     m.SupportsTools,
			Reasoning:         m.Reasoning,
			BaseURL:           m.BaseURL,
			APIKey:            m.APIKey,
			RequestsPerSecond: m.RequestsPerSecond,
		}
	}
	return models, nil
}

// BuildPathways converts the declared PathwayDefs into cortex.Pathway
// values ready for Registry.Register.
func (c *Config) BuildPathways() ([]*cortex.Pathway, error) {
	pathways := make([]*cortex.Pathway, 0, len(c.Pathways))
	for _, d := range c.Pathways {
		if d.Name == "" {
			return nil, fmt.Errorf("config: pathway entry missing name")
		}

		tools := make([]cortex.ToolSpec, 0, len(d.Tools))
		for _, t := range d.Tools {
			tools = append(tools, cortex.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}

		params := make([]cortex.ParamSpec, 0, len(d.Params))
		for _, p := range d.Params {
			params = append(params, cortex.ParamSpec{Name: p.Name, Default: p.Default})
		}

		var chatIDs map[string]bool
		if len(d.ChatIDs) > 0 {
			chatIDs = make(map[string]bool, len(d.ChatIDs))
			for _, id := range d.ChatIDs {
				chatIDs[id] = true
			}
		}

		outputShape := cortex.OutputText
		if d.OutputShape != "" {
			outputShape = cortex.OutputShape(d.OutputShape)
		}

		pathways = append(pathways, &cortex.Pathway{
			Name:                         d.Name,
			Template:                     d.Template,
			Model:                        d.Model,
			Tools:                        tools,
			Params:                       params,
			OutputShape:                  outputShape,
			OutputFieldSpec:              d.OutputFieldSpec,
			UseInputChunking:             d.UseInputChunking,
			EnableDuplicateRequests:      d.EnableDuplicateRequests,
			Timeout:                      time.Duration(d.TimeoutSeconds) * time.Second,
			CompressionThresholdFraction: d.CompressionThresholdFraction,
			FallbackPathway:              d.FallbackPathway,
			EmulateOpenAIChatModel:       d.EmulateOpenAIChatModel,
			InCollection:                 d.InCollection,
			ChatIDs:                      chatIDs,
		})
	}
	return pathways, nil
}
