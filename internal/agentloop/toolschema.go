package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// findToolSpec looks up a pathway's declared tool by name, matching
// case-insensitively the same way invokeOne resolves sys_tool_<name>.
func findToolSpec(tools []cortex.ToolSpec, name string) *cortex.ToolSpec {
	for i := range tools {
		if strings.EqualFold(tools[i].Name, name) {
			return &tools[i]
		}
	}
	return nil
}

var toolSchemaCache sync.Map

// validateToolArguments checks a model-emitted tool call's parsed
// arguments against the tool's declared JSON Schema. A schema that fails
// to compile is not held against the call (the declaration is the
// pathway author's bug, not the model's); only a genuine validation
// failure is surfaced to the model as a ToolArgumentError (§4.5).
func validateToolArguments(spec *cortex.ToolSpec, args map[string]any) error {
	schema, err := compileToolSchema(spec.Parameters)
	if err != nil {
		return nil
	}

	var payload any = args
	if args == nil {
		payload = map[string]any{}
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("tool arguments do not match %s's declared schema: %w", spec.Name, err)
	}
	return nil
}

func compileToolSchema(parameters map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	if cached, ok := toolSchemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("sys_tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	toolSchemaCache.Store(key, compiled)
	return compiled, nil
}
