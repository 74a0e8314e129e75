package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache holds compiled schemas keyed by tool name. Schemas are
// static per tool, so compiling once is enough.
var schemaCache sync.Map

// ValidateParams checks the raw arguments against the tool's input
// schema. Malformed JSON and schema violations both fail validation.
func ValidateParams(tool Tool, params json.RawMessage) error {
	sch, err := compiledSchema(tool)
	if err != nil {
		return err
	}

	var args any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
	} else {
		args = map[string]any{}
	}

	if err := sch.Validate(args); err != nil {
		return fmt.Errorf("arguments for %s rejected by schema: %w", tool.Name(), err)
	}
	return nil
}

func compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(tool.Name()); ok {
		return cached.(*jsonschema.Schema), nil
	}

	var schemaObj any
	if err := json.Unmarshal(tool.InputSchema(), &schemaObj); err != nil {
		return nil, fmt.Errorf("tool %s has an invalid input schema: %w", tool.Name(), err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", tool.Name(), err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", tool.Name(), err)
	}

	schemaCache.Store(tool.Name(), sch)
	return sch, nil
}
