package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"agentkit/internal/domain"
)

// validatedTool checks call arguments against the tool's compiled JSON
// schema before delegating. Validation failures come back as error results,
// not Go errors, so the model sees what it got wrong and can retry.
type validatedTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so Execute rejects arguments that do not
// match the declared parameter schema. Tools without a schema pass through
// untouched. Compilation errors surface at registration time.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	compiled, err := compileSchema(t.Name(), t.Schema().Parameters)
	if err != nil {
		return nil, err
	}
	if compiled == nil {
		return t, nil
	}
	return &validatedTool{Tool: t, schema: compiled}, nil
}

func compileSchema(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool %q schema: %w", toolName, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tool %q schema: %w", toolName, err)
	}
	return compiled, nil
}

func (v *validatedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid JSON arguments: %v", err)}, nil
	}
	if err := v.schema.Validate(decoded); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("arguments rejected by schema: %v", err)}, nil
	}
	return v.Tool.Execute(ctx, params)
}
