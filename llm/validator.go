package llm

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/auditor/types"
	"github.com/xeipuuv/gojsonschema"
)

// Validator validates LLM responses and tool calls against the registered tool schemas
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles the input schema of every tool
func NewValidator(tools []mcp.Tool) (*Validator, error) {
	schemas := make(map[string]*gojsonschema.Schema, len(tools))
	for _, tool := range tools {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(toolParameters(tool)))
		if err != nil {
			return nil, fmt.Errorf("failed to compile input schema for tool %s: %w", tool.Name, err)
		}
		schemas[sanitizeToolName(tool.Name)] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// ValidateResponse validates an LLM response
func (v *Validator) ValidateResponse(resp *types.LLMResponse) error {
	if resp == nil {
		return &types.LLMError{Operation: "validate", Message: "response is nil"}
	}

	for _, call := range resp.ToolCalls {
		if err := v.ValidateToolCall(call); err != nil {
			return err
		}
	}

	return nil
}

// ValidateToolCall checks that the tool exists and that its arguments satisfy the schema
func (v *Validator) ValidateToolCall(call types.ToolCall) error {
	schema, ok := v.schemas[call.Function.Name]
	if !ok {
		return &types.UnknownToolError{Name: call.Function.Name}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(call.Function.Arguments))
	if err != nil {
		return &types.ToolError{Tool: call.Function.Name, Message: "failed to validate arguments", Err: err}
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &types.ToolError{Tool: call.Function.Name, Message: "invalid arguments: " + strings.Join(problems, "; ")}
}
