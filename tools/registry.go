// tools/registry.go
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/auditor/llm"
	"github.com/sammcj/auditor/types"
)

// Registered tool names
const (
	SemanticLookupName   = "semantic_lookup"
	StructuredLookupName = "structured_lookup"
	PolicyAuditName      = "policy_violation_audit"
	CrossSourceAuditName = "cross_source_audit"
)

// SemanticLookupArgs are the arguments of semantic_lookup
type SemanticLookupArgs struct {
	Query  string `json:"query" jsonschema_description:"What to look for in e-mails, conversations and the compliance policy"`
	Source string `json:"source,omitempty" jsonschema:"enum=policy,enum=email" jsonschema_description:"Restrict the search to the compliance policy or to e-mails. Omit to search everything"`
	K      int    `json:"k,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Number of fragments to return"`
}

// StructuredLookupArgs are the arguments of structured_lookup
type StructuredLookupArgs struct {
	Question string `json:"question" jsonschema_description:"The question to answer from the transaction table, in plain language"`
}

type noArgs struct{}

// Registry holds the tool specs bound to the model and decodes the calls it makes
type Registry struct {
	specs     []mcp.Tool
	validator *llm.Validator
	defaultK  int
}

// NewRegistry builds the four audit tools. defaultK is used when semantic_lookup omits k.
func NewRegistry(defaultK int) (*Registry, error) {
	defs := []struct {
		name, description string
		args              interface{}
	}{
		{SemanticLookupName, "Search e-mails, internal conversations and the compliance policy by meaning. Use it for intentions, rules, excuses and what people said.", &SemanticLookupArgs{}},
		{StructuredLookupName, "Answer a question from the financial transaction table: amounts, totals, averages, categories, employees, dates and exact values.", &StructuredLookupArgs{}},
		{PolicyAuditName, "Cross-check every transaction against the written compliance policy and report the violations.", &noArgs{}},
		{CrossSourceAuditName, "Correlate suspicious e-mails with transactions to confirm or refute hidden expenses.", &noArgs{}},
	}

	r := &Registry{defaultK: defaultK}
	for _, d := range defs {
		schema, err := reflectSchema(d.args)
		if err != nil {
			return nil, fmt.Errorf("failed to build schema for %s: %w", d.name, err)
		}
		r.specs = append(r.specs, mcp.Tool{Name: d.name, Description: d.description, InputSchema: schema})
	}

	validator, err := llm.NewValidator(r.specs)
	if err != nil {
		return nil, err
	}
	r.validator = validator
	return r, nil
}

// Specs returns the tool specs in registration order
func (r *Registry) Specs() []mcp.Tool {
	return append([]mcp.Tool(nil), r.specs...)
}

// Decode turns a model tool call into an Invocation. It never fails: unknown
// names and bad arguments become Unknown and Malformed.
func (r *Registry) Decode(call types.ToolCall) Invocation {
	name := call.Function.Name
	args := call.Function.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	normalized := call
	normalized.Function.Arguments = args

	if err := r.validator.ValidateToolCall(normalized); err != nil {
		var unknown *types.UnknownToolError
		if errors.As(err, &unknown) {
			return Unknown{ID: call.ID, Name: name}
		}
		return Malformed{ID: call.ID, Name: name, Err: err}
	}

	switch name {
	case SemanticLookupName:
		var a SemanticLookupArgs
		if err := remarshal(args, &a); err != nil {
			return Malformed{ID: call.ID, Name: name, Err: err}
		}
		if a.K <= 0 {
			a.K = r.defaultK
		}
		return SemanticLookup{ID: call.ID, Query: a.Query, Source: a.Source, K: a.K}
	case StructuredLookupName:
		var a StructuredLookupArgs
		if err := remarshal(args, &a); err != nil {
			return Malformed{ID: call.ID, Name: name, Err: err}
		}
		return StructuredLookup{ID: call.ID, Question: a.Question}
	case PolicyAuditName:
		return RunPolicyAudit{ID: call.ID}
	case CrossSourceAuditName:
		return RunCrossSourceAudit{ID: call.ID}
	default:
		return Unknown{ID: call.ID, Name: name}
	}
}

func reflectSchema(v interface{}) (mcp.ToolInputSchema, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return mcp.ToolInputSchema{}, err
	}

	var raw struct {
		Properties map[string]interface{} `json:"properties"`
		Required   []string               `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return mcp.ToolInputSchema{}, err
	}
	if raw.Properties == nil {
		raw.Properties = map[string]interface{}{}
	}
	return mcp.ToolInputSchema{Type: "object", Properties: raw.Properties, Required: raw.Required}, nil
}

func remarshal(in map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
