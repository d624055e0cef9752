// Package llm is the text-generation boundary. Every model call in the
// auditor goes through a Completer.
package llm

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/types"
)

// Completer generates the next assistant message for a conversation.
// When tools is non-empty the model may answer with tool calls instead of text.
type Completer interface {
	Complete(ctx context.Context, messages []types.Message, tools []mcp.Tool) (*types.LLMResponse, error)
}

// New builds the Completer selected by cfg.Provider
func New(cfg config.LLMConfig, logger zerolog.Logger) (Completer, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(cfg.Endpoint, cfg.Model, cfg.Temperature, logger), nil
	case "openai":
		return NewOpenAIClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Temperature, logger), nil
	default:
		return nil, &types.ConfigError{Field: "llm.provider", Message: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
}

// Prompt is a convenience for single-shot generations: one optional system
// instruction and one user message, no tools.
func Prompt(ctx context.Context, c Completer, system, user string) (string, error) {
	var messages []types.Message
	if system != "" {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: system})
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: user})

	resp, err := c.Complete(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// sanitizeToolName converts a tool name to a format compatible with function-calling APIs
func sanitizeToolName(name string) string {
	sanitized := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '-' || r == ' ' {
			sanitized = append(sanitized, '_')
		} else {
			sanitized = append(sanitized, r)
		}
	}
	return string(sanitized)
}

// toolParameters renders an MCP input schema as a JSON Schema object
func toolParameters(tool mcp.Tool) map[string]interface{} {
	properties := tool.InputSchema.Properties
	if properties == nil {
		properties = map[string]interface{}{}
	}
	params := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(tool.InputSchema.Required) > 0 {
		params["required"] = tool.InputSchema.Required
	}
	return params
}
