package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/types"
)

// OllamaClient manages communication with the Ollama chat API
type OllamaClient struct {
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
	logger      zerolog.Logger
}

// Request represents a request to the Ollama API
type Request struct {
	Model    string                 `json:"model"`
	Messages []types.Message        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []interface{}          `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// Response represents a response from the Ollama API
type Response struct {
	Model   string `json:"model"`
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
}

// NewOllamaClient creates a new Ollama client. endpoint is the API root, e.g. http://localhost:11434/api
func NewOllamaClient(endpoint, model string, temperature float64, logger zerolog.Logger) *OllamaClient {
	return &OllamaClient{
		endpoint:    endpoint,
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
		logger:      logger.With().Str("component", "ollama").Logger(),
	}
}

// Complete sends the conversation to the model and returns its reply
func (c *OllamaClient) Complete(ctx context.Context, messages []types.Message, tools []mcp.Tool) (*types.LLMResponse, error) {
	req := Request{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Tools:    c.convertTools(tools),
		Options:  map[string]interface{}{"temperature": c.temperature},
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, &types.LLMError{Operation: "complete", Message: "ollama request failed", Err: err}
	}
	return resp, nil
}

// convertTools converts MCP tools to Ollama format
func (c *OllamaClient) convertTools(tools []mcp.Tool) []interface{} {
	var ollamaTools []interface{}

	for _, tool := range tools {
		ollamaTool := map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        sanitizeToolName(tool.Name),
				"description": tool.Description,
				"parameters":  toolParameters(tool),
			},
		}
		ollamaTools = append(ollamaTools, ollamaTool)
	}

	return ollamaTools
}

// sendRequest sends a request to the Ollama API
func (c *OllamaClient) sendRequest(ctx context.Context, req Request) (*types.LLMResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat", c.endpoint)
	c.logger.Debug().Str("endpoint", endpoint).Int("messages", len(req.Messages)).Int("tools", len(req.Tools)).Msg("sending chat request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug().RawJSON("body", body).Msg("received response from ollama")

	var ollamaResp Response
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &types.LLMResponse{
		Content:   ollamaResp.Message.Content,
		ToolCalls: ollamaResp.Message.ToolCalls,
	}, nil
}
