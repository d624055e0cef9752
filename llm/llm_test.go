package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupTool() mcp.Tool {
	return mcp.Tool{
		Name:        "structured-lookup",
		Description: "Answer a question from the transaction table",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{"type": "string"},
			},
			Required: []string{"question"},
		},
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.DefaultConfig().LLM

	cfg.Provider = "ollama"
	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, c)

	cfg.Provider = "openai"
	c, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	cfg.Provider = "carrier-pigeon"
	_, err = New(cfg, zerolog.Nop())
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestOllamaClientComplete(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"structured_lookup","arguments":{"question":"total spend"}}}]}}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/api", "m", 0, zerolog.Nop())
	resp, err := c.Complete(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, []mcp.Tool{lookupTool()})
	require.NoError(t, err)

	assert.Equal(t, "m", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Tools, 1)
	fn := got.Tools[0].(map[string]interface{})["function"].(map[string]interface{})
	assert.Equal(t, "structured_lookup", fn["name"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "structured_lookup", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, "total spend", resp.ToolCalls[0].Function.Arguments["question"])
}

func TestOllamaClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/api", "m", 0, zerolog.Nop())
	_, err := c.Complete(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	require.ErrorIs(t, err, types.ErrLLMResponse)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenAIClientComplete(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "llama",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "structured_lookup", "arguments": "{\"question\":\"total spend\"}"}
					}]
				}
			}]
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1", "secret", "llama", 0, zerolog.Nop(), option.WithMaxRetries(0))

	call := types.NewToolCall("call_0", "policy_violation_audit", map[string]interface{}{})
	history := []types.Message{
		{Role: types.RoleSystem, Content: "be careful"},
		{Role: types.RoleUser, Content: "audit"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{call}},
		{Role: types.RoleTool, Content: "{}", ToolCallID: "call_0", ToolName: "policy_violation_audit"},
		{Role: types.RoleUser, Content: "how much did Michael spend?"},
	}
	resp, err := c.Complete(context.Background(), history, []mcp.Tool{lookupTool()})
	require.NoError(t, err)

	assert.Equal(t, "llama", body["model"])
	assert.EqualValues(t, 0, body["temperature"])
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 5)
	assert.Equal(t, "tool", messages[3].(map[string]interface{})["role"])
	assert.Equal(t, "call_0", messages[3].(map[string]interface{})["tool_call_id"])
	tools := body["tools"].([]interface{})
	require.Len(t, tools, 1)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "structured_lookup", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, "total spend", resp.ToolCalls[0].Function.Arguments["question"])
}

func TestOpenAIClientMalformedArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"structured_lookup","arguments":"{not json"}}]}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "m", 0, zerolog.Nop(), option.WithMaxRetries(0))
	resp, err := c.Complete(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, []mcp.Tool{lookupTool()})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Nil(t, resp.ToolCalls[0].Function.Arguments)
}

func TestValidator(t *testing.T) {
	v, err := NewValidator([]mcp.Tool{lookupTool()})
	require.NoError(t, err)

	ok := types.NewToolCall("1", "structured_lookup", map[string]interface{}{"question": "total"})
	require.NoError(t, v.ValidateToolCall(ok))

	missing := types.NewToolCall("2", "structured_lookup", map[string]interface{}{})
	err = v.ValidateToolCall(missing)
	require.ErrorIs(t, err, types.ErrToolExecution)
	assert.Contains(t, err.Error(), "question")

	wrongType := types.NewToolCall("3", "structured_lookup", map[string]interface{}{"question": 42})
	require.ErrorIs(t, v.ValidateToolCall(wrongType), types.ErrToolExecution)

	nilArgs := types.NewToolCall("4", "structured_lookup", nil)
	require.ErrorIs(t, v.ValidateToolCall(nilArgs), types.ErrToolExecution)

	unknown := types.NewToolCall("5", "shred_documents", map[string]interface{}{})
	require.ErrorIs(t, v.ValidateToolCall(unknown), types.ErrUnknownTool)

	require.Error(t, v.ValidateResponse(nil))
	require.NoError(t, v.ValidateResponse(&types.LLMResponse{ToolCalls: []types.ToolCall{ok}}))
}
