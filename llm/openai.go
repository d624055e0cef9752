package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/types"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// including hosted providers such as Groq.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	logger      zerolog.Logger
}

// NewOpenAIClient creates a client for the given base URL
func NewOpenAIClient(baseURL, apiKey, model string, temperature float64, logger zerolog.Logger, opts ...option.RequestOption) *OpenAIClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)}, opts...)
	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temperature,
		logger:      logger.With().Str("component", "openai").Logger(),
	}
}

// Complete sends the conversation to the model and returns its reply
func (c *OpenAIClient) Complete(ctx context.Context, messages []types.Message, tools []mcp.Tool) (*types.LLMResponse, error) {
	converted, err := convertMessages(messages)
	if err != nil {
		return nil, &types.LLMError{Operation: "complete", Message: "failed to convert messages", Err: err}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    converted,
		Tools:       convertTools(tools),
		Temperature: param.NewOpt(c.temperature),
	}

	c.logger.Debug().Int("messages", len(converted)).Int("tools", len(params.Tools)).Msg("sending chat completion")

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &types.LLMError{Operation: "complete", Message: "chat completion request failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &types.LLMError{Operation: "complete", Message: "response contained no choices"}
	}

	msg := resp.Choices[0].Message
	result := &types.LLMResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				// Keep the call so the dispatcher can report malformed arguments back to the model.
				c.logger.Warn().Err(err).Str("tool", tc.Function.Name).Msg("tool call arguments are not valid JSON")
				args = nil
			}
		}
		result.ToolCalls = append(result.ToolCalls, types.NewToolCall(tc.ID, tc.Function.Name, args))
	}

	c.logger.Debug().Int("tool_calls", len(result.ToolCalls)).Int("content_len", len(result.Content)).Msg("chat completion received")
	return result, nil
}

func convertTools(tools []mcp.Tool) []openai.ChatCompletionToolUnionParam {
	var out []openai.ChatCompletionToolUnionParam
	for _, tool := range tools {
		var description param.Opt[string]
		if tool.Description != "" {
			description = param.NewOpt(tool.Description)
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        sanitizeToolName(tool.Name),
			Description: description,
			Parameters:  toolParameters(tool),
		}))
	}
	return out
}

func convertMessages(messages []types.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: param.NewOpt(msg.Content)},
					Role:    constant.ValueOf[constant.System](),
				},
			})
		case types.RoleUser:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: param.NewOpt(msg.Content)},
					Role:    constant.ValueOf[constant.User](),
				},
			})
		case types.RoleAssistant:
			asst := &openai.ChatCompletionAssistantMessageParam{
				Role: constant.ValueOf[constant.Assistant](),
			}
			if msg.Content != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(msg.Content)}
			}
			for _, call := range msg.ToolCalls {
				arguments := "{}"
				if call.Function.Arguments != nil {
					data, err := json.Marshal(call.Function.Arguments)
					if err != nil {
						return nil, fmt.Errorf("message %d: failed to marshal tool arguments: %w", i, err)
					}
					arguments = string(data)
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Function.Name,
							Arguments: arguments,
						},
						Type: constant.ValueOf[constant.Function](),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		case types.RoleTool:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content:    openai.ChatCompletionToolMessageParamContentUnion{OfString: param.NewOpt(msg.Content)},
					ToolCallID: msg.ToolCallID,
					Role:       constant.ValueOf[constant.Tool](),
				},
			})
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}
	return out, nil
}
