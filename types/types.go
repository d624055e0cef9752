// types/types.go
package types

import "fmt"

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation request from the LLM
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a function tool call
func NewToolCall(id, name string, args map[string]interface{}) ToolCall {
	var call ToolCall
	call.ID = id
	call.Type = "function"
	call.Function.Name = name
	call.Function.Arguments = args
	return call
}

// LLMResponse represents a response from the LLM
type LLMResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Message represents a message in the conversation
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolResult is the outcome of one tool execution. It is never mutated after creation.
type ToolResult struct {
	ToolName string      `json:"tool_name"`
	CallID   string      `json:"call_id"`
	Content  string      `json:"content"`
	Data     interface{} `json:"data,omitempty"`
	Failed   bool        `json:"failed,omitempty"`
}

// CheckToolThreading verifies that every tool message answers a tool call
// issued by an earlier assistant message.
func CheckToolThreading(messages []Message) error {
	issued := make(map[string]bool)
	for i, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					return fmt.Errorf("message %d: assistant tool call %q has no identifier", i, call.Function.Name)
				}
				issued[call.ID] = true
			}
		case RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("message %d: tool message without tool_call_id", i)
			}
			if !issued[msg.ToolCallID] {
				return fmt.Errorf("message %d: tool message references unknown call %s", i, msg.ToolCallID)
			}
		}
	}
	return nil
}
