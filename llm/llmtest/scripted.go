// Package llmtest provides a scripted Completer for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/auditor/types"
)

// ErrScriptExhausted is returned when Complete is called more often than scripted
var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Call records one invocation of Complete
type Call struct {
	Messages []types.Message
	Tools    []mcp.Tool
}

// Step is one scripted reply. Exactly one of Response or Err should be set.
type Step struct {
	Response *types.LLMResponse
	Err      error
}

// ScriptedCompleter replays queued replies in order and records every call
type ScriptedCompleter struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
}

// NewScriptedCompleter returns a completer that will replay steps in order
func NewScriptedCompleter(steps ...Step) *ScriptedCompleter {
	return &ScriptedCompleter{steps: steps}
}

// Text is a step that answers with plain content
func Text(content string) Step {
	return Step{Response: &types.LLMResponse{Content: content}}
}

// Tools is a step that answers with tool calls
func Tools(calls ...types.ToolCall) Step {
	return Step{Response: &types.LLMResponse{ToolCalls: calls}}
}

// Fail is a step that answers with an error
func Fail(err error) Step {
	return Step{Err: err}
}

// Push appends more steps to the script
func (s *ScriptedCompleter) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Complete implements llm.Completer
func (s *ScriptedCompleter) Complete(ctx context.Context, messages []types.Message, tools []mcp.Tool) (*types.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{
		Messages: append([]types.Message(nil), messages...),
		Tools:    append([]mcp.Tool(nil), tools...),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// Calls returns a copy of the recorded calls
func (s *ScriptedCompleter) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Remaining reports how many scripted steps have not been consumed
func (s *ScriptedCompleter) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
