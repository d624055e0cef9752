// Package orchestrator drives one chat exchange: it lets the model choose
// tools, dispatches them once, and synthesizes the final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/llm"
	"github.com/sammcj/auditor/tools"
	"github.com/sammcj/auditor/types"
)

// State is a step of the exchange state machine
type State string

const (
	StateAwaitingDecision  State = "awaiting_decision"
	StateDirect            State = "direct"
	StateToolDispatch      State = "tool_dispatch"
	StateAwaitingSynthesis State = "awaiting_synthesis"
	StateDone              State = "done"
)

// ErrEmptyMessage is returned when the user message is blank
var ErrEmptyMessage = errors.New("message is empty")

const (
	decisionFailureText = "I could not reach the reasoning service, so no evidence was gathered. Please try again."
	emptyAnswerText     = "I could not produce an answer to that question."
	apologyText         = "I'm sorry, I could not write the final answer. Here is the evidence gathered so far:"
)

// ToolRunner executes decoded invocations
type ToolRunner interface {
	Run(ctx context.Context, inv tools.Invocation) types.ToolResult
}

// Exchange is the full record of one request
type Exchange struct {
	Messages       []types.Message
	Results        []types.ToolResult
	States         []State
	Final          string
	Degraded       bool
	DispatchRounds int
}

func (e *Exchange) enter(s State) {
	e.States = append(e.States, s)
}

// Orchestrator answers user messages with the help of the registered tools
type Orchestrator struct {
	llm          llm.Completer
	registry     *tools.Registry
	runner       ToolRunner
	systemPrompt string
	logger       zerolog.Logger
}

// New creates an orchestrator
func New(completer llm.Completer, registry *tools.Registry, runner ToolRunner, systemPrompt string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		llm:          completer,
		registry:     registry,
		runner:       runner,
		systemPrompt: systemPrompt,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Handle answers text given the prior conversation. The returned text is always
// fit to show the user; a non-nil error explains a degraded answer.
func (o *Orchestrator) Handle(ctx context.Context, text string, history []types.Message) (string, error) {
	ex, err := o.Run(ctx, text, history)
	if ex == nil {
		return "", err
	}
	return ex.Final, err
}

// Run executes one exchange and returns its full record
func (o *Orchestrator) Run(ctx context.Context, text string, history []types.Message) (*Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	ex := &Exchange{Messages: o.initialMessages(text, history)}
	ex.enter(StateAwaitingDecision)

	decision, err := o.llm.Complete(ctx, ex.Messages, o.registry.Specs())
	if err != nil {
		o.logger.Error().Err(err).Msg("decision call failed")
		ex.Final = decisionFailureText
		ex.Degraded = true
		ex.enter(StateDone)
		return ex, &types.LLMError{Operation: "decide", Message: "reasoning call failed", Err: err}
	}

	if len(decision.ToolCalls) == 0 {
		ex.enter(StateDirect)
		ex.Final = decision.Content
		if strings.TrimSpace(ex.Final) == "" {
			ex.Final = emptyAnswerText
			ex.Degraded = true
		}
		ex.Messages = append(ex.Messages, types.Message{Role: types.RoleAssistant, Content: decision.Content})
		ex.enter(StateDone)
		o.logger.Debug().Msg("answered directly")
		return ex, nil
	}

	ex.enter(StateToolDispatch)
	o.dispatch(ctx, ex, decision)

	ex.enter(StateAwaitingSynthesis)
	final, err := o.synthesize(ctx, ex)
	if err != nil {
		o.logger.Warn().Err(err).Int("results", len(ex.Results)).Msg("synthesis failed, returning gathered evidence")
		ex.Final = fallback(ex.Results)
		ex.Degraded = true
		ex.enter(StateDone)
		return ex, err
	}

	ex.Final = final
	ex.Messages = append(ex.Messages, types.Message{Role: types.RoleAssistant, Content: final})
	ex.enter(StateDone)
	return ex, nil
}

func (o *Orchestrator) initialMessages(text string, history []types.Message) []types.Message {
	messages := make([]types.Message, 0, len(history)+2)
	messages = append(messages, types.Message{Role: types.RoleSystem, Content: o.systemPrompt})
	for _, m := range history {
		// the persona is fixed per request; stored tool traffic is not replayed
		if m.Role == types.RoleUser || (m.Role == types.RoleAssistant && len(m.ToolCalls) == 0) {
			messages = append(messages, types.Message{Role: m.Role, Content: m.Content})
		}
	}
	return append(messages, types.Message{Role: types.RoleUser, Content: text})
}

// dispatch runs every proposed call once, in the order the model proposed them
func (o *Orchestrator) dispatch(ctx context.Context, ex *Exchange, decision *types.LLMResponse) {
	calls := make([]types.ToolCall, len(decision.ToolCalls))
	for i, call := range decision.ToolCalls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if call.Type == "" {
			call.Type = "function"
		}
		calls[i] = call
	}
	ex.Messages = append(ex.Messages, types.Message{Role: types.RoleAssistant, Content: decision.Content, ToolCalls: calls})
	ex.DispatchRounds++

	for _, call := range calls {
		inv := o.registry.Decode(call)
		o.logger.Info().Str("tool", inv.ToolName()).Str("call_id", inv.CallID()).Msg("dispatching tool")

		result := o.runner.Run(ctx, inv)
		ex.Results = append(ex.Results, result)
		ex.Messages = append(ex.Messages, types.Message{
			Role:       types.RoleTool,
			Content:    result.Content,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
		})
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, ex *Exchange) (string, error) {
	if err := types.CheckToolThreading(ex.Messages); err != nil {
		return "", &types.SynthesisError{Err: err}
	}

	// No tools are bound here, which caps every exchange at one dispatch round.
	resp, err := o.llm.Complete(ctx, ex.Messages, nil)
	if err != nil {
		return "", &types.SynthesisError{Err: err}
	}
	if len(resp.ToolCalls) > 0 {
		o.logger.Warn().Int("tool_calls", len(resp.ToolCalls)).Msg("ignoring tool calls requested during synthesis")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", &types.SynthesisError{Err: errors.New("model returned an empty answer")}
	}
	return resp.Content, nil
}

func fallback(results []types.ToolResult) string {
	var b strings.Builder
	b.WriteString(apologyText)
	for _, r := range results {
		status := "ok"
		if r.Failed {
			status = "failed"
		}
		fmt.Fprintf(&b, "\n\n### %s (%s)\n%s", r.ToolName, status, r.Content)
	}
	return b.String()
}
