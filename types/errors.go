// types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBridgeInit indicates bridge initialization failed
	ErrBridgeInit = errors.New("bridge initialization failed")

	// ErrLLMResponse indicates an invalid LLM response
	ErrLLMResponse = errors.New("invalid LLM response")

	// ErrToolExecution indicates a tool execution failure
	ErrToolExecution = errors.New("tool execution failed")

	// ErrTranslation indicates a generated query could not be accepted
	ErrTranslation = errors.New("query translation failed")

	// ErrQueryExecution indicates the data store rejected a query
	ErrQueryExecution = errors.New("query execution failed")

	// ErrUnknownTool indicates the model asked for a capability that is not registered
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSynthesis indicates the final answer could not be generated
	ErrSynthesis = errors.New("answer synthesis failed")
)

func unwrap(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}

// ConfigError wraps configuration-related errors. It is fatal at startup.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() []error {
	return unwrap(ErrInvalidConfig, e.Err)
}

// BridgeError wraps bridge-related errors
type BridgeError struct {
	Operation string
	Message   string
	Err       error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge error during %s: %s", e.Operation, e.Message)
}

func (e *BridgeError) Unwrap() []error {
	return unwrap(ErrBridgeInit, e.Err)
}

// LLMError wraps LLM-related errors
type LLMError struct {
	Operation string
	Message   string
	Response  *LLMResponse
	Err       error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("LLM error during %s: %s", e.Operation, e.Message)
}

func (e *LLMError) Unwrap() []error {
	return unwrap(ErrLLMResponse, e.Err)
}

// ToolError wraps tool-related errors
type ToolError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool error in %s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() []error {
	return unwrap(ErrToolExecution, e.Err)
}

// ValidationError reports a generated query that breaks a safety rule,
// such as a dynamic-time function or a write statement.
type ValidationError struct {
	Query   string
	Pattern string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("query validation failed: %s (found %q)", e.Message, e.Pattern)
	}
	return fmt.Sprintf("query validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrTranslation
}

// TranslationError wraps a failure to turn a question into an executable query
type TranslationError struct {
	Question string
	Query    string
	Message  string
	Err      error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("translation error: %s", e.Message)
}

func (e *TranslationError) Unwrap() []error {
	return unwrap(ErrTranslation, e.Err)
}

// QueryExecutionError wraps database-related errors. Query holds the
// statement that was attempted.
type QueryExecutionError struct {
	Operation string
	Query     string
	Message   string
	Err       error
}

func (e *QueryExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("database error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("database error during %s: %s", e.Operation, e.Message)
}

func (e *QueryExecutionError) Unwrap() []error {
	return unwrap(ErrQueryExecution, e.Err)
}

// UnknownToolError reports a tool name that is not in the registry
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

func (e *UnknownToolError) Unwrap() error {
	return ErrUnknownTool
}

// SynthesisError wraps a failed final-answer generation
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis failed: %v", e.Err)
	}
	return "synthesis failed"
}

func (e *SynthesisError) Unwrap() []error {
	return unwrap(ErrSynthesis, e.Err)
}
