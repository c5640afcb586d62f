// Package core holds the orchestration primitives shared by the ReAct loop
// and the session runtime: the error taxonomy, the recovery engine, the
// tool scheduler, cancellation supervision, and the state/stream/event
// channels.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bumble/internal/llm"
)

// ErrorKind enumerates the agent error taxonomy. It is the single source of
// truth: every subsystem surfaces one of these kinds unchanged, and only
// the recovery engine turns a kind into control flow.
type ErrorKind string

const (
	KindLlmNetwork            ErrorKind = "llm_network"
	KindLlmAuth               ErrorKind = "llm_auth"
	KindLlmRateLimited        ErrorKind = "llm_rate_limited"
	KindLlmContextOverflow    ErrorKind = "llm_context_overflow"
	KindJSONParse             ErrorKind = "json_parse"
	KindHallucinatedTool      ErrorKind = "hallucinated_tool"
	KindToolTimeout           ErrorKind = "tool_timeout"
	KindToolFailed            ErrorKind = "tool_failed"
	KindPathEscape            ErrorKind = "path_escape"
	KindShellDenied           ErrorKind = "shell_denied"
	KindCancelled             ErrorKind = "cancelled"
	KindMaxStepsExceeded      ErrorKind = "max_steps_exceeded"
	KindSuggestDowngradeModel ErrorKind = "suggest_downgrade_model"
)

// AgentError is the typed agent failure.
type AgentError struct {
	Kind ErrorKind
	// Tool names the tool involved for tool-scoped kinds.
	Tool string
	// Raw carries the offending planner output for KindJSONParse.
	Raw string
	// Msg is the human-readable detail.
	Msg string
	// RetryAfter is set for KindLlmRateLimited.
	RetryAfter time.Duration
	// Err is the wrapped cause, if any.
	Err error
}

func (e *AgentError) Error() string {
	switch e.Kind {
	case KindJSONParse:
		return fmt.Sprintf("planner JSON parse error: %s", e.Raw)
	case KindHallucinatedTool:
		return fmt.Sprintf("hallucinated tool: %s", e.Tool)
	case KindToolTimeout:
		return fmt.Sprintf("tool timeout: %s", e.Tool)
	case KindToolFailed:
		return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Msg)
	case KindPathEscape:
		return fmt.Sprintf("path escape attempt: %s", e.Msg)
	case KindShellDenied:
		return fmt.Sprintf("shell command denied: %s", e.Msg)
	case KindCancelled:
		return "cancelled"
	case KindMaxStepsExceeded:
		return "max steps exceeded"
	case KindSuggestDowngradeModel:
		return fmt.Sprintf("suggest downgrading model: %s", e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *AgentError) Unwrap() error { return e.Err }

// ErrJSONParse builds the malformed-planner-output error.
func ErrJSONParse(raw string) *AgentError {
	return &AgentError{Kind: KindJSONParse, Raw: raw}
}

// ErrHallucinatedTool builds the unknown-tool error.
func ErrHallucinatedTool(name string) *AgentError {
	return &AgentError{Kind: KindHallucinatedTool, Tool: name}
}

// ErrToolTimeout builds the tool-timeout error.
func ErrToolTimeout(name string) *AgentError {
	return &AgentError{Kind: KindToolTimeout, Tool: name}
}

// ErrToolFailed builds the tool-failure error.
func ErrToolFailed(name, msg string) *AgentError {
	return &AgentError{Kind: KindToolFailed, Tool: name, Msg: msg}
}

// ErrPathEscape builds the sandbox path-escape error.
func ErrPathEscape(path string) *AgentError {
	return &AgentError{Kind: KindPathEscape, Msg: path}
}

// ErrShellDenied builds the shell allowlist rejection.
func ErrShellDenied(cmd string) *AgentError {
	return &AgentError{Kind: KindShellDenied, Msg: cmd}
}

// ErrCancelled is the silent cancellation outcome.
func ErrCancelled() *AgentError {
	return &AgentError{Kind: KindCancelled}
}

// ErrMaxSteps builds the step-budget exhaustion error.
func ErrMaxSteps() *AgentError {
	return &AgentError{Kind: KindMaxStepsExceeded}
}

// ErrDowngrade builds the downgrade suggestion surfaced after repeated LLM
// failures.
func ErrDowngrade(reason string) *AgentError {
	return &AgentError{Kind: KindSuggestDowngradeModel, Msg: reason}
}

// FromLLM maps a backend llm error onto the agent taxonomy, preserving the
// kind.
func FromLLM(err error) *AgentError {
	var lerr *llm.Error
	if errors.As(err, &lerr) {
		switch lerr.Kind {
		case llm.KindAuth:
			return &AgentError{Kind: KindLlmAuth, Msg: lerr.Message, Err: err}
		case llm.KindRateLimited:
			return &AgentError{Kind: KindLlmRateLimited, Msg: lerr.Message, RetryAfter: lerr.RetryAfter, Err: err}
		case llm.KindContextOverflow:
			return &AgentError{Kind: KindLlmContextOverflow, Msg: lerr.Message, Err: err}
		default:
			return &AgentError{Kind: KindLlmNetwork, Msg: lerr.Message, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled()
	}
	return &AgentError{Kind: KindLlmNetwork, Msg: err.Error(), Err: err}
}

// AsAgentError extracts an *AgentError from err, or maps err through
// FromLLM (cancelled for context.Canceled, otherwise an LLM network error).
func AsAgentError(err error) *AgentError {
	var aerr *AgentError
	if errors.As(err, &aerr) {
		return aerr
	}
	return FromLLM(err)
}
