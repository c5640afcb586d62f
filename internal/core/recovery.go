package core

import (
	"fmt"
	"time"
)

// RecoveryKind enumerates the actions the loop can take after a failure.
type RecoveryKind int

const (
	// ActionRetryWithPrompt injects a corrective user message and replans.
	ActionRetryWithPrompt RecoveryKind = iota
	// ActionRetryTool re-runs the same tool with identical args.
	ActionRetryTool
	// ActionContinueWithObservation feeds the failure back as an
	// observation and keeps planning.
	ActionContinueWithObservation
	// ActionSummarizeAndPrune compacts the conversation, then retries the
	// step.
	ActionSummarizeAndPrune
	// ActionSleepRetry waits, then retries the step.
	ActionSleepRetry
	// ActionBackoffRetry retries the step with exponential backoff.
	ActionBackoffRetry
	// ActionAskUser surfaces a question to the user and terminates the loop.
	ActionAskUser
	// ActionHardReport surfaces the error immediately; no retry.
	ActionHardReport
	// ActionDowngradeModel terminates with a model-downgrade suggestion.
	ActionDowngradeModel
	// ActionTruncate emits the truncation message and terminates.
	ActionTruncate
	// ActionSilentStop terminates without any user-visible output.
	ActionSilentStop
	// ActionAbort terminates with the error as-is.
	ActionAbort
)

// RecoveryAction is the engine's verdict for one error.
type RecoveryAction struct {
	Kind RecoveryKind
	// Prompt is the injected corrective message for ActionRetryWithPrompt.
	Prompt string
	// Message is the user-facing text for AskUser / HardReport / Truncate.
	Message string
	// Sleep is the wait before retrying for ActionSleepRetry.
	Sleep time.Duration
}

// Engine maps typed errors to recovery actions. It is a pure decision
// table; the loop owns the retry counters and passes them in.
type Engine struct {
	// MaxRetries bounds recoverable retries per turn (default 3).
	MaxRetries int
	// MaxRateLimitSleep caps the wait honoured for rate limits.
	MaxRateLimitSleep time.Duration
	// BackoffBase is the first backoff delay for network/auth retries.
	BackoffBase time.Duration
}

// NewEngine creates an engine with the default bounds.
func NewEngine() *Engine {
	return &Engine{
		MaxRetries:        3,
		MaxRateLimitSleep: 30 * time.Second,
		BackoffBase:       500 * time.Millisecond,
	}
}

// Handle returns the action for err. retries is how many recoverable
// retries this turn has already consumed; toolTimeouts is how many times
// the same tool has timed out this turn.
func (e *Engine) Handle(err *AgentError, retries, toolTimeouts int) RecoveryAction {
	budget := e.MaxRetries
	if budget <= 0 {
		budget = 3
	}

	switch err.Kind {
	case KindJSONParse:
		if retries >= budget {
			return RecoveryAction{Kind: ActionAbort}
		}
		return RecoveryAction{
			Kind: ActionRetryWithPrompt,
			Prompt: fmt.Sprintf(
				"Your previous JSON was malformed: %s. Re-emit a single valid tool-call object, "+
					`nothing else. Format: {"tool": "<name>", "args": {...}}.`, err.Raw),
		}

	case KindHallucinatedTool:
		return RecoveryAction{
			Kind:    ActionAskUser,
			Message: fmt.Sprintf("The model tried to use unknown tool '%s'. Proceed without it?", err.Tool),
		}

	case KindToolTimeout:
		if toolTimeouts < 1 {
			return RecoveryAction{Kind: ActionRetryTool}
		}
		return RecoveryAction{
			Kind:    ActionAskUser,
			Message: fmt.Sprintf("Tool '%s' timed out twice. Retry it?", err.Tool),
		}

	case KindToolFailed:
		return RecoveryAction{Kind: ActionContinueWithObservation}

	case KindLlmContextOverflow:
		if retries >= budget {
			return RecoveryAction{Kind: ActionDowngradeModel, Message: "context overflow persisted after compaction"}
		}
		return RecoveryAction{Kind: ActionSummarizeAndPrune}

	case KindLlmRateLimited:
		if retries >= budget {
			return RecoveryAction{Kind: ActionDowngradeModel, Message: "rate limit persisted past retry budget"}
		}
		sleep := err.RetryAfter
		if sleep <= 0 {
			sleep = time.Second
		}
		if limit := e.MaxRateLimitSleep; limit > 0 && sleep > limit {
			sleep = limit
		}
		return RecoveryAction{Kind: ActionSleepRetry, Sleep: sleep}

	case KindLlmNetwork, KindLlmAuth:
		if retries >= budget {
			return RecoveryAction{Kind: ActionDowngradeModel, Message: "LLM calls kept failing: " + err.Msg}
		}
		return RecoveryAction{Kind: ActionBackoffRetry, Sleep: e.backoff(retries)}

	case KindPathEscape:
		return RecoveryAction{
			Kind:    ActionHardReport,
			Message: fmt.Sprintf("Blocked path escape: %s. Paths must stay inside the workspace.", err.Msg),
		}

	case KindShellDenied:
		return RecoveryAction{
			Kind:    ActionHardReport,
			Message: fmt.Sprintf("Blocked shell command: %s. Only allow-listed commands may run.", err.Msg),
		}

	case KindMaxStepsExceeded:
		return RecoveryAction{Kind: ActionTruncate, Message: "Reached the step limit before finishing."}

	case KindCancelled:
		return RecoveryAction{Kind: ActionSilentStop}

	default:
		return RecoveryAction{Kind: ActionAbort}
	}
}

func (e *Engine) backoff(retries int) time.Duration {
	base := e.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base
	for i := 0; i < retries; i++ {
		d *= 2
	}
	return d
}
