package core

import (
	"sync"

	"bumble/internal/memory"
)

// Phase is the UI-visible agent phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseThinking    Phase = "thinking"
	PhaseStreaming   Phase = "streaming"
	PhaseToolCalling Phase = "tool_calling"
	PhaseResponding  Phase = "responding"
	PhaseError       Phase = "error"
)

// UiState is the projection front-ends render. It is small, serialisable,
// and carries no back-reference into internal state.
type UiState struct {
	Phase Phase `json:"phase"`
	// History holds user/assistant messages only.
	History []memory.Message `json:"history"`
	// Partial is the streamed text so far during PhaseStreaming.
	Partial string `json:"partial,omitempty"`
	// ActiveTool names the running tool during PhaseToolCalling.
	ActiveTool string `json:"active_tool,omitempty"`
	// ToolArgs echoes the tool arguments during PhaseToolCalling.
	ToolArgs map[string]any `json:"tool_args,omitempty"`
	// ErrorKind and ErrorMessage are set during PhaseError.
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// InputLocked is true while a Submit is in flight.
	InputLocked bool `json:"input_locked"`
	// PromptTokens is the cumulative prompt-token count, when known.
	PromptTokens uint64 `json:"prompt_tokens,omitempty"`
}

// StateWatch is a latest-wins single-value channel: writers replace the
// current value; each subscriber sees the newest state, never a backlog.
type StateWatch struct {
	mu   sync.RWMutex
	cur  UiState
	subs []chan UiState
}

// NewStateWatch creates a watch seeded with the idle state.
func NewStateWatch() *StateWatch {
	return &StateWatch{cur: UiState{Phase: PhaseIdle}}
}

// Load returns the current state.
func (w *StateWatch) Load() UiState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Store publishes a new state, replacing any unconsumed value in each
// subscriber's buffer.
func (w *StateWatch) Store(s UiState) {
	w.mu.Lock()
	w.cur = s
	subs := w.subs
	w.mu.Unlock()
	for _, ch := range subs {
		// Latest wins: drain a stale value, then push.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe returns a channel delivering state updates with latest-wins
// semantics.
func (w *StateWatch) Subscribe() <-chan UiState {
	ch := make(chan UiState, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	cur := w.cur
	w.mu.Unlock()
	ch <- cur
	return ch
}
