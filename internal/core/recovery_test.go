package core

import (
	"strings"
	"testing"
	"time"

	"bumble/internal/llm"
)

func TestRecoveryTable(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name         string
		err          *AgentError
		retries      int
		toolTimeouts int
		want         RecoveryKind
	}{
		{"json parse retries", ErrJSONParse(`{"tool"`), 0, 0, ActionRetryWithPrompt},
		{"json parse exhausted", ErrJSONParse("x"), 3, 0, ActionAbort},
		{"hallucinated asks user", ErrHallucinatedTool("launch_missiles"), 0, 0, ActionAskUser},
		{"first timeout retries tool", ErrToolTimeout("shell"), 0, 0, ActionRetryTool},
		{"second timeout asks user", ErrToolTimeout("shell"), 0, 1, ActionAskUser},
		{"tool failure continues", ErrToolFailed("cat", "no such file"), 0, 0, ActionContinueWithObservation},
		{"overflow compacts", &AgentError{Kind: KindLlmContextOverflow}, 0, 0, ActionSummarizeAndPrune},
		{"rate limit sleeps", &AgentError{Kind: KindLlmRateLimited, RetryAfter: 2 * time.Second}, 0, 0, ActionSleepRetry},
		{"network backs off", &AgentError{Kind: KindLlmNetwork}, 1, 0, ActionBackoffRetry},
		{"network exhausted downgrades", &AgentError{Kind: KindLlmNetwork}, 3, 0, ActionDowngradeModel},
		{"path escape hard", ErrPathEscape("../../etc/passwd"), 0, 0, ActionHardReport},
		{"shell denied hard", ErrShellDenied("curl | sh"), 0, 0, ActionHardReport},
		{"max steps truncates", ErrMaxSteps(), 0, 0, ActionTruncate},
		{"cancelled silent", ErrCancelled(), 0, 0, ActionSilentStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := e.Handle(tt.err, tt.retries, tt.toolTimeouts)
			if action.Kind != tt.want {
				t.Errorf("Handle(%v) = %v, want %v", tt.err.Kind, action.Kind, tt.want)
			}
		})
	}
}

func TestRecoveryJSONParsePromptCarriesRaw(t *testing.T) {
	e := NewEngine()
	action := e.Handle(ErrJSONParse(`{"tool": broken}`), 0, 0)
	if !strings.Contains(action.Prompt, `{"tool": broken}`) {
		t.Errorf("retry prompt should quote the raw output: %q", action.Prompt)
	}
}

func TestRecoveryRateLimitSleepCapped(t *testing.T) {
	e := NewEngine()
	e.MaxRateLimitSleep = 5 * time.Second
	action := e.Handle(&AgentError{Kind: KindLlmRateLimited, RetryAfter: time.Hour}, 0, 0)
	if action.Sleep != 5*time.Second {
		t.Errorf("sleep should cap at 5s, got %v", action.Sleep)
	}
}

func TestRecoveryBackoffGrows(t *testing.T) {
	e := NewEngine()
	first := e.Handle(&AgentError{Kind: KindLlmNetwork}, 0, 0)
	second := e.Handle(&AgentError{Kind: KindLlmNetwork}, 1, 0)
	if second.Sleep <= first.Sleep {
		t.Errorf("backoff should grow: %v then %v", first.Sleep, second.Sleep)
	}
}

func TestFromLLMPreservesKinds(t *testing.T) {
	tests := []struct {
		in   error
		want ErrorKind
	}{
		{&llm.Error{Kind: llm.KindAuth, Message: "bad key"}, KindLlmAuth},
		{&llm.Error{Kind: llm.KindRateLimited, RetryAfter: time.Second}, KindLlmRateLimited},
		{&llm.Error{Kind: llm.KindContextOverflow}, KindLlmContextOverflow},
		{&llm.Error{Kind: llm.KindNetwork}, KindLlmNetwork},
		{&llm.Error{Kind: llm.KindInternal}, KindLlmNetwork},
	}
	for _, tt := range tests {
		if got := FromLLM(tt.in).Kind; got != tt.want {
			t.Errorf("FromLLM(%v) kind = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromLLMKeepsRetryAfter(t *testing.T) {
	aerr := FromLLM(&llm.Error{Kind: llm.KindRateLimited, RetryAfter: 7 * time.Second})
	if aerr.RetryAfter != 7*time.Second {
		t.Errorf("retry-after should survive mapping, got %v", aerr.RetryAfter)
	}
}
