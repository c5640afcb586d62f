// Package llm defines the capability surface any language-model backend
// must provide, plus the Gemini, OpenAI-compatible, and mock backends.
package llm

import (
	"context"
	"sync/atomic"

	"bumble/internal/memory"
)

// Client is the planner/critic-facing LLM capability set. Implementations
// must be safe for concurrent use.
type Client interface {
	// Complete returns the full model response for the messages.
	Complete(ctx context.Context, messages []memory.Message) (string, error)

	// CompleteStream streams the response, invoking onDelta for every text
	// delta, and returns the assembled full response. At least one delta is
	// emitted for a non-empty response.
	CompleteStream(ctx context.Context, messages []memory.Message, onDelta func(delta string)) (string, error)

	// Usage returns cumulative token accounting for this client.
	Usage() Usage
}

// Usage is cumulative token accounting.
type Usage struct {
	PromptTokens     uint64
	CompletionTokens uint64
}

// Total returns prompt + completion tokens.
func (u Usage) Total() uint64 {
	return u.PromptTokens + u.CompletionTokens
}

// Sub returns the delta between two usage snapshots.
func (u Usage) Sub(prev Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens - prev.PromptTokens,
		CompletionTokens: u.CompletionTokens - prev.CompletionTokens,
	}
}

// usageCounter is the shared atomic accounting embedded by backends.
type usageCounter struct {
	prompt     atomic.Uint64
	completion atomic.Uint64
}

func (c *usageCounter) record(prompt, completion uint64) {
	c.prompt.Add(prompt)
	c.completion.Add(completion)
}

func (c *usageCounter) Usage() Usage {
	return Usage{
		PromptTokens:     c.prompt.Load(),
		CompletionTokens: c.completion.Load(),
	}
}
