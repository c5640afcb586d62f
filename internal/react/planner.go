package react

import (
	"context"

	"bumble/internal/llm"
	"bumble/internal/memory"
)

// DefaultSystemPrompt is used when no base prompt file is configured.
const DefaultSystemPrompt = `You are a capable personal assistant with access to tools.
Think step by step. When a tool is needed, output exactly one JSON object
{"tool": "<name>", "args": {...}} and nothing else. When you have the final
answer, reply in plain text.`

const summarizerPrompt = `You are a summarizer. Summarize the following conversation in one short paragraph: key facts, decisions, user preferences, and the latest question if any. Use the same language as the conversation. Output only the summary, no preamble.`

// Planner drives the LLM for plan steps and conversation summaries. It
// borrows the client; memory stays with the context manager.
type Planner struct {
	client llm.Client
	base   string
}

// NewPlanner binds a planner to its LLM client and base system prompt.
func NewPlanner(client llm.Client, basePrompt string) *Planner {
	if basePrompt == "" {
		basePrompt = DefaultSystemPrompt
	}
	return &Planner{client: client, base: basePrompt}
}

// BasePrompt returns the configured base system text.
func (p *Planner) BasePrompt() string { return p.base }

// Usage returns the client's cumulative token accounting.
func (p *Planner) Usage() llm.Usage { return p.client.Usage() }

// Plan performs one non-streaming planning call with the dynamic system
// prompt prepended.
func (p *Planner) Plan(ctx context.Context, system string, messages []memory.Message) (string, error) {
	full := make([]memory.Message, 0, len(messages)+1)
	full = append(full, memory.System(system))
	full = append(full, messages...)
	return p.client.Complete(ctx, full)
}

// PlanStream performs one streaming planning call; onDelta fires per text
// delta and the assembled output is returned. Tool-call parsing happens on
// the assembled output only, never on partial JSON.
func (p *Planner) PlanStream(ctx context.Context, system string, messages []memory.Message, onDelta func(string)) (string, error) {
	full := make([]memory.Message, 0, len(messages)+1)
	full = append(full, memory.System(system))
	full = append(full, messages...)
	return p.client.CompleteStream(ctx, full, onDelta)
}

// Summarize condenses a message list into one paragraph capturing goals,
// decisions, and tool outcomes. Used only by compaction.
func (p *Planner) Summarize(ctx context.Context, messages []memory.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	full := make([]memory.Message, 0, len(messages)+1)
	full = append(full, memory.System(summarizerPrompt))
	full = append(full, messages...)
	return p.client.Complete(ctx, full)
}
