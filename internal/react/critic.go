package react

import (
	"context"
	"strings"

	"bumble/internal/llm"
	"bumble/internal/memory"
)

// DefaultCriticPrompt evaluates one observation against the turn goal.
const DefaultCriticPrompt = `You are a strict reviewer. The user's goal: {goal}
The tool "{tool}" returned this observation:
{observation}

If the observation moves the goal forward, reply with exactly OK.
Otherwise reply with one short corrective instruction for the planner.`

// Verdict is the critic's judgement of one observation.
type Verdict struct {
	Approved bool
	// Correction is the suggested fix when not approved.
	Correction string
}

// Critic validates each observation against the goal with a lightweight
// LLM call. Optional: a nil critic approves everything.
type Critic struct {
	client   llm.Client
	template string
}

// NewCritic binds a critic to its client and prompt template. The template
// placeholders {goal}, {tool}, and {observation} are substituted per call.
func NewCritic(client llm.Client, template string) *Critic {
	if template == "" {
		template = DefaultCriticPrompt
	}
	return &Critic{client: client, template: template}
}

// Evaluate judges a tool observation. An empty or OK-prefixed reply means
// approved; anything else is a correction.
func (c *Critic) Evaluate(ctx context.Context, goal, tool, observation string) (Verdict, error) {
	prompt := strings.NewReplacer(
		"{goal}", goal,
		"{tool}", tool,
		"{observation}", observation,
	).Replace(c.template)

	reply, err := c.client.Complete(ctx, []memory.Message{memory.User(prompt)})
	if err != nil {
		return Verdict{}, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.HasPrefix(strings.ToUpper(reply), "OK") {
		return Verdict{Approved: true}, nil
	}
	return Verdict{Correction: reply}, nil
}
