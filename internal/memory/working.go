package memory

import (
	"fmt"
	"strings"
)

// Attempt records one tool invocation and a digest of its observation.
type Attempt struct {
	Tool        string
	Observation string
}

// Failure records one failed tool invocation.
type Failure struct {
	Tool    string
	Kind    string
	Message string
}

// Working is the per-turn scratchpad: the inferred goal, what has been
// tried, and what failed. It is created at Submit and discarded when the
// turn ends.
type Working struct {
	Goal     string
	Attempts []Attempt
	Failures []Failure
}

// NewWorking creates an empty scratchpad.
func NewWorking() *Working {
	return &Working{}
}

// SetGoal records the turn's goal, inferred from the user utterance.
func (w *Working) SetGoal(goal string) {
	w.Goal = goal
}

// AddAttempt records a tool invocation and its observation digest.
func (w *Working) AddAttempt(tool, observation string) {
	w.Attempts = append(w.Attempts, Attempt{Tool: tool, Observation: observation})
}

// AddFailure records a failed tool invocation.
func (w *Working) AddFailure(tool, kind, message string) {
	w.Failures = append(w.Failures, Failure{Tool: tool, Kind: kind, Message: message})
}

// Clear resets the scratchpad.
func (w *Working) Clear() {
	w.Goal = ""
	w.Attempts = nil
	w.Failures = nil
}

// ToolsUsed returns the distinct tool names attempted this turn, in order
// of first use.
func (w *Working) ToolsUsed() []string {
	seen := make(map[string]bool, len(w.Attempts))
	var names []string
	for _, a := range w.Attempts {
		if !seen[a.Tool] {
			seen[a.Tool] = true
			names = append(names, a.Tool)
		}
	}
	return names
}

// PromptSection renders the scratchpad as a system-prompt section. Attempts
// and failures are deduplicated. Empty when nothing was recorded.
func (w *Working) PromptSection() string {
	var b strings.Builder
	if w.Goal != "" {
		fmt.Fprintf(&b, "## Current Goal\n%s\n\n", w.Goal)
	}
	if len(w.Attempts) > 0 {
		b.WriteString("## What has been tried\n")
		seen := make(map[string]bool, len(w.Attempts))
		for _, a := range w.Attempts {
			line := fmt.Sprintf("- %s -> %s", a.Tool, digest(a.Observation, 200))
			if seen[line] {
				continue
			}
			seen[line] = true
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if len(w.Failures) > 0 {
		b.WriteString("## Failures\n")
		seen := make(map[string]bool, len(w.Failures))
		for _, f := range w.Failures {
			line := fmt.Sprintf("- %s (%s): %s", f.Tool, f.Kind, f.Message)
			if seen[line] {
				continue
			}
			seen[line] = true
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// digest truncates s to at most n runes, appending an ellipsis marker.
func digest(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
