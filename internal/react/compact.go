package react

import (
	"context"
	"fmt"
	"time"

	"bumble/internal/core"
	"bumble/internal/memory"
)

// Compact summarises the conversation into long-term memory and replaces
// the dialogue with a single system message carrying the summary. The
// long-term write happens before the replace, so an interruption between
// the two leaves a pure extra block and the replace is simply retried.
// Compacting an already-compacted conversation is a no-op.
func Compact(ctx context.Context, planner *Planner, cm *ContextManager, events *core.EventQueue) error {
	snapshot := snapshotDialogue(cm.Conversation.Messages())
	if len(snapshot) < 2 {
		return nil
	}
	before := cm.Conversation.Len()

	summary, err := planner.Summarize(ctx, snapshot)
	if err != nil {
		return core.AsAgentError(err)
	}
	if summary == "" {
		return nil
	}

	stamp := time.Now().Format(time.RFC3339)
	cm.PushLongTerm(fmt.Sprintf("Conversation summary @ %s\n\n%s", stamp, summary))

	cm.Conversation.Replace([]memory.Message{
		memory.System("Previous conversation summary:\n\n" + summary),
	})

	if events != nil {
		events.Emit(core.EventCompacted, map[string]any{
			"before": before,
			"after":  cm.Conversation.Len(),
		})
		events.Emit(core.EventMemoryWritten, map[string]any{"store": "long_term"})
	}
	return nil
}

// snapshotDialogue keeps system/user/assistant messages and drops the
// tool-role observations from the compaction input; synthetic assistant
// tool-call messages are kept.
func snapshotDialogue(messages []memory.Message) []memory.Message {
	var out []memory.Message
	for _, m := range messages {
		if m.Role == memory.RoleTool {
			continue
		}
		out = append(out, m)
	}
	return out
}
