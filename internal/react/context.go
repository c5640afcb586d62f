// Package react implements the Plan-Act-Observe-Critic loop: planner
// output parsing, the critic reflection step, prompt assembly from the
// memory layers, compaction, and the loop driver itself.
package react

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bumble/internal/memory"
)

// ContextManager binds the memory layers and assembles the system prompt
// each step. It is owned by the orchestrator and borrowed by the loop for
// the duration of one Submit.
type ContextManager struct {
	Conversation *memory.Conversation
	Working      *memory.Working
	LongTerm     memory.LongTerm

	Lessons     *memory.FileStore
	Procedural  *memory.FileStore
	Preferences *memory.FileStore

	// AutoLessonOnHallucination appends a lesson whenever the planner
	// invents a tool name.
	AutoLessonOnHallucination bool
	// RecordToolSuccess mirrors successful tool runs into procedural
	// memory; failures are always recorded.
	RecordToolSuccess bool
	// RetrievalK is the long-term top-k per query.
	RetrievalK int

	logger *zap.Logger
}

// NewContextManager wires the memory layers for a workspace.
func NewContextManager(maxTurns int, lt memory.LongTerm, workspace string, logger *zap.Logger) *ContextManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lt == nil {
		lt = memory.NoopLongTerm{}
	}
	return &ContextManager{
		Conversation:              memory.NewConversation(maxTurns),
		Working:                   memory.NewWorking(),
		LongTerm:                  lt,
		Lessons:                   memory.NewFileStore(memory.LessonsPath(workspace)),
		Procedural:                memory.NewFileStore(memory.ProceduralPath(workspace)),
		Preferences:               memory.NewFileStore(memory.PreferencesPath(workspace)),
		AutoLessonOnHallucination: true,
		RetrievalK:                5,
		logger:                    logger.Named("context"),
	}
}

// SystemPrompt concatenates the ordered prompt sections: base text with the
// tool schema, the working-memory scratchpad, retrieved long-term
// knowledge, then the three evolution stores. Empty sections are omitted.
func (cm *ContextManager) SystemPrompt(base, toolSection, utterance string) string {
	sections := []string{
		strings.TrimSpace(base),
		strings.TrimSpace(toolSection),
		strings.TrimSpace(cm.Working.PromptSection()),
		strings.TrimSpace(cm.LongTermSection(utterance)),
		strings.TrimSpace(cm.LessonsSection()),
		strings.TrimSpace(cm.ProceduralSection()),
		strings.TrimSpace(cm.PreferencesSection()),
	}
	var nonEmpty []string
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// LongTermSection retrieves relevant past knowledge for the utterance.
func (cm *ContextManager) LongTermSection(query string) string {
	if cm.LongTerm == nil || !cm.LongTerm.Enabled() {
		return ""
	}
	k := cm.RetrievalK
	if k <= 0 {
		k = 5
	}
	hits := cm.LongTerm.Search(query, k)
	if len(hits) == 0 {
		return ""
	}
	return "## Relevant Past Knowledge\n" + strings.Join(hits, "\n\n")
}

// LessonsSection injects the behaviour constraints verbatim.
func (cm *ContextManager) LessonsSection() string {
	s := cm.Lessons.Load()
	if s == "" {
		return ""
	}
	return "## Behaviour constraints (follow these)\n" + s
}

// ProceduralSection injects tool experience verbatim.
func (cm *ContextManager) ProceduralSection() string {
	s := cm.Procedural.Load()
	if s == "" {
		return ""
	}
	return "## Tool experience (avoid repeating failures)\n" + s
}

// PreferencesSection injects explicit user preferences verbatim.
func (cm *ContextManager) PreferencesSection() string {
	s := cm.Preferences.Load()
	if s == "" {
		return ""
	}
	return "## User preferences (respect these)\n" + s
}

// AppendPreference records an explicit "remember: X" statement and mirrors
// it into long-term memory.
func (cm *ContextManager) AppendPreference(content string) {
	if err := cm.Preferences.Append("- " + strings.TrimSpace(content)); err != nil {
		cm.logger.Warn("preference append failed", zap.Error(err))
	}
	cm.PushLongTerm("User preference: " + strings.TrimSpace(content))
}

// AppendCriticLesson persists a critic correction as a lesson.
func (cm *ContextManager) AppendCriticLesson(suggestion string) {
	suggestion = strings.TrimSpace(suggestion)
	if suggestion == "" {
		return
	}
	if err := cm.Lessons.Append("Critic suggestion: " + suggestion); err != nil {
		cm.logger.Warn("lesson append failed", zap.Error(err))
	}
}

// AppendHallucinationLesson records the invented tool name and the valid
// tool list so later turns stop inventing.
func (cm *ContextManager) AppendHallucinationLesson(hallucinated string, validTools []string) {
	if !cm.AutoLessonOnHallucination {
		return
	}
	line := fmt.Sprintf("Do not invent tool names; valid tools: %s; you tried '%s'.",
		strings.Join(validTools, ", "), hallucinated)
	if err := cm.Lessons.Append(line); err != nil {
		cm.logger.Warn("lesson append failed", zap.Error(err))
	}
}

// AppendProceduralRecord records one tool outcome. Successes are only
// recorded when configured; failures always.
func (cm *ContextManager) AppendProceduralRecord(tool string, success bool, detail string) {
	if success && !cm.RecordToolSuccess {
		return
	}
	if err := memory.AppendProcedural(cm.Procedural, tool, success, detail); err != nil {
		cm.logger.Warn("procedural append failed", zap.Error(err))
	}
}

// PushLongTerm writes a block into long-term memory.
func (cm *ContextManager) PushLongTerm(text string) {
	if cm.LongTerm != nil {
		cm.LongTerm.Add(text)
	}
}

// PushSessionStrategy commits the turn's strategy: its goal and the tools
// it used.
func (cm *ContextManager) PushSessionStrategy(goal string, toolNames []string) {
	tools := "(none)"
	if len(toolNames) > 0 {
		tools = strings.Join(toolNames, ", ")
	}
	cm.PushLongTerm(fmt.Sprintf("Session strategy: goal %q; tools used: %s.", strings.TrimSpace(goal), tools))
}

// Clear resets conversation and working memory. Long-term and the three
// evolution stores are preserved.
func (cm *ContextManager) Clear() {
	cm.Conversation.Clear()
	cm.Working.Clear()
}
