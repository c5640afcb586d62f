package react

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"bumble/internal/core"
	"bumble/internal/llm"
	"bumble/internal/memory"
	"bumble/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// harness bundles one loop run's collaborators over a temp workspace.
type harness struct {
	deps   Deps
	cm     *ContextManager
	lt     *memory.FileLongTerm
	events *core.EventQueue
	states []core.UiState
	ws     string
}

func newHarness(t *testing.T, client llm.Client, critic *Critic) *harness {
	t.Helper()
	ws := t.TempDir()

	lt := memory.NewFileLongTerm(memory.LongTermPath(ws), 100)
	cm := NewContextManager(10, lt, ws, nil)

	fs := tools.NewSafeFS(ws)
	registry := tools.NewRegistry(nil)
	registry.MustRegister(tools.EchoTool())
	registry.MustRegister(tools.CatTool(fs))
	registry.MustRegister(tools.LsTool(fs))

	h := &harness{cm: cm, lt: lt, events: core.NewEventQueue(), ws: ws}
	h.deps = Deps{
		Planner:   NewPlanner(client, ""),
		Critic:    critic,
		Executor:  tools.NewExecutor(registry, 0, nil, nil),
		Recovery:  core.NewEngine(),
		Context:   cm,
		Scheduler: core.NewScheduler(3),
		Events:    h.events,
		Stream:    core.NewStreamBroadcaster(16),
		Publish:   func(s core.UiState) { h.states = append(h.states, s) },
	}
	return h
}

func (h *harness) eventCount(typ core.EventType) int {
	n := 0
	for _, ev := range h.events.Drain() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (h *harness) lessons(t *testing.T) string {
	t.Helper()
	data, _ := os.ReadFile(memory.LessonsPath(h.ws))
	return string(data)
}

func TestSingleTurnResponseNoTools(t *testing.T) {
	h := newHarness(t, llm.NewMockClient("Hi."), nil)

	result, err := Run(context.Background(), h.deps, Config{}, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Hi." {
		t.Errorf("got response %q", result.Response)
	}
	if got := h.cm.Conversation.DialogueLen(); got != 2 {
		t.Errorf("conversation should gain user+assistant, got %d dialogue messages", got)
	}
	if n := h.eventCount(core.EventToolStarted); n != 0 {
		t.Errorf("expected zero tool events, got %d", n)
	}
	hits := h.lt.Search("Session strategy hello", 3)
	found := false
	for _, hit := range hits {
		if strings.Contains(hit, "tools used: (none)") {
			found = true
		}
	}
	if !found {
		t.Errorf("long-term should gain a strategy block with tools used: (none), hits=%v", hits)
	}
}

func TestToolCallThenAnswer(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(
		`{"tool": "cat", "args": {"path": "README.md"}}`,
		"README contains the body.",
	), nil)
	if err := os.WriteFile(filepath.Join(h.ws, "README.md"), []byte("the body"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Run(context.Background(), h.deps, Config{}, "what's in README?")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "README contains the body." {
		t.Errorf("got %q", result.Response)
	}
	if result.Steps != 2 {
		t.Errorf("expected 2 steps, got %d", result.Steps)
	}

	events := h.events.Drain()
	started, finished := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case core.EventToolStarted:
			started++
			if ev.Fields["name"] != "cat" {
				t.Errorf("unexpected tool %v", ev.Fields["name"])
			}
		case core.EventToolFinished:
			finished++
		}
	}
	if started != 1 || finished != 1 {
		t.Errorf("expected exactly one ToolStarted+ToolFinished, got %d/%d", started, finished)
	}

	// Procedural memory untouched on success by default.
	if _, err := os.Stat(memory.ProceduralPath(h.ws)); !os.IsNotExist(err) {
		t.Error("procedural store should be unchanged on success")
	}

	hits := h.lt.Search("Session strategy README", 3)
	found := false
	for _, hit := range hits {
		if strings.Contains(hit, "tools used: cat") {
			found = true
		}
	}
	if !found {
		t.Errorf("strategy block should record cat, hits=%v", hits)
	}

	// The synthetic tool echoes stay out of the UI history; the planner's
	// full view keeps them.
	for _, m := range h.cm.Conversation.Dialogue() {
		if strings.HasPrefix(m.Content, "Tool call:") || strings.HasPrefix(m.Content, "Observation from") {
			t.Errorf("tool dialogue leaked into history projection: %q", m.Content)
		}
	}
	sawEcho := false
	for _, m := range h.cm.Conversation.Messages() {
		if m.Synthetic && strings.HasPrefix(m.Content, "Tool call: cat") {
			sawEcho = true
		}
	}
	if !sawEcho {
		t.Error("planner view should retain the synthetic tool echo")
	}
}

func TestHallucinatedToolNoDispatch(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(`{"tool": "launch_missiles", "args": {}}`), nil)

	_, err := Run(context.Background(), h.deps, Config{}, "do something")
	var aerr *core.AgentError
	if !errors.As(err, &aerr) || aerr.Kind != core.KindHallucinatedTool {
		t.Fatalf("expected hallucinated tool error, got %v", err)
	}
	if n := h.eventCount(core.EventToolStarted); n != 0 {
		t.Errorf("hallucinated tool must never dispatch, got %d starts", n)
	}
	lessons := h.lessons(t)
	if !strings.Contains(lessons, "launch_missiles") || !strings.Contains(lessons, "valid tools:") {
		t.Errorf("lesson should record the invented name and valid tools: %q", lessons)
	}
}

func TestMalformedJSONRecovery(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(
		`{"tool": "cat" "args":}`, // balanced braces, invalid JSON
		"Recovered fine.",
	), nil)

	result, err := Run(context.Background(), h.deps, Config{}, "go")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Recovered fine." {
		t.Errorf("got %q", result.Response)
	}
	if result.Retries != 1 {
		t.Errorf("expected exactly 1 retry, got %d", result.Retries)
	}

	// The corrective prompt was injected as a user message.
	injected := false
	for _, m := range h.cm.Conversation.Messages() {
		if m.Role == memory.RoleUser && strings.Contains(m.Content, "malformed") {
			injected = true
		}
	}
	if !injected {
		t.Error("retry prompt should be injected into the conversation")
	}
}

func TestCancelBeforePlanPreventsDispatch(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(`{"tool": "echo", "args": {"text": "x"}}`), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, h.deps, Config{}, "hello")
	var aerr *core.AgentError
	if !errors.As(err, &aerr) || aerr.Kind != core.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if n := h.eventCount(core.EventToolStarted); n != 0 {
		t.Errorf("no tool may dispatch after cancel, got %d", n)
	}
}

func TestCriticCorrectionInjectedAndPersisted(t *testing.T) {
	planner := llm.NewMockClient(
		`{"tool": "echo", "args": {"text": "partial"}}`,
		"Final answer.",
	)
	critic := NewCritic(llm.NewMockClient("Check the full file, not just the header."), "")
	h := newHarness(t, planner, critic)

	result, err := Run(context.Background(), h.deps, Config{}, "summarise the doc")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Final answer." {
		t.Errorf("got %q", result.Response)
	}

	injected := false
	for _, m := range h.cm.Conversation.Messages() {
		if m.Role == memory.RoleUser && strings.HasPrefix(m.Content, "Critic suggestion:") {
			injected = true
		}
	}
	if !injected {
		t.Error("correction should be injected as a user message")
	}
	if !strings.Contains(h.lessons(t), "Check the full file") {
		t.Error("correction should persist to lessons")
	}
}

func TestCriticLessonsCappedPerTurn(t *testing.T) {
	// Three corrected tool steps, but only the first two corrections may
	// persist as lessons.
	planner := llm.NewMockClient(
		`{"tool": "echo", "args": {"text": "one"}}`,
		`{"tool": "echo", "args": {"text": "two"}}`,
		`{"tool": "echo", "args": {"text": "three"}}`,
		"Done.",
	)
	critic := NewCritic(llm.NewMockClient(
		"Correction alpha.",
		"Correction beta.",
		"Correction gamma.",
	), "")
	h := newHarness(t, planner, critic)

	result, err := Run(context.Background(), h.deps, Config{}, "do the thing")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Done." {
		t.Errorf("got %q", result.Response)
	}

	lessons := h.lessons(t)
	if !strings.Contains(lessons, "Correction alpha.") || !strings.Contains(lessons, "Correction beta.") {
		t.Errorf("first two corrections should persist: %q", lessons)
	}
	if strings.Contains(lessons, "Correction gamma.") {
		t.Errorf("third correction should be capped out of lessons: %q", lessons)
	}

	// The capped correction still reaches the planner as a user message.
	sawGamma := false
	for _, m := range h.cm.Conversation.Messages() {
		if m.Role == memory.RoleUser && strings.Contains(m.Content, "Correction gamma.") {
			sawGamma = true
		}
	}
	if !sawGamma {
		t.Error("capped correction should still be injected into the conversation")
	}
}

func TestMaxStepsTruncates(t *testing.T) {
	// The planner keeps asking for echo and never answers.
	h := newHarness(t, llm.NewMockClient(`{"tool": "echo", "args": {"text": "again"}}`), nil)

	result, err := Run(context.Background(), h.deps, Config{MaxSteps: 3}, "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Response, "step limit") {
		t.Errorf("expected truncation message, got %q", result.Response)
	}
	if n := h.eventCount(core.EventToolStarted); n != 3 {
		t.Errorf("expected 3 dispatches before the bound, got %d", n)
	}
}

func TestToolFailureContinuesAsObservation(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(
		`{"tool": "cat", "args": {"path": "missing.txt"}}`,
		"The file does not exist.",
	), nil)

	result, err := Run(context.Background(), h.deps, Config{}, "read missing.txt")
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "The file does not exist." {
		t.Errorf("got %q", result.Response)
	}
	// The failure reached procedural memory.
	data, err := os.ReadFile(memory.ProceduralPath(h.ws))
	if err != nil {
		t.Fatalf("procedural store should exist: %v", err)
	}
	if !strings.Contains(string(data), "- cat fail:") {
		t.Errorf("procedural should record the failure: %q", data)
	}
}

func TestRememberWritesPreferences(t *testing.T) {
	h := newHarness(t, llm.NewMockClient("Noted."), nil)

	if _, err := Run(context.Background(), h.deps, Config{}, "remember: answer in haiku"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(memory.PreferencesPath(h.ws))
	if err != nil {
		t.Fatalf("preferences should exist: %v", err)
	}
	if !strings.Contains(string(data), "answer in haiku") {
		t.Errorf("preference missing: %q", data)
	}
	hits := h.lt.Search("answer in haiku", 2)
	if len(hits) == 0 {
		t.Error("preference should mirror into long-term memory")
	}
}

func TestPathEscapeHardReport(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(`{"tool": "cat", "args": {"path": "../../etc/passwd"}}`), nil)

	_, err := Run(context.Background(), h.deps, Config{}, "read /etc/passwd")
	var aerr *core.AgentError
	if !errors.As(err, &aerr) || aerr.Kind != core.KindPathEscape {
		t.Fatalf("expected path escape, got %v", err)
	}
	// Exactly one dispatch, no fallback retry.
	if n := h.eventCount(core.EventToolStarted); n != 1 {
		t.Errorf("path escape must not retry, got %d dispatches", n)
	}
}
