package react

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bumble/internal/core"
	"bumble/internal/memory"
	"bumble/internal/tools"
)

// Defaults for the loop bounds.
const (
	DefaultMaxSteps         = 6
	DefaultCompactThreshold = 24
	DefaultMaxCriticLessons = 2
)

// Config bounds one loop run.
type Config struct {
	// MaxSteps caps planner iterations per Submit (default 6).
	MaxSteps int
	// CompactThreshold triggers compaction when the conversation grows past
	// it (default 24).
	CompactThreshold int
	// MaxCriticLessons caps critic-derived lesson appends per turn
	// (default 2). Corrections past the cap are still injected into the
	// conversation but not persisted.
	MaxCriticLessons int
	// Streaming selects PlanStream over Plan.
	Streaming bool
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	if c.MaxCriticLessons <= 0 {
		c.MaxCriticLessons = DefaultMaxCriticLessons
	}
	return c
}

// Deps are the collaborators one loop run borrows. The loop owns none of
// them; it reports upward through Events/Stream/Publish rather than
// calling into the supervisor.
type Deps struct {
	Planner   *Planner
	Critic    *Critic // nil disables reflection; every observation approved
	Executor  *tools.Executor
	Recovery  *core.Engine
	Context   *ContextManager
	Scheduler *core.Scheduler
	Events    *core.EventQueue
	Stream    *core.StreamBroadcaster
	// Publish mutates the UiState watch. Owned by the orchestrator; the
	// loop only calls it.
	Publish func(core.UiState)
	Logger  *zap.Logger
}

// Result is the outcome of one completed loop run.
type Result struct {
	Response string
	Steps    int
	Retries  int
}

// Run drives the ReAct loop for one user utterance: plan, dispatch at most
// one tool per step under a scheduler permit, reflect with the critic,
// mutate memory, and repeat until a terminal response, an error, the step
// bound, or cancellation.
func Run(ctx context.Context, deps Deps, cfg Config, userInput string) (Result, error) {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("react")
	cm := deps.Context

	cm.Conversation.Push(memory.User(userInput))
	cm.Working.SetGoal(userInput)

	// Explicit user preference: mirror into preferences and long-term
	// before planning starts.
	if pref := ExtractRemember(userInput); pref != "" {
		cm.AppendPreference(pref)
		deps.Events.Emit(core.EventMemoryWritten, map[string]any{"store": "preferences"})
	}

	var (
		retries       int
		toolTimeouts  = map[string]int{}
		lastOutput    string
		criticLessons int
	)

	for step := 1; ; step++ {
		if ctx.Err() != nil {
			deps.Events.Emit(core.EventCancelled, nil)
			return Result{}, core.ErrCancelled()
		}
		if step > cfg.MaxSteps {
			// Step budget exhausted: emit the truncation message as the
			// final response rather than dropping the turn on the floor.
			action := deps.Recovery.Handle(core.ErrMaxSteps(), retries, 0)
			text := action.Message
			if lastOutput != "" {
				text = fmt.Sprintf("%s Last planner output:\n%s", action.Message, lastOutput)
			}
			cm.Conversation.Push(memory.Assistant(text))
			return finishResponse(deps, cm, text, step-1, retries), nil
		}

		if cm.Conversation.Len() > cfg.CompactThreshold {
			if err := Compact(ctx, deps.Planner, cm, deps.Events); err != nil {
				// Planning continues on the uncompacted history.
				logger.Warn("compaction failed", zap.Error(err))
			}
		}

		output, err := planStep(ctx, deps, cfg, userInput, step)
		if err != nil {
			res, done, rerr := recoverPlanFailure(ctx, deps, cfg, err, &retries, step)
			if done {
				return res, rerr
			}
			continue
		}
		lastOutput = output

		parsed, perr := ParseOutput(output, deps.Executor.Names())
		if perr != nil {
			aerr := core.AsAgentError(perr)
			if aerr.Kind == core.KindHallucinatedTool {
				cm.AppendHallucinationLesson(aerr.Tool, deps.Executor.Names())
				deps.Events.Emit(core.EventMemoryWritten, map[string]any{"store": "lessons"})
				return Result{}, aerr
			}
			action := deps.Recovery.Handle(aerr, retries, 0)
			if action.Kind != core.ActionRetryWithPrompt {
				return Result{}, aerr
			}
			retries++
			cm.Conversation.Push(memory.User(action.Prompt))
			logger.Debug("retrying after malformed planner output", zap.Int("retries", retries))
			continue
		}

		if !parsed.IsToolCall() {
			cm.Conversation.Push(memory.Assistant(parsed.Response))
			cm.PushSessionStrategy(cm.Working.Goal, cm.Working.ToolsUsed())
			deps.Events.Emit(core.EventMemoryWritten, map[string]any{"store": "long_term"})
			return finishResponse(deps, cm, parsed.Response, step, retries), nil
		}

		call := parsed.Call
		observation, terminal, err := dispatchTool(ctx, deps, call, toolTimeouts, &retries)
		if terminal {
			return Result{}, err
		}

		cm.Working.AddAttempt(call.Tool, observation)
		runCritic(ctx, deps, cfg, userInput, call.Tool, observation, &criticLessons, logger)

		// Feed the call and observation back for the next planning turn:
		// a synthetic assistant record plus a tool-role observation the
		// planner sees but the UI history filters out.
		cm.Conversation.Push(memory.SyntheticAssistant(call.Tool, fmt.Sprintf("Tool call: %s | Result: %s", call.Tool, observation)))
		cm.Conversation.Push(memory.Tool(call.Tool, fmt.Sprintf("Observation from %s: %s", call.Tool, observation)))
	}
}

// planStep invokes the planner with the assembled system prompt, streaming
// deltas outward when configured.
func planStep(ctx context.Context, deps Deps, cfg Config, userInput string, step int) (string, error) {
	cm := deps.Context
	system := cm.SystemPrompt(deps.Planner.BasePrompt(), deps.Executor.Registry().PromptSection(), userInput)
	messages := cm.Conversation.Messages()

	deps.Events.Emit(core.EventPlannerInvoked, map[string]any{"step": step})
	deps.Publish(core.UiState{
		Phase:        core.PhaseThinking,
		History:      cm.Conversation.Dialogue(),
		InputLocked:  true,
		PromptTokens: deps.Planner.Usage().PromptTokens,
	})

	if !cfg.Streaming {
		return deps.Planner.Plan(ctx, system, messages)
	}

	var partial strings.Builder
	return deps.Planner.PlanStream(ctx, system, messages, func(delta string) {
		partial.WriteString(delta)
		deps.Stream.Publish(delta)
		deps.Events.Emit(core.EventTokenDelta, map[string]any{"n": len(delta)})
		deps.Publish(core.UiState{
			Phase:       core.PhaseStreaming,
			History:     cm.Conversation.Dialogue(),
			Partial:     partial.String(),
			InputLocked: true,
		})
	})
}

// recoverPlanFailure consults the recovery engine for a failed planner
// call. done=true means the loop must return (res, rerr).
func recoverPlanFailure(ctx context.Context, deps Deps, cfg Config, err error, retries *int, step int) (Result, bool, error) {
	aerr := core.AsAgentError(err)
	if aerr.Kind == core.KindCancelled {
		deps.Events.Emit(core.EventCancelled, nil)
		return Result{}, true, aerr
	}
	action := deps.Recovery.Handle(aerr, *retries, 0)
	switch action.Kind {
	case core.ActionRetryWithPrompt:
		*retries++
		deps.Context.Conversation.Push(memory.User(action.Prompt))
		return Result{}, false, nil
	case core.ActionSummarizeAndPrune:
		*retries++
		if cerr := Compact(ctx, deps.Planner, deps.Context, deps.Events); cerr != nil {
			return Result{}, true, core.AsAgentError(cerr)
		}
		return Result{}, false, nil
	case core.ActionSleepRetry, core.ActionBackoffRetry:
		*retries++
		if !sleepCtx(ctx, action.Sleep) {
			return Result{}, true, core.ErrCancelled()
		}
		return Result{}, false, nil
	case core.ActionDowngradeModel:
		return Result{}, true, core.ErrDowngrade(action.Message)
	default:
		return Result{}, true, aerr
	}
}

// dispatchTool executes one validated tool call under a scheduler permit,
// applying the recovery policy on failure. terminal=true aborts the loop
// with err. A non-terminal failure returns the failure folded into the
// observation so planning continues.
func dispatchTool(ctx context.Context, deps Deps, call *ToolCall, toolTimeouts map[string]int, retries *int) (observation string, terminal bool, err error) {
	cm := deps.Context
	deps.Events.Emit(core.EventToolStarted, map[string]any{
		"name":        call.Tool,
		"args_digest": tools.DigestArgs(call.Args),
	})
	deps.Publish(core.UiState{
		Phase:       core.PhaseToolCalling,
		History:     cm.Conversation.Dialogue(),
		ActiveTool:  call.Tool,
		ToolArgs:    call.Args,
		InputLocked: true,
	})

	release, err := deps.Scheduler.AcquireTool(ctx)
	if err != nil {
		deps.Events.Emit(core.EventCancelled, nil)
		return "", true, core.ErrCancelled()
	}
	start := time.Now()
	obs, execErr := deps.Executor.Execute(ctx, call.Tool, call.Args)
	release()
	duration := time.Since(start)

	outcome := "ok"
	if execErr != nil {
		outcome = "error"
	}
	deps.Events.Emit(core.EventToolFinished, map[string]any{
		"name":        call.Tool,
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
	})

	if execErr == nil {
		return obs, false, nil
	}

	aerr := toolError(call.Tool, execErr)
	cm.Working.AddFailure(call.Tool, string(aerr.Kind), execErr.Error())
	cm.AppendProceduralRecord(call.Tool, false, execErr.Error())
	deps.Events.Emit(core.EventMemoryWritten, map[string]any{"store": "procedural"})

	if aerr.Kind == core.KindCancelled {
		deps.Events.Emit(core.EventCancelled, nil)
		return "", true, aerr
	}

	action := deps.Recovery.Handle(aerr, *retries, toolTimeouts[call.Tool])
	switch action.Kind {
	case core.ActionRetryTool:
		toolTimeouts[call.Tool]++
		return dispatchTool(ctx, deps, call, toolTimeouts, retries)
	case core.ActionContinueWithObservation:
		return "Error: " + execErr.Error(), false, nil
	default:
		// AskUser and HardReport both surface the typed error; the
		// orchestrator renders the remediation message.
		return "", true, aerr
	}
}

// runCritic reflects on one observation, injecting a correction message and
// persisting the lesson when the critic objects. Lesson appends are capped
// per turn; corrections past the cap still steer the next planning step.
func runCritic(ctx context.Context, deps Deps, cfg Config, goal, tool, observation string, lessons *int, logger *zap.Logger) {
	if deps.Critic == nil {
		return
	}
	verdict, err := deps.Critic.Evaluate(ctx, goal, tool, observation)
	if err != nil {
		// Reflection is advisory; a failed critic call never fails the turn.
		logger.Debug("critic call failed", zap.Error(err))
		return
	}
	if verdict.Approved {
		deps.Events.Emit(core.EventCriticVerdict, map[string]any{"verdict": "approved"})
		return
	}
	deps.Events.Emit(core.EventCriticVerdict, map[string]any{"verdict": "corrected"})
	if *lessons < cfg.MaxCriticLessons {
		deps.Context.AppendCriticLesson(verdict.Correction)
		deps.Events.Emit(core.EventMemoryWritten, map[string]any{"store": "lessons"})
		*lessons++
	}
	deps.Context.Conversation.Push(memory.User("Critic suggestion: " + verdict.Correction))
}

// finishResponse publishes the terminal Responding state and builds the
// loop result.
func finishResponse(deps Deps, cm *ContextManager, text string, steps, retries int) Result {
	deps.Publish(core.UiState{
		Phase:       core.PhaseResponding,
		History:     cm.Conversation.Dialogue(),
		Partial:     text,
		InputLocked: false,
	})
	return Result{Response: text, Steps: steps, Retries: retries}
}

// sleepCtx waits d, returning false if ctx fires first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// toolError maps executor failures onto the agent taxonomy.
func toolError(tool string, err error) *core.AgentError {
	switch {
	case errors.Is(err, context.Canceled):
		return core.ErrCancelled()
	case errors.Is(err, tools.ErrTimeout):
		return core.ErrToolTimeout(tool)
	case errors.Is(err, tools.ErrPathEscape):
		return core.ErrPathEscape(err.Error())
	case errors.Is(err, tools.ErrDenied):
		return core.ErrShellDenied(err.Error())
	default:
		return core.ErrToolFailed(tool, err.Error())
	}
}
