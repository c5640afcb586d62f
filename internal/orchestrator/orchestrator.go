// Package orchestrator owns the agent runtime: it builds the LLM, memory,
// and tool components from configuration, consumes front-end commands, and
// drives the ReAct loop under per-Submit cancellation scopes, publishing
// UiState snapshots, token streams, and lifecycle events.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bumble/internal/config"
	"bumble/internal/core"
	"bumble/internal/embedding"
	"bumble/internal/llm"
	"bumble/internal/logging"
	"bumble/internal/memory"
	"bumble/internal/react"
	"bumble/internal/store"
	"bumble/internal/tools"
)

// CommandType tags front-end commands.
type CommandType int

const (
	// CommandSubmit submits a user utterance for a ReAct turn.
	CommandSubmit CommandType = iota
	// CommandCancel cancels the in-flight Submit only.
	CommandCancel
	// CommandClear resets conversation and working memory, preserving
	// long-term, lessons, procedural, and preferences.
	CommandClear
	// CommandReloadConfig rereads the config file and rebuilds the
	// planner/critic bindings without dropping the conversation.
	CommandReloadConfig
)

// Command is one front-end request.
type Command struct {
	Type CommandType
	Text string
}

// Orchestrator is the session runtime. All mutation of the state watch
// happens here or in closures it hands to the loop.
type Orchestrator struct {
	cfg        config.Config
	configPath string
	logger     *zap.Logger

	supervisor *core.Supervisor
	scheduler  *core.Scheduler
	recovery   *core.Engine

	states *core.StateWatch
	stream *core.StreamBroadcaster
	events *core.EventQueue

	commands *commandQueue

	cm       *react.ContextManager
	planner  *react.Planner
	critic   *react.Critic
	executor *tools.Executor
	vector   *memory.VectorLongTerm // nil in BM25 mode

	audit     *logging.AuditLogger
	db        *store.Store
	sessionID string
}

// New builds the runtime from configuration. The conversation of the most
// recent stored session is reloaded when persistence is available.
func New(cfg config.Config, configPath string, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger.Named("orchestrator"),
		supervisor: core.NewSupervisor(),
		scheduler:  core.NewScheduler(cfg.App.MaxParallelTools),
		states:     core.NewStateWatch(),
		stream:     core.NewStreamBroadcaster(64),
		events:     core.NewEventQueue(),
		commands:   newCommandQueue(),
	}
	o.recovery = core.NewEngine()
	o.recovery.MaxRetries = cfg.App.MaxRetries

	if err := o.buildComponents(); err != nil {
		return nil, err
	}
	o.openPersistence()
	return o, nil
}

// buildComponents wires the LLM, memory, and tool stack from the current
// config. Called at startup and again on ReloadConfig.
func (o *Orchestrator) buildComponents() error {
	cfg := o.cfg
	workspace := cfg.App.Workspace

	client, embedder, err := buildLLM(cfg, o.logger)
	if err != nil {
		return err
	}

	var lt memory.LongTerm
	o.vector = nil
	if cfg.Memory.VectorEnabled && embedder != nil {
		vec := memory.NewVectorLongTerm(embedder, cfg.Memory.MaxEntries, memory.VectorSnapshotPath(workspace), o.logger)
		o.vector = vec
		lt = vec
	} else {
		if cfg.Memory.VectorEnabled {
			o.logger.Warn("vector memory requested but no embedding capability; falling back to BM25")
		}
		lt = memory.NewFileLongTerm(memory.LongTermPath(workspace), cfg.Memory.MaxEntries)
	}

	// The conversation survives rebuilds: ReloadConfig swaps the planner
	// and critic bindings only.
	var prior *memory.Conversation
	if o.cm != nil {
		prior = o.cm.Conversation
	}
	cm := react.NewContextManager(cfg.App.MaxContextTurns, lt, workspace, o.logger)
	if prior != nil {
		cm.Conversation = prior
	}
	cm.RetrievalK = cfg.Memory.RetrievalK
	cm.RecordToolSuccess = cfg.Memory.RecordToolSuccess
	if cfg.Memory.AutoLessonOnHallucination != nil {
		cm.AutoLessonOnHallucination = *cfg.Memory.AutoLessonOnHallucination
	}
	o.cm = cm

	o.planner = react.NewPlanner(client, cfg.BasePrompt())
	if cfg.Critic.Enabled {
		o.critic = react.NewCritic(client, cfg.Critic.PromptTemplate)
	} else {
		o.critic = nil
	}

	if o.audit == nil && cfg.Logging.AuditEnabled != nil && *cfg.Logging.AuditEnabled {
		o.audit = logging.NewAuditLogger(filepath.Join(memory.Root(workspace), "logs"))
	}
	o.executor = buildTools(cfg, o.audit, o.logger)
	return nil
}

// openPersistence opens the conversation store and reloads the latest
// session. Persistence failures degrade to a memory-only run.
func (o *Orchestrator) openPersistence() {
	path := filepath.Join(memory.Root(o.cfg.App.Workspace), "conversations.db")
	db, err := store.Open(path, o.logger)
	if err != nil {
		o.logger.Warn("conversation store unavailable", zap.Error(err))
		o.sessionID = uuid.NewString()
		return
	}
	o.db = db
	o.sessionID = uuid.NewString()

	// Restore the previous session's dialogue before registering the new
	// session, which would otherwise shadow it as the latest.
	if last, err := db.LatestSession(); err == nil && last != "" {
		if msgs, err := db.LoadMessages(last); err == nil && len(msgs) > 0 {
			for _, m := range msgs {
				o.cm.Conversation.Push(m)
			}
			o.logger.Info("restored conversation", zap.String("session", last), zap.Int("messages", len(msgs)))
		}
	}
	if err := db.CreateSession(o.sessionID, "New Conversation"); err != nil {
		o.logger.Warn("session create failed", zap.Error(err))
	}
}

// States returns the latest-wins UiState watch.
func (o *Orchestrator) States() *core.StateWatch { return o.states }

// Stream returns the lossy token-delta broadcaster.
func (o *Orchestrator) Stream() *core.StreamBroadcaster { return o.stream }

// Events returns the lossless lifecycle event queue.
func (o *Orchestrator) Events() *core.EventQueue { return o.events }

// Dispatch accepts a front-end command. Cancel is handled out of band so it
// reaches the in-flight Submit immediately; everything else is queued
// losslessly and served in order.
func (o *Orchestrator) Dispatch(cmd Command) {
	if cmd.Type == CommandCancel {
		o.supervisor.Cancel()
		return
	}
	o.commands.push(cmd)
}

// Run consumes commands until ctx is cancelled. Submits are serialised
// here: a second Submit queues behind the first, never interleaves.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.vector != nil {
		flusher := o.vector
		interval := o.cfg.Memory.SnapshotInterval
		o.scheduler.Background(func() { flusher.StartFlusher(ctx, interval) })
	}

	for {
		cmd, ok := o.commands.next(ctx)
		if !ok {
			break
		}
		switch cmd.Type {
		case CommandSubmit:
			o.runSubmit(ctx, cmd.Text)
		case CommandClear:
			o.cm.Clear()
			o.states.Store(core.UiState{Phase: core.PhaseIdle})
		case CommandReloadConfig:
			o.reloadConfig()
		}
	}

	o.shutdown()
}

func (o *Orchestrator) shutdown() {
	o.supervisor.Cancel()
	o.scheduler.WaitBackground()
	if o.db != nil {
		o.db.Close()
	}
	if o.audit != nil {
		o.audit.Close()
	}
	o.events.Close()
	o.stream.Close()
}

// runSubmit drives one ReAct turn under a fresh cancellation scope.
func (o *Orchestrator) runSubmit(parent context.Context, text string) {
	ctx := o.supervisor.Begin(parent)
	defer o.supervisor.End()

	o.events.Emit(core.EventTurnStarted, map[string]any{"session": o.sessionID})
	startUsage := o.planner.Usage()

	if o.db != nil {
		if err := o.db.SaveMessage(o.sessionID, memory.User(text)); err == nil {
			o.events.Emit(core.EventMemoryWritten, map[string]any{"store": "conversations"})
		}
	}

	o.states.Store(core.UiState{
		Phase:       core.PhaseThinking,
		History:     o.cm.Conversation.Dialogue(),
		InputLocked: true,
	})

	deps := react.Deps{
		Planner:   o.planner,
		Critic:    o.critic,
		Executor:  o.executor,
		Recovery:  o.recovery,
		Context:   o.cm,
		Scheduler: o.scheduler,
		Events:    o.events,
		Stream:    o.stream,
		Publish:   o.states.Store,
		Logger:    o.logger,
	}
	cfg := react.Config{
		MaxSteps:         o.cfg.App.MaxSteps,
		CompactThreshold: o.cfg.App.CompactThreshold,
		MaxCriticLessons: o.cfg.Critic.MaxLessonsPerTurn,
		Streaming:        o.cfg.App.Streaming,
	}

	result, err := react.Run(ctx, deps, cfg, text)
	usage := o.planner.Usage().Sub(startUsage)

	switch {
	case err == nil:
		if o.db != nil {
			_ = o.db.SaveMessage(o.sessionID, memory.Assistant(result.Response))
		}
		o.appendDailyLog(text, result.Response)
		o.states.Store(core.UiState{
			Phase:   core.PhaseIdle,
			History: o.cm.Conversation.Dialogue(),
		})
		o.events.Emit(core.EventTurnFinished, map[string]any{
			"outcome":           "response",
			"steps":             result.Steps,
			"retries":           result.Retries,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
		})

	case core.AsAgentError(err).Kind == core.KindCancelled:
		// Silent: back to idle, no message, no error.
		o.states.Store(core.UiState{
			Phase:   core.PhaseIdle,
			History: o.cm.Conversation.Dialogue(),
		})
		o.events.Emit(core.EventTurnFinished, map[string]any{"outcome": "cancelled"})

	default:
		aerr := core.AsAgentError(err)
		o.logger.Warn("turn failed", zap.String("kind", string(aerr.Kind)), zap.Error(err))
		o.states.Store(core.UiState{
			Phase:        core.PhaseError,
			History:      o.cm.Conversation.Dialogue(),
			ErrorKind:    string(aerr.Kind),
			ErrorMessage: errorMessage(aerr, o.recovery),
		})
		o.events.Emit(core.EventTurnFinished, map[string]any{
			"outcome": "error",
			"kind":    string(aerr.Kind),
		})
	}

	// The scratchpad lives for exactly one Submit.
	o.cm.Working.Clear()
}

// errorMessage renders the user-facing text for a failed turn, reusing the
// recovery engine's remediation wording for hard errors.
func errorMessage(aerr *core.AgentError, engine *core.Engine) string {
	switch aerr.Kind {
	case core.KindPathEscape, core.KindShellDenied, core.KindHallucinatedTool, core.KindToolTimeout:
		if action := engine.Handle(aerr, 0, 1); action.Message != "" {
			return action.Message
		}
	}
	return aerr.Error()
}

// appendDailyLog records the completed exchange in the daily markdown log.
func (o *Orchestrator) appendDailyLog(userText, response string) {
	date := time.Now().Format("2006-01-02")
	err := memory.AppendDailyLog(o.cfg.App.Workspace, date, o.sessionID, []memory.Message{
		memory.User(userText),
		memory.Assistant(response),
	})
	if err != nil {
		o.logger.Warn("daily log append failed", zap.Error(err))
		return
	}
	o.events.Emit(core.EventMemoryWritten, map[string]any{"store": "daily_log"})
}

// reloadConfig rereads the config file and rebuilds the planner/critic
// bindings. The conversation is preserved.
func (o *Orchestrator) reloadConfig() {
	if o.configPath == "" {
		return
	}
	cfg, err := config.Load(o.configPath, o.cfg.App.Workspace)
	if err != nil {
		o.logger.Warn("config reload failed", zap.Error(err))
		return
	}
	o.cfg = cfg
	o.recovery.MaxRetries = cfg.App.MaxRetries
	if err := o.buildComponents(); err != nil {
		o.logger.Warn("component rebuild failed", zap.Error(err))
		return
	}
	o.logger.Info("config reloaded")
}

// CompactNow runs the compaction protocol outside the loop, for the
// explicit compact command.
func (o *Orchestrator) CompactNow(ctx context.Context) error {
	return react.Compact(ctx, o.planner, o.cm, o.events)
}

// ConsolidateNow folds recent daily logs into long-term memory.
func (o *Orchestrator) ConsolidateNow(sinceDays int) (memory.ConsolidateResult, error) {
	return memory.Consolidate(o.cfg.App.Workspace, o.cm.LongTerm, sinceDays)
}

// buildLLM selects the backend from config. The embedder is non-nil only
// when the provider supports embeddings and a model is configured.
func buildLLM(cfg config.Config, logger *zap.Logger) (llm.Client, embedding.Embedder, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		client, err := llm.NewGeminiClient(context.Background(), cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini client: %w", err)
		}
		var embedder embedding.Embedder
		if cfg.LLM.EmbeddingModel != "" {
			e, err := embedding.NewGenAIEmbedder(context.Background(), cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
			if err != nil {
				logger.Warn("embedding backend unavailable", zap.Error(err))
			} else {
				embedder = e
			}
		}
		return client, embedder, nil
	case "openai":
		return llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.RequestTimeout, cfg.LLM.StreamTimeout), nil, nil
	case "deepseek":
		base := cfg.LLM.BaseURL
		if base == "" {
			base = "https://api.deepseek.com/v1"
		}
		model := cfg.LLM.Model
		if model == "" {
			model = "deepseek-chat"
		}
		return llm.NewOpenAIClient(base, cfg.LLM.APIKey, model, cfg.LLM.RequestTimeout, cfg.LLM.StreamTimeout), nil, nil
	case "mock", "":
		logger.Warn("no LLM provider configured, using mock")
		return llm.NewMockClient(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// buildTools registers the built-in tools and configured plugins into a
// fresh registry wrapped by the auditing executor.
func buildTools(cfg config.Config, audit *logging.AuditLogger, logger *zap.Logger) *tools.Executor {
	fs := tools.NewSafeFS(cfg.App.Workspace)
	registry := tools.NewRegistry(logger)

	registry.MustRegister(tools.CatTool(fs))
	registry.MustRegister(tools.LsTool(fs))
	registry.MustRegister(tools.WriteFileTool(fs))
	registry.MustRegister(tools.EditFileTool(fs))
	registry.MustRegister(tools.EchoTool())
	registry.MustRegister(tools.ShellTool(tools.NewShellPolicy(cfg.Tools.ShellAllowlist), fs))

	fetcher := tools.NewFetcher(cfg.Tools.SearchDomains, cfg.Tools.Timeout, cfg.Tools.SearchMaxChars)
	registry.MustRegister(tools.SearchTool(fetcher))
	registry.MustRegister(tools.BrowserTool(fetcher))

	for _, spec := range cfg.Tools.Plugins {
		if err := registry.Register(tools.PluginTool(spec, fs, logger)); err != nil {
			logger.Warn("plugin registration failed", zap.String("plugin", spec.Name), zap.Error(err))
		}
	}

	var auditFn tools.AuditFunc
	if audit != nil {
		auditFn = func(rec tools.AuditRecord) {
			_ = audit.Write(map[string]any{
				"event":       "tool_exec",
				"tool":        rec.Tool,
				"args_digest": rec.ArgsDigest,
				"duration_ms": rec.DurationMs,
				"outcome":     rec.Outcome,
				"detail":      rec.Detail,
			})
		}
	}
	return tools.NewExecutor(registry, cfg.Tools.Timeout, auditFn, logger)
}
