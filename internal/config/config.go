// Package config loads and validates the agent configuration from YAML,
// applies defaults, and honours environment-variable overrides for
// credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"bumble/internal/tools"
)

// Config holds all agent configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	LLM     LLMConfig     `yaml:"llm"`
	Memory  MemoryConfig  `yaml:"memory"`
	Critic  CriticConfig  `yaml:"critic"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// AppConfig bounds the loop and the workspace.
type AppConfig struct {
	// Workspace is the sandbox root; all tool file access stays inside it.
	Workspace string `yaml:"workspace"`
	// MaxSteps caps planner iterations per Submit.
	MaxSteps int `yaml:"max_steps"`
	// MaxContextTurns bounds the conversation to 2x this many messages.
	MaxContextTurns int `yaml:"max_context_turns"`
	// CompactThreshold triggers compaction past this conversation length.
	CompactThreshold int `yaml:"compact_threshold"`
	// MaxParallelTools sizes the scheduler's tool permit pool.
	MaxParallelTools int `yaml:"max_parallel_tools"`
	// MaxRetries bounds recoverable retries per turn.
	MaxRetries int `yaml:"max_retries"`
	// Streaming selects streaming planner calls.
	Streaming bool `yaml:"streaming"`
	// BasePromptFile optionally overrides the built-in system prompt.
	BasePromptFile string `yaml:"base_prompt_file"`
}

// LLMConfig selects and parametrises the model backend.
type LLMConfig struct {
	// Provider is one of gemini, openai, deepseek, mock.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// APIKey may be left empty and supplied via GEMINI_API_KEY /
	// OPENAI_API_KEY / DEEPSEEK_API_KEY.
	APIKey string `yaml:"api_key"`
	// RequestTimeout caps non-streaming calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// StreamTimeout caps the whole streaming call.
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	// EmbeddingModel selects the embedding model; the vector long-term
	// backend is used when memory.vector_enabled is set, this is set and the
	// provider supports embeddings.
	EmbeddingModel string `yaml:"embedding_model"`
}

// MemoryConfig parametrises the memory layers.
type MemoryConfig struct {
	// VectorEnabled selects the vector long-term backend; falls back to
	// BM25 when no embedding capability is available.
	VectorEnabled bool `yaml:"vector_enabled"`
	// MaxEntries bounds the long-term index.
	MaxEntries int `yaml:"max_entries"`
	// RetrievalK is the top-k injected into the prompt.
	RetrievalK int `yaml:"retrieval_k"`
	// SnapshotInterval is the vector snapshot flush cadence. Additions
	// since the last flush are lost on abnormal termination.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	// RecordToolSuccess also writes successful tool runs to procedural
	// memory.
	RecordToolSuccess bool `yaml:"record_tool_success"`
	// AutoLessonOnHallucination appends a lesson when the planner invents
	// a tool.
	AutoLessonOnHallucination *bool `yaml:"auto_lesson_on_hallucination"`
}

// CriticConfig parametrises the reflection step.
type CriticConfig struct {
	Enabled bool `yaml:"enabled"`
	// PromptTemplate overrides the built-in critic prompt; placeholders
	// {goal}, {tool}, {observation}.
	PromptTemplate string `yaml:"prompt_template"`
	// MaxLessonsPerTurn caps critic-derived lesson appends per turn, so an
	// opinionated critic cannot bloat the lessons store.
	MaxLessonsPerTurn int `yaml:"max_lessons_per_turn"`
}

// ToolsConfig parametrises the sandbox and built-in tools.
type ToolsConfig struct {
	// Timeout is the per-call wall-clock bound.
	Timeout time.Duration `yaml:"timeout"`
	// ShellAllowlist names the commands the shell tool may run.
	ShellAllowlist []string `yaml:"shell_allowlist"`
	// SearchDomains names the hosts search/browser may fetch from.
	SearchDomains []string `yaml:"search_domains"`
	// SearchMaxChars truncates fetched pages.
	SearchMaxChars int `yaml:"search_max_chars"`
	// Plugins declares external executable tools.
	Plugins []tools.PluginSpec `yaml:"plugins"`
}

// LoggingConfig parametrises zap and the audit log.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// AuditEnabled writes tool audit records under memory/logs/.
	AuditEnabled *bool `yaml:"audit_enabled"`
}

// Default returns the baseline configuration for a workspace.
func Default(workspace string) Config {
	auditOn := true
	lessonOn := true
	return Config{
		App: AppConfig{
			Workspace:        workspace,
			MaxSteps:         6,
			MaxContextTurns:  20,
			CompactThreshold: 24,
			MaxParallelTools: 3,
			MaxRetries:       3,
			Streaming:        true,
		},
		LLM: LLMConfig{
			Provider:       "mock",
			RequestTimeout: 2 * time.Minute,
			StreamTimeout:  5 * time.Minute,
		},
		Memory: MemoryConfig{
			MaxEntries:                2000,
			RetrievalK:                5,
			SnapshotInterval:          5 * time.Minute,
			AutoLessonOnHallucination: &lessonOn,
		},
		Critic: CriticConfig{Enabled: true, MaxLessonsPerTurn: 2},
		Tools: ToolsConfig{
			Timeout:        30 * time.Second,
			ShellAllowlist: []string{"ls", "grep", "cat", "head", "tail", "wc", "find", "go", "git"},
			SearchDomains:  []string{"en.wikipedia.org", "pkg.go.dev"},
			SearchMaxChars: 8000,
		},
		Logging: LoggingConfig{Level: "info", AuditEnabled: &auditOn},
	}
}

// Load reads the config file at path, layered over defaults, then applies
// environment overrides. A missing file yields pure defaults.
func Load(path, workspace string) (Config, error) {
	cfg := Default(workspace)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults(workspace)
	return cfg, nil
}

// DefaultPath returns the conventional config location in a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, "bumble.yaml")
}

// applyEnv honours credential environment variables. OPENAI_API_KEY and
// DEEPSEEK_API_KEY override the file value; GEMINI_API_KEY only fills an
// empty key.
func (c *Config) applyEnv() {
	switch c.LLM.Provider {
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			c.LLM.APIKey = v
		}
	case "deepseek":
		if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
			c.LLM.APIKey = v
		}
	default:
		if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
	}
}

// applyDefaults backfills zero values after YAML overlay.
func (c *Config) applyDefaults(workspace string) {
	def := Default(workspace)
	if c.App.Workspace == "" {
		c.App.Workspace = workspace
	}
	if c.App.MaxSteps <= 0 {
		c.App.MaxSteps = def.App.MaxSteps
	}
	if c.App.MaxContextTurns <= 0 {
		c.App.MaxContextTurns = def.App.MaxContextTurns
	}
	if c.App.CompactThreshold <= 0 {
		c.App.CompactThreshold = def.App.CompactThreshold
	}
	if c.App.MaxParallelTools <= 0 {
		c.App.MaxParallelTools = def.App.MaxParallelTools
	}
	if c.App.MaxRetries <= 0 {
		c.App.MaxRetries = def.App.MaxRetries
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.RequestTimeout <= 0 {
		c.LLM.RequestTimeout = def.LLM.RequestTimeout
	}
	if c.LLM.StreamTimeout <= 0 {
		c.LLM.StreamTimeout = def.LLM.StreamTimeout
	}
	if c.Memory.MaxEntries <= 0 {
		c.Memory.MaxEntries = def.Memory.MaxEntries
	}
	if c.Memory.RetrievalK <= 0 {
		c.Memory.RetrievalK = def.Memory.RetrievalK
	}
	if c.Memory.SnapshotInterval <= 0 {
		c.Memory.SnapshotInterval = def.Memory.SnapshotInterval
	}
	if c.Memory.AutoLessonOnHallucination == nil {
		c.Memory.AutoLessonOnHallucination = def.Memory.AutoLessonOnHallucination
	}
	if c.Critic.MaxLessonsPerTurn <= 0 {
		c.Critic.MaxLessonsPerTurn = def.Critic.MaxLessonsPerTurn
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = def.Tools.Timeout
	}
	if len(c.Tools.ShellAllowlist) == 0 {
		c.Tools.ShellAllowlist = def.Tools.ShellAllowlist
	}
	if len(c.Tools.SearchDomains) == 0 {
		c.Tools.SearchDomains = def.Tools.SearchDomains
	}
	if c.Tools.SearchMaxChars <= 0 {
		c.Tools.SearchMaxChars = def.Tools.SearchMaxChars
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.AuditEnabled == nil {
		c.Logging.AuditEnabled = def.Logging.AuditEnabled
	}
}

// BasePrompt reads the configured base prompt file, or "" for the built-in
// default.
func (c *Config) BasePrompt() string {
	if c.App.BasePromptFile == "" {
		return ""
	}
	data, err := os.ReadFile(c.App.BasePromptFile)
	if err != nil {
		return ""
	}
	return string(data)
}
