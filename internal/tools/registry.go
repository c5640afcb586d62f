package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime. The planner only
// ever sees tools from this registry, so a hallucinated name can never be
// dispatched.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *zap.Logger
}

// NewRegistry creates a new empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.Named("tools"),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.logger.Debug("registered tool", zap.String("name", tool.Name))
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// PromptSection renders the registry as the tool section of the system
// prompt: one entry per tool with its description and parameter schema, plus
// the call format the planner must emit.
func (r *Registry) PromptSection() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("## Available tools\n")
	b.WriteString("To call a tool, output exactly one JSON object and nothing else: ")
	b.WriteString(`{"tool": "<name>", "args": {...}}` + "\n\n")
	for _, name := range names {
		tool := r.tools[name]
		fmt.Fprintf(&b, "- %s: %s\n", name, tool.Description)
		if len(tool.Schema.Properties) > 0 {
			schema, err := json.Marshal(tool.Schema)
			if err == nil {
				fmt.Fprintf(&b, "  parameters: %s\n", schema)
			}
		}
	}
	return b.String()
}
