// Package tools provides the sandboxed tool contract: the Tool definition,
// the thread-safe Registry the planner is validated against, and the
// Executor that wraps every invocation in a timeout and an audit record.
package tools

import "context"

// Property describes a single parameter for the JSON schema the planner
// sees.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// Schema defines the expected arguments of a tool.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. Implementations must
// honour ctx cancellation and return the typed sentinel errors (ErrDenied,
// ErrBadArgs) for sandbox violations and argument problems.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines one dispatchable capability.
type Tool struct {
	// Name is the identifier the planner emits in the "tool" field.
	Name string

	// Description explains the tool to the model. Concatenated into the
	// system prompt together with the schema.
	Description string

	// Execute runs the tool.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema Schema
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Result wraps one execution with its metadata for auditing.
type Result struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Observation is the string output from the tool.
	Observation string

	// Err is set if the tool failed.
	Err error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess reports whether the tool executed without error.
func (r *Result) IsSuccess() bool {
	return r.Err == nil
}
