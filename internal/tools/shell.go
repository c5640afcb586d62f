package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// forbiddenSubstrings are rejected even when the leading command is
// allow-listed. Chaining metacharacters keep a single allow-list decision
// from authorising a whole pipeline.
var forbiddenSubstrings = []string{
	"rm -rf",
	"rm -fr",
	"rm -r",
	"mkfs",
	"dd if=",
	"> /dev/sd",
	"chmod 777",
	"chmod +s",
	":(){ :|:& };:",
	";",
	"&&",
	"||",
	"|",
	"`",
	"$(",
	">",
	"<",
}

// ShellPolicy holds the command allow-list for the shell tool.
type ShellPolicy struct {
	allowed map[string]bool
}

// NewShellPolicy builds a policy from the configured command names.
func NewShellPolicy(allowedCommands []string) *ShellPolicy {
	allowed := make(map[string]bool, len(allowedCommands))
	for _, c := range allowedCommands {
		allowed[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &ShellPolicy{allowed: allowed}
}

// Check validates a raw command line against the policy.
func (p *ShellPolicy) Check(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ShellDeniedError("empty command")
	}
	lower := strings.ToLower(trimmed)
	for _, forbidden := range forbiddenSubstrings {
		if strings.Contains(lower, forbidden) {
			return ShellDeniedError(fmt.Sprintf("forbidden pattern %q in %q", forbidden, trimmed))
		}
	}
	name := strings.Fields(lower)[0]
	if !p.allowed[name] {
		return ShellDeniedError(fmt.Sprintf("command %q not in allowlist", name))
	}
	return nil
}

// ShellTool returns the allow-listed shell tool. Commands run in the
// workspace root via sh -c after passing the policy; the executor's
// per-call timeout bounds runtime.
func ShellTool(policy *ShellPolicy, fs *SafeFS) *Tool {
	return &Tool{
		Name:        "shell",
		Description: "Run an allow-listed shell command in the workspace",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return "", MissingArgError("command")
			}
			if err := policy.Check(command); err != nil {
				return "", err
			}

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = fs.Root()
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			err := cmd.Run()
			output := stdout.String()
			if stderr.Len() > 0 {
				if output != "" {
					output += "\n--- stderr ---\n"
				}
				output += stderr.String()
			}
			if len(output) > 50000 {
				output = output[:50000] + "\n...[truncated]"
			}
			if err != nil {
				if ctx.Err() != nil {
					return output, ctx.Err()
				}
				return output, fmt.Errorf("command failed: %w\n%s", err, output)
			}
			return output, nil
		},
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command": {Type: "string", Description: "The command to run (first word must be allow-listed; no chaining)"},
			},
		},
	}
}
