package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// PluginSpec declares a configured plugin tool: an executable plus an argv
// template. Templates substitute {{workspace}} with the sandbox root and
// {{key}} with the matching key from the planner's args. No shell is
// involved; the program is spawned directly.
type PluginSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Program     string   `yaml:"program"`
	Args        []string `yaml:"args"`
	// WorkingDir is relative to the workspace; it must not climb out.
	WorkingDir string `yaml:"working_dir"`
}

// PluginTool builds a tool from a plugin spec bound to the sandbox.
func PluginTool(spec PluginSpec, fs *SafeFS, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	workDir := fs.Root()
	if spec.WorkingDir != "" {
		if resolved, err := fs.Resolve(spec.WorkingDir); err == nil {
			workDir = resolved
		} else {
			logger.Warn("plugin working_dir rejected, using workspace",
				zap.String("plugin", spec.Name),
				zap.String("working_dir", spec.WorkingDir))
		}
	}

	return &Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			argv := substituteArgs(spec.Args, fs.Root(), args)
			logger.Debug("plugin invoke",
				zap.String("plugin", spec.Name),
				zap.String("program", spec.Program))

			cmd := exec.CommandContext(ctx, spec.Program, argv...)
			cmd.Dir = workDir
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				if ctx.Err() != nil {
					return stdout.String(), ctx.Err()
				}
				detail := strings.TrimSpace(stderr.String())
				if detail == "" {
					detail = err.Error()
				}
				return stdout.String(), fmt.Errorf("plugin %s failed: %s", spec.Name, detail)
			}
			return stdout.String(), nil
		},
		Schema: Schema{
			Properties: map[string]Property{},
		},
	}
}

// substituteArgs expands {{workspace}} and {{key}} placeholders in the argv
// template.
func substituteArgs(template []string, workspace string, args map[string]any) []string {
	out := make([]string, len(template))
	for i, tpl := range template {
		s := strings.ReplaceAll(tpl, "{{workspace}}", filepath.ToSlash(workspace))
		for k, v := range args {
			placeholder := "{{" + k + "}}"
			if !strings.Contains(s, placeholder) {
				continue
			}
			val, ok := v.(string)
			if !ok {
				val = fmt.Sprint(v)
			}
			s = strings.ReplaceAll(s, placeholder, val)
		}
		out[i] = s
	}
	return out
}
