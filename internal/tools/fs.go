package tools

import (
	"context"
	"fmt"
	"strings"
)

// CatTool returns the file-read tool bound to the sandbox.
func CatTool(fs *SafeFS) *Tool {
	return &Tool{
		Name:        "cat",
		Description: "Read the contents of a file inside the workspace",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", MissingArgError("path")
			}
			return fs.ReadFile(path)
		},
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File path relative to the workspace"},
			},
		},
	}
}

// LsTool returns the directory-listing tool bound to the sandbox.
func LsTool(fs *SafeFS) *Tool {
	return &Tool{
		Name:        "ls",
		Description: "List files in a workspace directory",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			entries, err := fs.ListDir(path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "(empty)", nil
			}
			return strings.Join(entries, "\n"), nil
		},
		Schema: Schema{
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory path relative to the workspace (default: root)"},
			},
		},
	}
}

// WriteFileTool returns the file-write tool bound to the sandbox.
func WriteFileTool(fs *SafeFS) *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a workspace file, creating it if needed",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", MissingArgError("path")
			}
			content, _ := args["content"].(string)
			if err := fs.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "File path relative to the workspace"},
				"content": {Type: "string", Description: "The content to write"},
			},
		},
	}
}

// EditFileTool returns the search-and-replace editing tool bound to the
// sandbox.
func EditFileTool(fs *SafeFS) *Tool {
	return &Tool{
		Name:        "edit_file",
		Description: "Edit a workspace file by replacing text",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", MissingArgError("path")
			}
			oldText, _ := args["old_text"].(string)
			if oldText == "" {
				return "", MissingArgError("old_text")
			}
			newText, _ := args["new_text"].(string)
			replaceAll, _ := args["replace_all"].(bool)

			content, err := fs.ReadFile(path)
			if err != nil {
				return "", err
			}
			if !strings.Contains(content, oldText) {
				return "", fmt.Errorf("old_text not found in %s", path)
			}
			var updated string
			count := 1
			if replaceAll {
				count = strings.Count(content, oldText)
				updated = strings.ReplaceAll(content, oldText, newText)
			} else {
				updated = strings.Replace(content, oldText, newText, 1)
			}
			if err := fs.WriteFile(path, updated); err != nil {
				return "", err
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path), nil
		},
		Schema: Schema{
			Required: []string{"path", "old_text", "new_text"},
			Properties: map[string]Property{
				"path":        {Type: "string", Description: "File path relative to the workspace"},
				"old_text":    {Type: "string", Description: "The text to find and replace"},
				"new_text":    {Type: "string", Description: "The replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace all occurrences (default: false)", Default: false},
			},
		},
	}
}

// EchoTool returns the echo tool, useful for wiring checks and mock runs.
func EchoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the given text back",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
		Schema: Schema{
			Required: []string{"text"},
			Properties: map[string]Property{
				"text": {Type: "string", Description: "The text to echo"},
			},
		},
	}
}
