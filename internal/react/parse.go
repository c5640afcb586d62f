package react

import (
	"encoding/json"
	"strings"

	"bumble/internal/core"
)

// ToolCall is the planner's structured tool request:
// {"tool": "cat", "args": {"path": "..."}}.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// PlannerOutput is either a terminal response or a tool call.
type PlannerOutput struct {
	Response string
	Call     *ToolCall
}

// IsToolCall reports whether the output requests a tool.
func (o PlannerOutput) IsToolCall() bool { return o.Call != nil }

// ParseOutput scans raw planner text for a tool call. A fenced ```json
// block wins; otherwise the first balanced top-level JSON object is
// extracted, with braces inside string literals and escapes ignored. Text
// with no well-formed candidate is a plain response. A malformed candidate
// that clearly meant to be a tool call raises KindJSONParse; a second
// complete candidate is ambiguous and also raises KindJSONParse. Unknown
// tool names raise KindHallucinatedTool.
func ParseOutput(raw string, validTools []string) (PlannerOutput, error) {
	trimmed := strings.TrimSpace(raw)

	candidate, rest := extractCandidate(trimmed)
	if candidate == "" {
		return PlannerOutput{Response: trimmed}, nil
	}

	call, perr := lenientParse(candidate)
	if perr != nil {
		// A short fragment or one without a "tool" field is just prose that
		// happened to contain a brace.
		if len(candidate) < 10 || !strings.Contains(candidate, `"tool"`) {
			return PlannerOutput{Response: trimmed}, nil
		}
		return PlannerOutput{}, core.ErrJSONParse(candidate)
	}

	if call.Tool == "" {
		return PlannerOutput{Response: trimmed}, nil
	}

	// Two complete tool-call objects in one output is ambiguous.
	if second, _ := extractCandidate(rest); second != "" && strings.Contains(second, `"tool"`) {
		return PlannerOutput{}, core.ErrJSONParse(trimmed)
	}

	if len(validTools) > 0 && !contains(validTools, call.Tool) {
		return PlannerOutput{}, core.ErrHallucinatedTool(call.Tool)
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return PlannerOutput{Call: call}, nil
}

// extractCandidate returns the first JSON object candidate and the
// remaining text after it. Fenced ```json blocks take precedence.
func extractCandidate(s string) (candidate, rest string) {
	if start := strings.Index(s, "```json"); start >= 0 {
		body := s[start+len("```json"):]
		if end := strings.Index(body, "```"); end >= 0 {
			return strings.TrimSpace(body[:end]), body[end+3:]
		}
		return strings.TrimSpace(body), ""
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ""
	}
	obj, end := balancedObject(s[start:])
	if obj == "" {
		return "", ""
	}
	return obj, s[start+end:]
}

// balancedObject extracts the first complete top-level JSON object from s,
// counting braces while respecting string literals and escapes. Returns the
// object and the index just past it, or "" when unbalanced.
func balancedObject(s string) (string, int) {
	depth := 0
	inString := false
	escaped := false
	start := -1
	for i, ch := range []byte(s) {
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 && start >= 0 {
					return s[start : i+1], i + 1
				}
			}
		}
	}
	return "", 0
}

// lenientParse tries progressively forgiving strategies before giving up.
func lenientParse(candidate string) (*ToolCall, error) {
	var call ToolCall
	first := json.Unmarshal([]byte(candidate), &call)
	if first == nil {
		return &call, nil
	}
	cleaned := strings.TrimFunc(candidate, func(r rune) bool { return r < ' ' || r == ' ' })
	if err := json.Unmarshal([]byte(cleaned), &call); err == nil {
		return &call, nil
	}
	// Single-quoted pseudo-JSON from weaker models.
	requoted := strings.ReplaceAll(cleaned, "'", `"`)
	if err := json.Unmarshal([]byte(requoted), &call); err == nil {
		return &call, nil
	}
	return nil, first
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
