package react

import (
	"errors"
	"testing"

	"bumble/internal/core"
)

var testTools = []string{"cat", "ls", "shell", "search", "echo"}

func TestParseToolCall(t *testing.T) {
	out, err := ParseOutput(`{"tool": "cat", "args": {"path": "README.md"}}`, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsToolCall() {
		t.Fatal("expected tool call")
	}
	if out.Call.Tool != "cat" {
		t.Errorf("got tool %q", out.Call.Tool)
	}
	if out.Call.Args["path"] != "README.md" {
		t.Errorf("got args %v", out.Call.Args)
	}
}

func TestParseJSONInMarkdownFence(t *testing.T) {
	raw := "Let me read that file.\n\n```json\n{\"tool\": \"cat\", \"args\": {\"path\": \"go.mod\"}}\n```\n"
	out, err := ParseOutput(raw, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsToolCall() || out.Call.Tool != "cat" {
		t.Fatalf("expected cat tool call, got %+v", out)
	}
}

func TestParsePlainResponse(t *testing.T) {
	raw := "Hello! How can I help you today?"
	out, err := ParseOutput(raw, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if out.IsToolCall() {
		t.Fatal("expected plain response")
	}
	if out.Response != raw {
		t.Errorf("got %q", out.Response)
	}
}

func TestParseEmptyToolIsResponse(t *testing.T) {
	out, err := ParseOutput(`{"tool": "", "args": {}}`, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if out.IsToolCall() {
		t.Error("empty tool name should fall back to response")
	}
}

func TestParseBracesInProse(t *testing.T) {
	raw := "I think {this} is interesting"
	out, err := ParseOutput(raw, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if out.IsToolCall() || out.Response != raw {
		t.Errorf("prose with braces should stay a response, got %+v", out)
	}
}

func TestParseBracesInsideStringValue(t *testing.T) {
	out, err := ParseOutput(`{"tool": "echo", "args": {"text": "test {value} here"}}`, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsToolCall() || out.Call.Args["text"] != "test {value} here" {
		t.Errorf("braces inside strings must not break extraction: %+v", out)
	}
}

func TestParseNestedJSONInShellCommand(t *testing.T) {
	out, err := ParseOutput(`{"tool": "shell", "args": {"command": "echo '{\"key\": \"value\"}'"}}`, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsToolCall() || out.Call.Tool != "shell" {
		t.Errorf("expected shell call, got %+v", out)
	}
}

func TestParseEscapedQuotes(t *testing.T) {
	out, err := ParseOutput(`{"tool": "echo", "args": {"text": "say \"hello\""}}`, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsToolCall() || out.Call.Tool != "echo" {
		t.Errorf("escaped quotes must parse, got %+v", out)
	}
}

func TestParseIncompleteObjectIsResponse(t *testing.T) {
	// Unbalanced braces: no complete candidate, so the text is a response.
	raw := `{"tool": "cat", "args": {"path": "test.txt"}`
	out, err := ParseOutput(raw, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if out.IsToolCall() {
		t.Error("incomplete JSON should degrade to response")
	}
}

func TestParseMalformedToolObject(t *testing.T) {
	// Balanced but syntactically invalid, and clearly meant as a call.
	_, err := ParseOutput(`{"tool": cat, "args": {}}`, testTools)
	var aerr *core.AgentError
	if !errors.As(err, &aerr) || aerr.Kind != core.KindJSONParse {
		t.Fatalf("expected JSON parse error, got %v", err)
	}
}

func TestParseHallucinatedTool(t *testing.T) {
	_, err := ParseOutput(`{"tool": "launch_missiles", "args": {}}`, testTools)
	var aerr *core.AgentError
	if !errors.As(err, &aerr) || aerr.Kind != core.KindHallucinatedTool {
		t.Fatalf("expected hallucinated tool error, got %v", err)
	}
	if aerr.Tool != "launch_missiles" {
		t.Errorf("error should carry the invented name, got %q", aerr.Tool)
	}
}

func TestParseAmbiguousDoubleCall(t *testing.T) {
	raw := `{"tool": "cat", "args": {"path": "a"}} {"tool": "ls", "args": {}}`
	_, err := ParseOutput(raw, testTools)
	var aerr *core.AgentError
	if !errors.As(err, &aerr) || aerr.Kind != core.KindJSONParse {
		t.Fatalf("two candidates should be ambiguous, got %v", err)
	}
}

func TestParseSingleQuotedJSON(t *testing.T) {
	out, err := ParseOutput(`{'tool': 'echo', 'args': {'text': 'hi'}}`, testTools)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsToolCall() || out.Call.Tool != "echo" {
		t.Errorf("single-quoted pseudo-JSON should parse leniently, got %+v", out)
	}
}

func TestBalancedObject(t *testing.T) {
	s := `prefix {"tool": "shell", "args": {"cmd": "{nested}"}} suffix`
	obj, _ := balancedObject(s)
	if obj == "" {
		t.Fatal("expected object")
	}
	if obj[0] != '{' || obj[len(obj)-1] != '}' {
		t.Errorf("object should be brace-delimited: %q", obj)
	}
}
