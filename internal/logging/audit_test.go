package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLogger(dir)
	defer a.Close()

	records := []map[string]any{
		{"event": "tool_exec", "tool": "cat", "outcome": "ok", "duration_ms": int64(12)},
		{"event": "tool_exec", "tool": "shell", "outcome": "denied"},
	}
	for _, r := range records {
		if err := a.Write(r); err != nil {
			t.Fatal(err)
		}
	}

	date := time.Now().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, "audit-"+date+".log"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		if entry["ts"] == nil {
			t.Error("entry should carry a timestamp")
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestAuditLoggerRollsByDate(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLogger(dir)
	defer a.Close()

	day := time.Date(2026, 8, 5, 23, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return day }
	if err := a.Write(map[string]any{"event": "x"}); err != nil {
		t.Fatal(err)
	}
	a.now = func() time.Time { return day.Add(2 * time.Hour) }
	if err := a.Write(map[string]any{"event": "y"}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "audit-2026-08-05.log")); err != nil {
		t.Error("first day file missing")
	}
	if _, err := os.Stat(filepath.Join(dir, "audit-2026-08-06.log")); err != nil {
		t.Error("rolled file missing")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		if _, err := New(level); err != nil {
			t.Errorf("New(%q) failed: %v", level, err)
		}
	}
	if _, err := New("bogus"); err == nil {
		t.Error("unknown level should error")
	}
}
