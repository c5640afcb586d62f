package memory

import (
	"strings"
	"testing"
	"time"
)

func TestConsolidateFoldsRecentLogs(t *testing.T) {
	ws := t.TempDir()
	today := time.Now().Format("2006-01-02")
	err := AppendDailyLog(ws, today, "sess-9", []Message{
		User("plan the launch checklist"),
		Assistant("Here is the checklist: freeze, test, announce."),
	})
	if err != nil {
		t.Fatal(err)
	}

	lt := NewFileLongTerm(LongTermPath(ws), 100)
	result, err := Consolidate(ws, lt, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result.BlocksAdded != 1 {
		t.Fatalf("expected 1 block, got %d", result.BlocksAdded)
	}
	if len(result.DatesProcessed) != 1 || result.DatesProcessed[0] != today {
		t.Errorf("unexpected dates: %v", result.DatesProcessed)
	}

	hits := lt.Search("launch checklist", 1)
	if len(hits) != 1 || !strings.Contains(hits[0], "Consolidated "+today) {
		t.Errorf("consolidated block not retrievable: %v", hits)
	}
}

func TestConsolidateSkipsOldLogs(t *testing.T) {
	ws := t.TempDir()
	old := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	if err := AppendDailyLog(ws, old, "s", []Message{User("ancient")}); err != nil {
		t.Fatal(err)
	}
	lt := NewFileLongTerm(LongTermPath(ws), 100)
	result, err := Consolidate(ws, lt, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result.BlocksAdded != 0 {
		t.Errorf("old logs should be skipped, got %d blocks", result.BlocksAdded)
	}
}

func TestConsolidateNoLogsDir(t *testing.T) {
	result, err := Consolidate(t.TempDir(), NoopLongTerm{}, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result.BlocksAdded != 0 {
		t.Error("missing logs dir should be a no-op")
	}
}

func TestSummarizeLogStripsToolLines(t *testing.T) {
	content := "### User\n\nread it\n\nTool call: cat | Result: body\nObservation from cat: body\n---\n### Assistant\n\ndone\n"
	s := summarizeLog(content)
	if strings.Contains(s, "Tool call:") || strings.Contains(s, "Observation from") {
		t.Errorf("tool lines should be stripped: %q", s)
	}
	if !strings.Contains(s, "read it") || !strings.Contains(s, "done") {
		t.Errorf("dialogue should survive: %q", s)
	}
}
