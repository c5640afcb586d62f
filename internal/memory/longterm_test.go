package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLongTermWriteThenQueryRankOne(t *testing.T) {
	lt := NewFileLongTerm(filepath.Join(t.TempDir(), "long-term.md"), 100)

	lt.Add("the quarterly report lives in docs/reports")
	lt.Add("prefer tabs over spaces in Go files")
	lt.Add("deploys happen every friday afternoon")

	hits := lt.Search("prefer tabs over spaces in Go files", 3)
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if !strings.Contains(hits[0], "tabs over spaces") {
		t.Errorf("exact text should rank first, got %q", hits[0])
	}
}

func TestFileLongTermPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long-term.md")
	lt := NewFileLongTerm(path, 100)
	lt.Add("remember the workspace root is /srv/projects")

	reloaded := NewFileLongTerm(path, 100)
	if reloaded.Len() == 0 {
		t.Fatal("expected blocks after reload")
	}
	hits := reloaded.Search("workspace root", 1)
	if len(hits) != 1 || !strings.Contains(hits[0], "/srv/projects") {
		t.Errorf("reloaded store should retrieve the block, got %v", hits)
	}
}

func TestFileLongTermCJKRetrieval(t *testing.T) {
	lt := NewFileLongTerm(filepath.Join(t.TempDir(), "lt.md"), 100)
	lt.Add("用户喜欢简短的回答")
	hits := lt.Search("简短回答", 1)
	if len(hits) != 1 {
		t.Fatalf("CJK query should match, got %d hits", len(hits))
	}
}

func TestFileLongTermMaxEntries(t *testing.T) {
	lt := NewFileLongTerm(filepath.Join(t.TempDir(), "lt.md"), 3)
	for _, s := range []string{"alpha one", "beta two", "gamma three", "delta four"} {
		lt.Add(s)
	}
	if lt.Len() != 3 {
		t.Errorf("index should cap at 3 entries, got %d", lt.Len())
	}
	if hits := lt.Search("alpha", 1); len(hits) != 0 {
		t.Errorf("oldest entry should be evicted, got %v", hits)
	}
}

func TestSplitBlocks(t *testing.T) {
	content := "## 2024-01-01 10:00\n\nfirst block text\n\n## 2024-01-02 11:00\n\nsecond block text\n"
	blocks := splitBlocks(content)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %v", len(blocks), blocks)
	}
	if blocks[0] != "first block text" || blocks[1] != "second block text" {
		t.Errorf("unexpected blocks: %v", blocks)
	}
}

func TestSplitBlocksNoHeaders(t *testing.T) {
	blocks := splitBlocks("just one paragraph of text")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
}

func TestNoopLongTerm(t *testing.T) {
	var lt NoopLongTerm
	lt.Add("ignored")
	if lt.Enabled() {
		t.Error("noop store must report disabled")
	}
	if hits := lt.Search("ignored", 5); hits != nil {
		t.Errorf("noop search should return nil, got %v", hits)
	}
}

func TestFileLongTermEmptyAddIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lt.md")
	lt := NewFileLongTerm(path, 10)
	lt.Add("   ")
	if lt.Len() != 0 {
		t.Error("blank adds should be ignored")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be created for blank adds")
	}
}
