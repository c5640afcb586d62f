package memory

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// LongTerm is the cross-session knowledge store: an append log of text
// blocks with similarity retrieval.
type LongTerm interface {
	// Add appends a text block to the store.
	Add(text string)

	// Search returns the top-k blocks most relevant to the query.
	Search(query string, k int) []string

	// Enabled reports whether the store is active. A disabled store is
	// skipped during prompt assembly.
	Enabled() bool
}

// NoopLongTerm is the disabled store.
type NoopLongTerm struct{}

func (NoopLongTerm) Add(string)                  {}
func (NoopLongTerm) Search(string, int) []string { return nil }
func (NoopLongTerm) Enabled() bool               { return false }

// tokenize splits text into lowercase terms. Whitespace-delimited words of
// length >= 2 plus individual CJK runes, so Chinese text stays retrievable
// under term overlap.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()[]{}"))
		hasCJK := false
		for _, r := range w {
			if unicode.Is(unicode.Han, r) {
				tokens[string(r)] = true
				hasCJK = true
			}
		}
		if !hasCJK && len([]rune(w)) >= 2 {
			tokens[w] = true
		}
	}
	return tokens
}

// bm25Score ranks a document against the query: term overlap normalised by
// document length.
func bm25Score(query, doc map[string]bool) float64 {
	overlap := 0
	for t := range query {
		if doc[t] {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	n := len(doc)
	if n < 1 {
		n = 1
	}
	return float64(overlap) / math.Sqrt(float64(n))
}

// block is an indexed long-term entry.
type block struct {
	text   string
	tokens map[string]bool
}

// FileLongTerm is the BM25 back-end: blocks live in a markdown file with
// "## <timestamp>" headers, loaded at startup and appended on Add.
type FileLongTerm struct {
	mu         sync.RWMutex
	path       string
	blocks     []block
	maxEntries int
	now        func() time.Time
}

// NewFileLongTerm opens (or lazily creates) the markdown-backed store at
// path, keeping at most maxEntries blocks in the index.
func NewFileLongTerm(path string, maxEntries int) *FileLongTerm {
	if maxEntries < 1 {
		maxEntries = 1000
	}
	lt := &FileLongTerm{path: path, maxEntries: maxEntries, now: time.Now}
	lt.load()
	return lt
}

func (lt *FileLongTerm) load() {
	data, err := os.ReadFile(lt.path)
	if err != nil {
		return
	}
	for _, text := range splitBlocks(string(data)) {
		lt.blocks = append(lt.blocks, block{text: text, tokens: tokenize(text)})
	}
	if n := len(lt.blocks); n > lt.maxEntries {
		lt.blocks = lt.blocks[n-lt.maxEntries:]
	}
}

// splitBlocks cuts markdown content on "## ..." headers, returning the body
// of each block. The header line is discarded. Content with no headers is a
// single block.
func splitBlocks(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var blocks []string
	parts := strings.Split("\n"+content, "\n## ")
	for i, part := range parts {
		if i > 0 {
			// Everything after a header marker: drop the header line.
			if j := strings.IndexByte(part, '\n'); j >= 0 {
				part = part[j+1:]
			} else {
				continue
			}
		}
		part = strings.TrimSpace(part)
		if part != "" {
			blocks = append(blocks, part)
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, content)
	}
	return blocks
}

// Add indexes the block and appends it to the markdown file under a
// timestamp header.
func (lt *FileLongTerm) Add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	lt.mu.Lock()
	lt.blocks = append(lt.blocks, block{text: text, tokens: tokenize(text)})
	if n := len(lt.blocks); n > lt.maxEntries {
		lt.blocks = lt.blocks[n-lt.maxEntries:]
	}
	lt.mu.Unlock()

	stamp := lt.now().Format("2006-01-02 15:04")
	entry := fmt.Sprintf("\n\n## %s\n\n%s\n", stamp, text)
	if dir := filepath.Dir(lt.path); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(lt.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(entry)
}

// Search returns the top-k blocks by BM25 score.
func (lt *FileLongTerm) Search(query string, k int) []string {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || k <= 0 {
		return nil
	}
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	type scored struct {
		score float64
		text  string
	}
	var hits []scored
	for _, b := range lt.blocks {
		if s := bm25Score(queryTokens, b.tokens); s > 0 {
			hits = append(hits, scored{score: s, text: b.text})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out
}

// Enabled always reports true for the file store.
func (lt *FileLongTerm) Enabled() bool { return true }

// Len returns the number of indexed blocks.
func (lt *FileLongTerm) Len() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.blocks)
}
