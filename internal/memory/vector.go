package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"bumble/internal/embedding"
)

// VectorLongTerm stores blocks with embeddings and retrieves by cosine
// similarity. The index is periodically snapshotted to a JSON file and
// reloaded on start. Additions since the last snapshot are lost on abnormal
// termination; that window is bounded by the flush interval.
type VectorLongTerm struct {
	mu       sync.RWMutex
	entries  []vectorEntry
	embedder embedding.Embedder
	maxSize  int
	snapshot string
	logger   *zap.Logger
}

type vectorEntry struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// NewVectorLongTerm builds the vector store. snapshotPath may be empty for a
// purely in-memory index; when set, an existing snapshot is loaded.
func NewVectorLongTerm(embedder embedding.Embedder, maxSize int, snapshotPath string, logger *zap.Logger) *VectorLongTerm {
	if maxSize < 1 {
		maxSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &VectorLongTerm{
		embedder: embedder,
		maxSize:  maxSize,
		snapshot: snapshotPath,
		logger:   logger.Named("vector"),
	}
	v.loadSnapshot()
	return v
}

func (v *VectorLongTerm) loadSnapshot() {
	if v.snapshot == "" {
		return
	}
	data, err := os.ReadFile(v.snapshot)
	if err != nil {
		return
	}
	var entries []vectorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		v.logger.Warn("snapshot unreadable, starting empty", zap.Error(err))
		return
	}
	if len(entries) > v.maxSize {
		entries = entries[len(entries)-v.maxSize:]
	}
	v.mu.Lock()
	v.entries = entries
	v.mu.Unlock()
	v.logger.Info("loaded vector snapshot", zap.Int("entries", len(entries)))
}

// SaveSnapshot writes the current index to the snapshot path.
func (v *VectorLongTerm) SaveSnapshot() error {
	if v.snapshot == "" {
		return nil
	}
	v.mu.RLock()
	entries := make([]vectorEntry, len(v.entries))
	copy(entries, v.entries)
	v.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(v.snapshot); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(v.snapshot, data, 0o644)
}

// StartFlusher runs a background loop saving the snapshot every interval
// until ctx is cancelled, then saves once more on the way out.
func (v *VectorLongTerm) StartFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := v.SaveSnapshot(); err != nil {
				v.logger.Warn("final snapshot save failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := v.SaveSnapshot(); err != nil {
				v.logger.Warn("snapshot save failed", zap.Error(err))
			}
		}
	}
}

// Add embeds the text and appends it to the index. Embedding failures are
// logged and the block dropped; retrieval quality degrades rather than the
// turn failing.
func (v *VectorLongTerm) Add(text string) {
	if text == "" || v.embedder == nil {
		return
	}
	vecs, err := v.embedder.Embed(context.Background(), []string{text})
	if err != nil || len(vecs) == 0 {
		v.logger.Warn("embed failed, dropping block", zap.Error(err))
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, vectorEntry{Text: text, Embedding: vecs[0]})
	if len(v.entries) > v.maxSize {
		v.entries = v.entries[len(v.entries)-v.maxSize:]
	}
}

// Search embeds the query and returns the top-k entries by cosine
// similarity.
func (v *VectorLongTerm) Search(query string, k int) []string {
	if query == "" || k <= 0 || v.embedder == nil {
		return nil
	}
	vecs, err := v.embedder.Embed(context.Background(), []string{query})
	if err != nil || len(vecs) == 0 {
		return nil
	}
	queryVec := vecs[0]

	v.mu.RLock()
	type scored struct {
		score float64
		text  string
	}
	hits := make([]scored, 0, len(v.entries))
	for _, e := range v.entries {
		if s := embedding.Cosine(queryVec, e.Embedding); s > 0 {
			hits = append(hits, scored{score: s, text: e.Text})
		}
	}
	v.mu.RUnlock()

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

// Enabled reports whether an embedder is wired.
func (v *VectorLongTerm) Enabled() bool { return v.embedder != nil }

// Len returns the number of indexed entries.
func (v *VectorLongTerm) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}
