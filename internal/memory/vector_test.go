package memory

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"
)

// hashEmbedder is a deterministic offline embedder: token-hash buckets, so
// identical text maps to identical vectors.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 32)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%32]++
		}
		out[i] = vec
	}
	return out, nil
}

func TestVectorWriteThenQueryRankOne(t *testing.T) {
	v := NewVectorLongTerm(hashEmbedder{}, 100, "", nil)
	v.Add("the deploy pipeline runs on fridays")
	v.Add("code reviews need two approvals")
	v.Add("the staging cluster lives in frankfurt")

	hits := v.Search("code reviews need two approvals", 3)
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0] != "code reviews need two approvals" {
		t.Errorf("exact text should rank first, got %q", hits[0])
	}
}

func TestVectorSnapshotRoundTrip(t *testing.T) {
	snap := filepath.Join(t.TempDir(), "vector_snapshot.json")
	v := NewVectorLongTerm(hashEmbedder{}, 100, snap, nil)
	v.Add("persistent fact about the build cache")
	if err := v.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	reloaded := NewVectorLongTerm(hashEmbedder{}, 100, snap, nil)
	if reloaded.Len() != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", reloaded.Len())
	}
	hits := reloaded.Search("build cache", 1)
	if len(hits) != 1 || !strings.Contains(hits[0], "build cache") {
		t.Errorf("reloaded index should retrieve the entry, got %v", hits)
	}
}

func TestVectorMaxEntries(t *testing.T) {
	v := NewVectorLongTerm(hashEmbedder{}, 2, "", nil)
	v.Add("one")
	v.Add("two")
	v.Add("three")
	if v.Len() != 2 {
		t.Errorf("index should cap at 2 entries, got %d", v.Len())
	}
}

func TestVectorDisabledWithoutEmbedder(t *testing.T) {
	v := NewVectorLongTerm(nil, 10, "", nil)
	if v.Enabled() {
		t.Error("store without embedder must report disabled")
	}
	v.Add("dropped")
	if v.Len() != 0 {
		t.Error("adds without embedder should be dropped")
	}
}
