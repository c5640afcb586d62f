// Package embedding provides the text-embedding capability used by the
// vector long-term memory back-end.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Embedder turns texts into vectors for similarity retrieval.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrDimensionMismatch is returned when comparing vectors of unequal length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cosine computes cosine similarity between two vectors. Mismatched or
// empty vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
