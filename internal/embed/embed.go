// Package embed defines the text-embedding contract used by similarity
// search. Implementations live in subpackages.
package embed

import "context"

// Embedding is one embedded text with provenance.
type Embedding struct {
	Vector []float32
	Model  string
	Tokens int
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}
