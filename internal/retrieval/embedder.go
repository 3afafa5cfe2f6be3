// Package retrieval turns captured edit/annotation pairs into embedded
// triples and retrieves the most similar prior triples for a given text.
package retrieval

import (
	"context"
	"fmt"

	"github.com/nverev/threadsmith/internal/backend"
	"golang.org/x/sync/errgroup"
)

// Embedder wraps a Backend to generate text embeddings.
type Embedder struct {
	backend backend.Backend
	model   string
}

// NewEmbedder creates an Embedder using the given Backend and model name.
func NewEmbedder(b backend.Backend, model string) *Embedder {
	return &Embedder{backend: b, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.backend.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
