package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nverev/threadsmith/internal/storage"
)

// SentinelID is returned by Capture when the triple could not be recorded.
// Failure to record training signal never blocks the editing flow, so the
// caller gets this marker instead of an error.
const SentinelID = "unrecorded"

// maxSimilarResults is the hard cap on similarity results regardless of the
// caller-requested limit.
const maxSimilarResults = 50

// Default retrieval policy for the generation hot path.
const (
	contextThreshold  = 0.7
	contextMinQuality = 4
	defaultExamples   = 5
)

// SearchOptions control FindSimilar.
type SearchOptions struct {
	Threshold  float32 // minimum similarity score; 0 means no floor
	Limit      int     // capped at maxSimilarResults
	MinQuality int     // minimum quality rating; 0 means no filter
}

// TripleStore persists paired triples with their embeddings and retrieves
// similar prior triples. Write failures and hot-path read failures degrade
// gracefully; administrative reads surface errors.
type TripleStore struct {
	store    *storage.Store
	index    *TripleIndex
	embedder *Embedder
	logger   *slog.Logger
}

// NewTripleStore wires the scalar store, the vector index, and the embedder.
func NewTripleStore(store *storage.Store, index *TripleIndex, embedder *Embedder) *TripleStore {
	return &TripleStore{
		store:    store,
		index:    index,
		embedder: embedder,
		logger:   slog.Default(),
	}
}

// Capture validates the triple, embeds the concatenation of its three text
// fields, and persists it. It never returns an error: on validation, embedding,
// or store failure it logs a warning and returns SentinelID so that recording
// training signal is strictly best-effort.
func (ts *TripleStore) Capture(ctx context.Context, t storage.Triple) string {
	if err := validateTriple(&t); err != nil {
		ts.logger.Warn("triple rejected", "error", err)
		return SentinelID
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	text := strings.Join([]string{t.Original, t.Annotation, t.FinalEdit}, " ")
	vec, err := ts.embedder.Embed(ctx, text)
	if err != nil {
		ts.logger.Warn("capture: embedding failed, triple not recorded", "error", err)
		return SentinelID
	}
	t.Embedding = vec

	if err := ts.index.Insert(t); err != nil {
		ts.logger.Warn("capture: insert failed, triple not recorded", "id", t.ID, "error", err)
		return SentinelID
	}

	return t.ID
}

// CaptureBatch records a set of triples from one feedback submission,
// embedding their texts as one bounded-concurrency batch. Per-triple semantics
// match Capture: the returned slice has one id per input, with SentinelID at
// the position of every triple that could not be recorded.
func (ts *TripleStore) CaptureBatch(ctx context.Context, triples []storage.Triple) []string {
	if len(triples) == 0 {
		return nil
	}

	ids := make([]string, len(triples))
	texts := make([]string, 0, len(triples))
	pending := make([]int, 0, len(triples))
	for i := range triples {
		if err := validateTriple(&triples[i]); err != nil {
			ts.logger.Warn("triple rejected", "error", err)
			ids[i] = SentinelID
			continue
		}
		if triples[i].ID == "" {
			triples[i].ID = uuid.New().String()
		}
		texts = append(texts, strings.Join([]string{triples[i].Original, triples[i].Annotation, triples[i].FinalEdit}, " "))
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return ids
	}

	vecs, err := ts.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		ts.logger.Warn("capture batch: embedding failed, triples not recorded", "error", err)
		for _, i := range pending {
			ids[i] = SentinelID
		}
		return ids
	}

	for n, i := range pending {
		t := triples[i]
		t.Embedding = vecs[n]
		if err := ts.index.Insert(t); err != nil {
			ts.logger.Warn("capture batch: insert failed, triple not recorded", "id", t.ID, "error", err)
			ids[i] = SentinelID
			continue
		}
		ids[i] = t.ID
	}
	return ids
}

// validateTriple rejects malformed triples before any persistence attempt and
// applies defaults: quality 3 when unset, resolved false.
func validateTriple(t *storage.Triple) error {
	if strings.TrimSpace(t.Original) == "" {
		return fmt.Errorf("original text is empty")
	}
	if strings.TrimSpace(t.Annotation) == "" {
		return fmt.Errorf("annotation is empty")
	}
	if strings.TrimSpace(t.FinalEdit) == "" {
		return fmt.Errorf("final edit is empty")
	}
	if t.Quality == 0 {
		t.Quality = 3
	}
	if t.Quality < 1 || t.Quality > 5 {
		return fmt.Errorf("quality rating %d out of range 1..5", t.Quality)
	}
	return nil
}

// FindSimilar embeds the query text and returns the nearest stored triples by
// cosine similarity, filtered by the options. It returns an empty slice (never
// an error) on any backend failure: contextual retrieval must not fail the
// generation path.
func (ts *TripleStore) FindSimilar(ctx context.Context, query string, opts SearchOptions) []ScoredTriple {
	limit := opts.Limit
	if limit <= 0 || limit > maxSimilarResults {
		limit = maxSimilarResults
	}

	vec, err := ts.embedder.Embed(ctx, query)
	if err != nil {
		ts.logger.Warn("similarity search: embedding failed", "error", err)
		return nil
	}

	scored, err := ts.index.Search(vec, limit, opts.MinQuality)
	if err != nil {
		ts.logger.Warn("similarity search failed", "error", err)
		return nil
	}

	results := scored[:0]
	for _, s := range scored {
		if s.Score >= opts.Threshold {
			results = append(results, s)
		}
	}
	return results
}

// ContextualExamples returns up to limit high-quality triples similar to the
// given text, for injection into generation prompts. It requests double the
// limit so the quality filter has headroom, then truncates. This is the single
// most latency-sensitive call in the store: it runs synchronously inside the
// generation request path and degrades to no examples on any failure.
func (ts *TripleStore) ContextualExamples(ctx context.Context, text string, limit int) []storage.Triple {
	if limit <= 0 {
		limit = defaultExamples
	}

	scored := ts.FindSimilar(ctx, text, SearchOptions{
		Threshold:  contextThreshold,
		Limit:      2 * limit,
		MinQuality: contextMinQuality,
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	triples := make([]storage.Triple, len(scored))
	for i, s := range scored {
		triples[i] = s.Triple
	}
	return triples
}

// MarkResolved flips a triple's resolved flag. Administrative path: errors
// propagate. The returned bool reports whether a row was actually updated.
func (ts *TripleStore) MarkResolved(id string) (bool, error) {
	return ts.store.MarkResolved(id)
}

// SetQuality re-rates a stored triple. Administrative path: out-of-range
// ratings and unknown ids surface as errors.
func (ts *TripleStore) SetQuality(id string, rating int) error {
	return ts.store.SetQuality(id, rating)
}

// RecurringPatterns surfaces edits the editor repeats across sessions.
func (ts *TripleStore) RecurringPatterns(limit int) ([]storage.RecurringPattern, error) {
	return ts.store.RecurringPatterns(limit)
}

// BestExamples returns the top-N triples by quality and recency.
func (ts *TripleStore) BestExamples(limit int) ([]storage.Triple, error) {
	return ts.store.BestExamples(limit)
}
