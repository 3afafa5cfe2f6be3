// Package pipeline orchestrates the full loop: prompt assembly, contextual
// example retrieval, thread generation, refinement, and feedback capture.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nverev/threadsmith/internal/composer"
	"github.com/nverev/threadsmith/internal/generation"
	"github.com/nverev/threadsmith/internal/pairing"
	"github.com/nverev/threadsmith/internal/promptcfg"
	"github.com/nverev/threadsmith/internal/retrieval"
	"github.com/nverev/threadsmith/internal/storage"
)

// GenerateMetadata captures diagnostic information about one generation run.
type GenerateMetadata struct {
	ExamplesUsed int
	DurationMs   int64
}

// Service wires the prompt store, the triple store, the instruction composer,
// and the generator into the operations the API layer exposes.
type Service struct {
	prompts   *promptcfg.Store
	triples   *retrieval.TripleStore
	composer  *composer.Composer
	generator *generation.Generator
	logger    *slog.Logger
}

// NewService creates a Service wired to all pipeline components.
func NewService(
	prompts *promptcfg.Store,
	triples *retrieval.TripleStore,
	comp *composer.Composer,
	gen *generation.Generator,
) *Service {
	return &Service{
		prompts:   prompts,
		triples:   triples,
		composer:  comp,
		generator: gen,
		logger:    slog.Default(),
	}
}

// Instructions assembles the current prompt sections, optionally enriched
// with contextual examples retrieved for the given text. Retrieval is
// best-effort: when nothing relevant is found the base instructions are
// returned unmodified.
func (s *Service) Instructions(ctx context.Context, text string, examples int) (string, int) {
	base := s.composer.Instructions(s.prompts.Sections(), promptcfg.DefaultSections)
	if text == "" {
		return base, 0
	}

	found := s.triples.ContextualExamples(ctx, text, examples)
	if len(found) == 0 {
		return base, 0
	}
	return s.composer.WithExamples(base, found), len(found)
}

// GenerateThreads runs the generation pipeline for a topic:
//  1. Assemble instructions from the current prompt sections
//  2. Retrieve contextual examples for the topic (degrades to none)
//  3. Ask the generator for count threads
func (s *Service) GenerateThreads(ctx context.Context, topic string, count int) ([]generation.Thread, GenerateMetadata, error) {
	start := time.Now()

	instructions, used := s.Instructions(ctx, topic, 0)
	meta := GenerateMetadata{ExamplesUsed: used}

	threads, err := s.generator.Generate(ctx, instructions, topic, count)
	meta.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		return nil, meta, err
	}

	s.logger.Debug("generation complete",
		"topic", topic,
		"threads", len(threads),
		"examples_used", meta.ExamplesUsed,
	)
	return threads, meta, nil
}

// RefineThreads reworks threads under the direction of the edit history.
// The edit history is retrieved context for refinement only; capturing it
// as training signal is CaptureFeedback's job.
func (s *Service) RefineThreads(ctx context.Context, threads []generation.Thread, history []generation.EditRecord) (*generation.RefineResult, error) {
	query := ""
	if len(threads) > 0 {
		query = threads[0].Title
	}
	instructions, _ := s.Instructions(ctx, query, 0)
	return s.generator.Refine(ctx, instructions, threads, history)
}

// CaptureFeedback pairs the edits with the annotations and records one triple
// per pair. It never fails: pairing is pure and capture degrades to the
// sentinel id, so the caller always gets one id per pair.
func (s *Service) CaptureFeedback(ctx context.Context, scriptTitle string, edits []pairing.Edit, annotations []pairing.Annotation) []string {
	pairs := pairing.FindPairs(edits, annotations, pairing.Options{})
	if len(pairs) == 0 {
		return nil
	}

	triples := make([]storage.Triple, len(pairs))
	for i, p := range pairs {
		triples[i] = storage.Triple{
			Original:    p.Edit.OriginalText,
			Annotation:  p.Annotation.Text,
			FinalEdit:   p.Edit.EditedText,
			ScriptTitle: scriptTitle,
			Position:    i,
		}
	}

	// Capture writes are not cancelled with the request.
	ids := s.triples.CaptureBatch(context.WithoutCancel(ctx), triples)

	s.logger.Info("feedback captured",
		"pairs", len(pairs),
		"edits", len(edits),
		"annotations", len(annotations),
	)
	return ids
}
