package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nverev/threadsmith/internal/generation"
	"github.com/nverev/threadsmith/internal/miner"
	"github.com/nverev/threadsmith/internal/pairing"
	"github.com/nverev/threadsmith/internal/pipeline"
	"github.com/nverev/threadsmith/internal/promptcfg"
	"github.com/nverev/threadsmith/internal/retrieval"
	"github.com/nverev/threadsmith/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ThreadService abstracts the generation pipeline for the API layer.
type ThreadService interface {
	GenerateThreads(ctx context.Context, topic string, count int) ([]generation.Thread, pipeline.GenerateMetadata, error)
	RefineThreads(ctx context.Context, threads []generation.Thread, history []generation.EditRecord) (*generation.RefineResult, error)
	CaptureFeedback(ctx context.Context, scriptTitle string, edits []pairing.Edit, annotations []pairing.Annotation) []string
}

// TripleDirectory abstracts the triple store's read and maintenance side.
type TripleDirectory interface {
	FindSimilar(ctx context.Context, query string, opts retrieval.SearchOptions) []retrieval.ScoredTriple
	MarkResolved(id string) (bool, error)
	SetQuality(id string, rating int) error
	RecurringPatterns(limit int) ([]storage.RecurringPattern, error)
	BestExamples(limit int) ([]storage.Triple, error)
}

// PatternAnalyzer abstracts the LLM-backed pattern analysis.
type PatternAnalyzer interface {
	Analyze(ctx context.Context, patterns []storage.RecurringPattern, best []storage.Triple) miner.Analysis
}

type Deps struct {
	Service     ThreadService
	Triples     TripleDirectory
	Prompts     *promptcfg.Store
	Suggestions *miner.SuggestionStore
	Analyzer    PatternAnalyzer // optional; analyze falls back to rule-only suggestions
	Token       string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/threads/generate", handleGenerate(deps))
		r.Post("/v1/threads/refine", handleRefine(deps))
		r.Post("/v1/feedback", handleFeedback(deps))

		r.Get("/v1/patterns", handlePatterns(deps))
		r.Get("/v1/examples/best", handleBestExamples(deps))
		r.Post("/v1/triples/{id}/resolve", handleResolve(deps))
		r.Post("/v1/triples/{id}/quality", handleSetQuality(deps))

		r.Get("/v1/suggestions", handleListSuggestions(deps))
		r.Post("/v1/suggestions/analyze", handleAnalyze(deps))
		r.Post("/v1/suggestions/issues", handleReportIssues(deps))
		r.Post("/v1/suggestions/{id}/apply", handleApplySuggestion(deps))
		r.Delete("/v1/suggestions", handleClearSuggestions(deps))

		r.Get("/v1/versions", handleListVersions(deps))
		r.Get("/v1/versions/{id}", handleGetVersion(deps))
		r.Post("/v1/versions/{id}/rollback", handleRollback(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type generateRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Topic == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}

		threads, meta, err := deps.Service.GenerateThreads(r.Context(), req.Topic, req.Count)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"threads":       threads,
			"examples_used": meta.ExamplesUsed,
			"duration_ms":   meta.DurationMs,
		})
	}
}

type refineRequest struct {
	Threads []generation.Thread     `json:"threads"`
	History []generation.EditRecord `json:"edit_history"`
}

func handleRefine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req refineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Threads) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "threads is required and must not be empty")
			return
		}

		result, err := deps.Service.RefineThreads(r.Context(), req.Threads, req.History)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "refinement failed: %v", err)
			return
		}

		writeJSON(w, result)
	}
}

type editEvent struct {
	ID        string    `json:"id"`
	Original  string    `json:"original"`
	Edited    string    `json:"edited"`
	Timestamp time.Time `json:"timestamp"`
}

type annotationEvent struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type feedbackRequest struct {
	ScriptTitle string            `json:"script_title"`
	Edits       []editEvent       `json:"edits"`
	Annotations []annotationEvent `json:"annotations"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		edits := make([]pairing.Edit, len(req.Edits))
		for i, e := range req.Edits {
			edits[i] = pairing.Edit{
				ID:           e.ID,
				OriginalText: e.Original,
				EditedText:   e.Edited,
				Timestamp:    e.Timestamp,
			}
		}
		annotations := make([]pairing.Annotation, len(req.Annotations))
		for i, a := range req.Annotations {
			annotations[i] = pairing.Annotation{
				ID:        a.ID,
				Text:      a.Text,
				Type:      a.Type,
				Timestamp: a.Timestamp,
			}
		}

		ids := deps.Service.CaptureFeedback(r.Context(), req.ScriptTitle, edits, annotations)
		if ids == nil {
			ids = []string{}
		}

		writeJSON(w, map[string]any{"triple_ids": ids})
	}
}

func handlePatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		patterns, err := deps.Triples.RecurringPatterns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list patterns: %v", err)
			return
		}
		if patterns == nil {
			patterns = []storage.RecurringPattern{}
		}

		writeJSON(w, patterns)
	}
}

func handleBestExamples(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		examples, err := deps.Triples.BestExamples(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list examples: %v", err)
			return
		}
		if examples == nil {
			examples = []storage.Triple{}
		}

		writeJSON(w, examples)
	}
}

func handleResolve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		ok, err := deps.Triples.MarkResolved(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve triple: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "triple not found")
			return
		}

		writeJSON(w, map[string]string{"status": "resolved"})
	}
}

type qualityRequest struct {
	Quality int `json:"quality"`
}

func handleSetQuality(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")

		var req qualityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Quality < 1 || req.Quality > 5 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quality must be between 1 and 5")
			return
		}

		if err := deps.Triples.SetQuality(id, req.Quality); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "triple not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set quality: %v", err)
			return
		}

		writeJSON(w, map[string]any{"status": "updated", "quality": req.Quality})
	}
}

func handleListSuggestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suggestions := deps.Suggestions.List()
		if suggestions == nil {
			suggestions = []miner.Suggestion{}
		}
		writeJSON(w, suggestions)
	}
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patterns, err := deps.Triples.RecurringPatterns(50)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load patterns: %v", err)
			return
		}

		suggestions := miner.SuggestFromPatterns(patterns)
		deps.Suggestions.Add(suggestions...)

		var analysis miner.Analysis
		if deps.Analyzer != nil {
			best, err := deps.Triples.BestExamples(10)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load examples: %v", err)
				return
			}
			analysis = deps.Analyzer.Analyze(r.Context(), patterns, best)
		}

		writeJSON(w, map[string]any{
			"suggestions": suggestions,
			"analysis":    analysis,
		})
	}
}

type issuesRequest struct {
	Issues []miner.RecurringIssue `json:"issues"`
}

func handleReportIssues(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req issuesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		suggestions := miner.SuggestFromIssues(req.Issues)
		deps.Suggestions.Add(suggestions...)

		writeJSON(w, map[string]any{"suggestions": suggestions})
	}
}

func handleApplySuggestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		s, ok := deps.Suggestions.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "suggestion not found")
			return
		}

		version, err := deps.Prompts.CreateVersion(
			[]promptcfg.Change{s.Change},
			fmt.Sprintf("Applied suggestion %s", s.ID),
			promptcfg.AuthorSuggestion,
		)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply suggestion: %v", err)
			return
		}

		deps.Suggestions.Remove(id)
		writeJSON(w, version)
	}
}

func handleClearSuggestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Suggestions.Clear()
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleListVersions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Prompts.ListVersions())
	}
}

func handleGetVersion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		version, err := deps.Prompts.GetVersion(id)
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found", "version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load version: %v", err)
			return
		}

		writeJSON(w, version)
	}
}

func handleRollback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		version, err := deps.Prompts.Rollback(id)
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found", "version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rollback failed: %v", err)
			return
		}

		writeJSON(w, version)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
