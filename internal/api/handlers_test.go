package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nverev/threadsmith/internal/generation"
	"github.com/nverev/threadsmith/internal/miner"
	"github.com/nverev/threadsmith/internal/pairing"
	"github.com/nverev/threadsmith/internal/pipeline"
	"github.com/nverev/threadsmith/internal/promptcfg"
	"github.com/nverev/threadsmith/internal/retrieval"
	"github.com/nverev/threadsmith/internal/storage"
)

// --- mocks ---

type mockService struct {
	threads    []generation.Thread
	genErr     error
	refined    *generation.RefineResult
	refineErr  error
	capturedID string
	lastTitle  string
}

func (m *mockService) GenerateThreads(_ context.Context, topic string, count int) ([]generation.Thread, pipeline.GenerateMetadata, error) {
	return m.threads, pipeline.GenerateMetadata{ExamplesUsed: 2}, m.genErr
}

func (m *mockService) RefineThreads(_ context.Context, threads []generation.Thread, history []generation.EditRecord) (*generation.RefineResult, error) {
	return m.refined, m.refineErr
}

func (m *mockService) CaptureFeedback(_ context.Context, title string, edits []pairing.Edit, annotations []pairing.Annotation) []string {
	m.lastTitle = title
	if len(edits) == 0 || len(annotations) == 0 {
		return nil
	}
	return []string{m.capturedID}
}

type mockTriples struct {
	scored     []retrieval.ScoredTriple
	resolved   map[string]bool
	qualities  map[string]int
	patterns   []storage.RecurringPattern
	best       []storage.Triple
	listErr    error
	qualityErr error
	resolveOK  bool
}

func (m *mockTriples) FindSimilar(_ context.Context, query string, opts retrieval.SearchOptions) []retrieval.ScoredTriple {
	return m.scored
}

func (m *mockTriples) MarkResolved(id string) (bool, error) {
	if m.resolved == nil {
		m.resolved = make(map[string]bool)
	}
	m.resolved[id] = true
	return m.resolveOK, nil
}

func (m *mockTriples) SetQuality(id string, rating int) error {
	if m.qualityErr != nil {
		return m.qualityErr
	}
	if m.qualities == nil {
		m.qualities = make(map[string]int)
	}
	m.qualities[id] = rating
	return nil
}

func (m *mockTriples) RecurringPatterns(limit int) ([]storage.RecurringPattern, error) {
	return m.patterns, m.listErr
}

func (m *mockTriples) BestExamples(limit int) ([]storage.Triple, error) {
	return m.best, m.listErr
}

type mockAnalyzer struct {
	analysis miner.Analysis
}

func (m *mockAnalyzer) Analyze(_ context.Context, _ []storage.RecurringPattern, _ []storage.Triple) miner.Analysis {
	return m.analysis
}

// --- helpers ---

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	prompts, err := promptcfg.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening prompt store: %v", err)
	}

	return Deps{
		Service: &mockService{
			threads:    []generation.Thread{{Title: "T", Tweets: []string{"a", "b"}}},
			refined:    &generation.RefineResult{UpdatedThreads: []generation.Thread{{Title: "T", Tweets: []string{"a"}}}},
			capturedID: "triple-1",
		},
		Triples:     &mockTriples{resolveOK: true},
		Prompts:     prompts,
		Suggestions: miner.NewSuggestionStore(),
		Analyzer:    &mockAnalyzer{analysis: miner.Analysis{Summary: "steady"}},
		Token:       "secret",
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

// --- tests ---

func TestHealthzNoAuth(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodGet, "/v1/versions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/versions", "wrong", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for bad token", w.Code)
	}
}

func TestAuthDisabledWithEmptyToken(t *testing.T) {
	deps := newTestDeps(t)
	deps.Token = ""
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodGet, "/v1/versions", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/threads/generate", "secret",
		map[string]any{"topic": "deep work", "count": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	resp := decodeJSON[map[string]any](t, w)
	if resp["examples_used"].(float64) != 2 {
		t.Errorf("examples_used = %v", resp["examples_used"])
	}
}

func TestGenerateEndpoint_MissingTopic(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/threads/generate", "secret",
		map[string]any{"count": 1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRefineEndpoint_EmptyThreads(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/threads/refine", "secret",
		map[string]any{"threads": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/feedback", "secret", map[string]any{
		"script_title": "March thread",
		"edits": []map[string]any{
			{"id": "e1", "original": "o", "edited": "e", "timestamp": "2026-03-01T10:00:00Z"},
		},
		"annotations": []map[string]any{
			{"id": "a1", "text": "tighten", "timestamp": "2026-03-01T10:00:05Z"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	resp := decodeJSON[map[string][]string](t, w)
	if len(resp["triple_ids"]) != 1 || resp["triple_ids"][0] != "triple-1" {
		t.Errorf("triple_ids = %v", resp["triple_ids"])
	}
	if deps.Service.(*mockService).lastTitle != "March thread" {
		t.Errorf("script title not forwarded")
	}
}

func TestFeedbackEndpoint_NoPairs(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/feedback", "secret",
		map[string]any{"script_title": "t"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON[map[string][]string](t, w)
	if resp["triple_ids"] == nil || len(resp["triple_ids"]) != 0 {
		t.Errorf("triple_ids = %v, want empty array", resp["triple_ids"])
	}
}

func TestResolveEndpoint_NotFound(t *testing.T) {
	deps := newTestDeps(t)
	deps.Triples.(*mockTriples).resolveOK = false
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/triples/nope/resolve", "secret", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSetQualityEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/triples/t1/quality", "secret", map[string]int{"quality": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := deps.Triples.(*mockTriples).qualities["t1"]; got != 5 {
		t.Errorf("stored quality = %d, want 5", got)
	}
}

func TestSetQualityEndpoint_OutOfRange(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	for _, q := range []int{0, 6} {
		w := doRequest(t, h, http.MethodPost, "/v1/triples/t1/quality", "secret", map[string]int{"quality": q})
		if w.Code != http.StatusBadRequest {
			t.Errorf("quality %d: status = %d, want 400", q, w.Code)
		}
	}
}

func TestSetQualityEndpoint_NotFound(t *testing.T) {
	deps := newTestDeps(t)
	deps.Triples.(*mockTriples).qualityErr = storage.ErrNotFound
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/triples/nope/quality", "secret", map[string]int{"quality": 3})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAnalyzeAndApplySuggestion(t *testing.T) {
	deps := newTestDeps(t)
	deps.Triples.(*mockTriples).patterns = []storage.RecurringPattern{
		{
			Original:    "Take breaks",
			Frequency:   5,
			BestExample: storage.Triple{FinalEdit: "Step away from the screen every hour", Quality: 5},
			Annotations: []string{"too generic"},
		},
	}
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/suggestions/analyze", "secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status = %d, body %s", w.Code, w.Body.String())
	}

	suggestions := deps.Suggestions.List()
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}

	w = doRequest(t, h, http.MethodPost, "/v1/suggestions/"+suggestions[0].ID+"/apply", "secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("apply status = %d, body %s", w.Code, w.Body.String())
	}

	version := decodeJSON[promptcfg.Version](t, w)
	if version.Author != promptcfg.AuthorSuggestion {
		t.Errorf("author = %q, want suggestion", version.Author)
	}
	if len(deps.Suggestions.List()) != 0 {
		t.Error("applied suggestion not removed")
	}
	if versions := deps.Prompts.ListVersions(); len(versions) != 2 {
		t.Errorf("versions = %d, want seed plus applied", len(versions))
	}
}

func TestReportIssues(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/suggestions/issues", "secret", map[string]any{
		"issues": []map[string]any{
			{"pattern": "threads trail off", "frequency": 3, "remediations": []string{"end with a question"}},
			{"pattern": "seen once", "frequency": 1},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	suggestions := deps.Suggestions.List()
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1 (frequency floor)", len(suggestions))
	}
	if suggestions[0].Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for frequency 3", suggestions[0].Confidence)
	}
}

func TestApplySuggestion_Unknown(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/suggestions/nope/apply", "secret", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestVersionEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodGet, "/v1/versions", "secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	versions := decodeJSON[[]promptcfg.Version](t, w)
	if len(versions) != 1 || versions[0].Version != "v1.0" {
		t.Fatalf("versions = %+v", versions)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/versions/"+versions[0].ID, "secret", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/versions/missing", "secret", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/v1/versions/"+versions[0].ID+"/rollback", "secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body %s", w.Code, w.Body.String())
	}
	rolled := decodeJSON[promptcfg.Version](t, w)
	if rolled.Version != "v1.1" {
		t.Errorf("rollback version = %q, want v1.1", rolled.Version)
	}
}
