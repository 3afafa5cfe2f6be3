package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nverev/threadsmith/internal/backend"
	"github.com/nverev/threadsmith/internal/storage"
)

// fakeBackend returns canned embeddings by text, or a default vector.
// Set down to simulate an unreachable model server.
type fakeBackend struct {
	vectors map[string][]float32
	def     []float32
	down    bool
	calls   int
}

func (f *fakeBackend) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	if f.down {
		return nil, fmt.Errorf("connection refused")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.def, nil
}

func (f *fakeBackend) Chat(ctx context.Context, model string, messages []backend.Message, schema *backend.Schema) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeBackend) IsRunning(ctx context.Context) bool             { return !f.down }
func (f *fakeBackend) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeBackend) HasModel(ctx context.Context, name string) bool { return true }

func newTestStore(t *testing.T, fb *fakeBackend) (*TripleStore, *storage.Store) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ts := NewTripleStore(st, NewTripleIndex(st.DB()), NewEmbedder(fb, "test-embed"))
	return ts, st
}

func testTriple(original, annotation, final string, quality int) storage.Triple {
	return storage.Triple{
		Original:   original,
		Annotation: annotation,
		FinalEdit:  final,
		Quality:    quality,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCapture(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0, 0, 0}}
	ts, st := newTestStore(t, fb)

	id := ts.Capture(context.Background(), testTriple("Use version control", "make actionable", "Use version control: commit often", 4))
	if id == SentinelID {
		t.Fatal("Capture returned sentinel id for a valid triple")
	}

	got, err := st.GetTriple(id)
	if err != nil {
		t.Fatalf("GetTriple: %v", err)
	}
	if got.Quality != 4 {
		t.Errorf("Quality = %d, want 4", got.Quality)
	}
	if got.Resolved {
		t.Error("Resolved = true, want false")
	}
}

func TestCapture_DefaultsQuality(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0, 0, 0}}
	ts, st := newTestStore(t, fb)

	id := ts.Capture(context.Background(), testTriple("a", "b", "c", 0))
	got, err := st.GetTriple(id)
	if err != nil {
		t.Fatalf("GetTriple: %v", err)
	}
	if got.Quality != 3 {
		t.Errorf("default Quality = %d, want 3", got.Quality)
	}
}

func TestCapture_BackendDown(t *testing.T) {
	fb := &fakeBackend{down: true}
	ts, st := newTestStore(t, fb)

	id := ts.Capture(context.Background(), testTriple("a", "b", "c", 3))
	if id != SentinelID {
		t.Errorf("Capture = %q, want sentinel %q", id, SentinelID)
	}

	count, err := st.CountTriples()
	if err != nil {
		t.Fatalf("CountTriples: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 (nothing persisted on failure)", count)
	}
}

func TestCapture_RejectsInvalid(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0}}
	ts, st := newTestStore(t, fb)

	cases := []storage.Triple{
		testTriple("", "b", "c", 3),
		testTriple("a", "  ", "c", 3),
		testTriple("a", "b", "", 3),
		testTriple("a", "b", "c", 6),
	}
	for _, tc := range cases {
		if id := ts.Capture(context.Background(), tc); id != SentinelID {
			t.Errorf("Capture(%+v) = %q, want sentinel", tc, id)
		}
	}

	count, _ := st.CountTriples()
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if fb.calls != 0 {
		t.Errorf("embedder called %d times for invalid triples, want 0", fb.calls)
	}
}

func TestCaptureBatch(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0, 0}}
	ts, st := newTestStore(t, fb)

	ids := ts.CaptureBatch(context.Background(), []storage.Triple{
		testTriple("first", "note", "first edited", 4),
		testTriple("", "invalid", "x", 3),
		testTriple("second", "note", "second edited", 5),
	})
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	if ids[1] != SentinelID {
		t.Errorf("ids[1] = %q, want sentinel for the invalid triple", ids[1])
	}
	for _, i := range []int{0, 2} {
		if ids[i] == SentinelID {
			t.Errorf("ids[%d] is sentinel, want recorded id", i)
			continue
		}
		if _, err := st.GetTriple(ids[i]); err != nil {
			t.Errorf("GetTriple(ids[%d]): %v", i, err)
		}
	}

	count, _ := st.CountTriples()
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestCaptureBatch_BackendDown(t *testing.T) {
	fb := &fakeBackend{down: true}
	ts, st := newTestStore(t, fb)

	ids := ts.CaptureBatch(context.Background(), []storage.Triple{
		testTriple("a", "b", "c", 3),
		testTriple("d", "e", "f", 3),
	})
	for i, id := range ids {
		if id != SentinelID {
			t.Errorf("ids[%d] = %q, want sentinel", i, id)
		}
	}

	count, _ := st.CountTriples()
	if count != 0 {
		t.Errorf("count = %d, want 0 (nothing persisted on failure)", count)
	}
}

func TestFindSimilar_BackendDown(t *testing.T) {
	fb := &fakeBackend{down: true}
	ts, _ := newTestStore(t, fb)

	got := ts.FindSimilar(context.Background(), "anything", SearchOptions{Limit: 5})
	if len(got) != 0 {
		t.Errorf("got %d results, want 0 (graceful degrade)", len(got))
	}
}

func TestFindSimilar_ThresholdAndQuality(t *testing.T) {
	fb := &fakeBackend{
		def: []float32{1, 0, 0},
		vectors: map[string][]float32{
			"query":       {1, 0, 0},
			"near near near": {0.9, 0.1, 0},
			"far far far":    {0, 1, 0},
		},
	}
	ts, _ := newTestStore(t, fb)

	// "near" embeds close to the query, "far" orthogonal.
	nearID := ts.Capture(context.Background(), testTriple("near", "near", "near", 5))
	ts.Capture(context.Background(), testTriple("far", "far", "far", 5))
	ts.Capture(context.Background(), testTriple("neartoo", "neartoo", "neartoo", 2))

	got := ts.FindSimilar(context.Background(), "query", SearchOptions{Threshold: 0.7, Limit: 10, MinQuality: 4})
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].ID != nearID {
		t.Errorf("got %s, want %s", got[0].ID, nearID)
	}
	if got[0].Score < 0.7 {
		t.Errorf("score %f below threshold", got[0].Score)
	}
}

func TestFindSimilar_HardCap(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0}}
	ts, _ := newTestStore(t, fb)

	for i := 0; i < 60; i++ {
		ts.Capture(context.Background(), testTriple(fmt.Sprintf("o%d", i), "note", "final", 3))
	}

	got := ts.FindSimilar(context.Background(), "query", SearchOptions{Limit: 1000})
	if len(got) > 50 {
		t.Errorf("got %d results, want <= 50", len(got))
	}
}

func TestContextualExamples_QualityHeadroom(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0}}
	ts, _ := newTestStore(t, fb)

	// 8 identical-embedding triples, only 3 at quality >= 4.
	for i := 0; i < 5; i++ {
		ts.Capture(context.Background(), testTriple(fmt.Sprintf("low%d", i), "n", "f", 3))
	}
	for i := 0; i < 3; i++ {
		ts.Capture(context.Background(), testTriple(fmt.Sprintf("high%d", i), "n", "f", 5))
	}

	got := ts.ContextualExamples(context.Background(), "query", 5)
	if len(got) != 3 {
		t.Fatalf("got %d examples, want 3", len(got))
	}
	for _, tr := range got {
		if tr.Quality < 4 {
			t.Errorf("example %s has quality %d, want >= 4", tr.ID, tr.Quality)
		}
	}
}

func TestContextualExamples_BackendDown(t *testing.T) {
	fb := &fakeBackend{down: true}
	ts, _ := newTestStore(t, fb)

	if got := ts.ContextualExamples(context.Background(), "query", 5); len(got) != 0 {
		t.Errorf("got %d examples, want 0", len(got))
	}
}

func TestMarkResolved(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0}}
	ts, st := newTestStore(t, fb)

	id := ts.Capture(context.Background(), testTriple("a", "b", "c", 3))

	updated, err := ts.MarkResolved(id)
	if err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	if !updated {
		t.Error("updated = false, want true")
	}

	// Idempotent: second flip still reports the row exists.
	updated, err = ts.MarkResolved(id)
	if err != nil {
		t.Fatalf("MarkResolved (second): %v", err)
	}
	if !updated {
		t.Error("second MarkResolved = false, want true")
	}

	got, _ := st.GetTriple(id)
	if !got.Resolved {
		t.Error("Resolved = false after MarkResolved")
	}

	updated, err = ts.MarkResolved("no-such-id")
	if err != nil {
		t.Fatalf("MarkResolved(unknown): %v", err)
	}
	if updated {
		t.Error("MarkResolved(unknown) = true, want false")
	}
}

func TestRecurringPatterns(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0}}
	ts, _ := newTestStore(t, fb)

	// Five triples with identical original text and varying quality.
	for _, q := range []int{2, 4, 3, 5, 1} {
		id := ts.Capture(context.Background(), storage.Triple{
			Original:   "Take breaks",
			Annotation: fmt.Sprintf("note %d", q),
			FinalEdit:  "Take regular breaks",
			Quality:    q,
		})
		if id == SentinelID {
			t.Fatal("capture failed")
		}
	}
	ts.Capture(context.Background(), testTriple("unrelated", "n", "f", 3))

	patterns, err := ts.RecurringPatterns(10)
	if err != nil {
		t.Fatalf("RecurringPatterns: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(patterns))
	}
	top := patterns[0]
	if top.Original != "Take breaks" {
		t.Errorf("top pattern original = %q, want 'Take breaks'", top.Original)
	}
	if top.Frequency != 5 {
		t.Errorf("frequency = %d, want 5", top.Frequency)
	}
	if top.BestExample.Quality != 5 {
		t.Errorf("best example quality = %d, want 5", top.BestExample.Quality)
	}
	if len(top.Annotations) != 5 {
		t.Errorf("got %d distinct annotations, want 5", len(top.Annotations))
	}
}

func TestBestExamples(t *testing.T) {
	fb := &fakeBackend{def: []float32{1, 0}}
	ts, _ := newTestStore(t, fb)

	for _, q := range []int{1, 5, 3} {
		ts.Capture(context.Background(), testTriple(fmt.Sprintf("o%d", q), "n", "f", q))
	}

	got, err := ts.BestExamples(2)
	if err != nil {
		t.Fatalf("BestExamples: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got[0].Quality != 5 || got[1].Quality != 3 {
		t.Errorf("qualities = [%d %d], want [5 3]", got[0].Quality, got[1].Quality)
	}
}
