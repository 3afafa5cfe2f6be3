package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nverev/threadsmith/internal/storage"
)

// TripleIndex provides vector storage and brute-force cosine similarity
// search over the triples table. Embeddings are stored as little-endian
// float32 blobs alongside the triple row itself, so the index shares the
// database connection with the scalar queries in the storage package.
type TripleIndex struct {
	db *sql.DB
}

// NewTripleIndex wraps an existing *sql.DB for vector operations.
// The triples table must already exist (created via migrations).
func NewTripleIndex(db *sql.DB) *TripleIndex {
	return &TripleIndex{db: db}
}

// ScoredTriple is a Triple with a similarity score attached.
type ScoredTriple struct {
	storage.Triple
	Score float32 `json:"score"`
}

// Insert persists a triple together with its embedding vector.
func (ix *TripleIndex) Insert(t storage.Triple) error {
	blob := encodeFloat32s(t.Embedding)
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ix.db.Exec(`
		INSERT INTO triples (id, created_at, original_tweet, annotation, final_edit, script_title, position_in_thread, embedding, quality_rating, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, createdAt.Format(time.RFC3339), t.Original, t.Annotation, t.FinalEdit,
		t.ScriptTitle, t.Position, blob, t.Quality, boolToInt(t.Resolved),
	)
	if err != nil {
		return fmt.Errorf("inserting triple %s: %w", t.ID, err)
	}
	return nil
}

// idScore holds only the ID and score during the scan phase of Search.
// Full triple details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over all stored
// embeddings, returning the top-K most similar triples. When minQuality > 0
// the scan is restricted to triples with at least that quality rating.
func (ix *TripleIndex) Search(vector []float32, topK int, minQuality int) ([]ScoredTriple, error) {
	query := `SELECT id, embedding FROM triples`
	var args []any
	if minQuality > 0 {
		query += ` WHERE quality_rating >= ?`
		args = append(args, minQuality)
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full triples only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, created_at, original_tweet, annotation, final_edit, script_title, position_in_thread, quality_rating, resolved
		FROM triples WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := ix.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K triples: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredTriple
	for fullRows.Next() {
		var t storage.Triple
		var createdAt string
		var resolved int
		if err := fullRows.Scan(&t.ID, &createdAt, &t.Original, &t.Annotation, &t.FinalEdit,
			&t.ScriptTitle, &t.Position, &t.Quality, &resolved); err != nil {
			return nil, fmt.Errorf("scanning full triple: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = parsed
		t.Resolved = resolved != 0
		results = append(results, ScoredTriple{Triple: t, Score: scores[t.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full triples: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// sortByScore sorts ScoredTriples by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredTriple) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
