package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Triple is the durable learning unit: an original tweet, the editor's
// annotation explaining the problem, and the final edited text. The embedding
// is computed once at insert time from the concatenation of the three text
// fields and never recomputed.
type Triple struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Original    string    `json:"original"`
	Annotation  string    `json:"annotation"`
	FinalEdit   string    `json:"final_edit"`
	ScriptTitle string    `json:"script_title,omitempty"`
	Position    int       `json:"position,omitempty"`
	Embedding   []float32 `json:"-"`
	Quality     int       `json:"quality"` // 1..5, defaults to 3
	Resolved    bool      `json:"resolved"`
}

// RecurringPattern is a group of triples sharing identical original text,
// used to detect systemic, repeatable edits.
type RecurringPattern struct {
	Original    string   `json:"original"`
	Frequency   int      `json:"frequency"`
	BestExample Triple   `json:"best_example"` // highest quality rating, recency as tie-break
	Annotations []string `json:"annotations"`
}
