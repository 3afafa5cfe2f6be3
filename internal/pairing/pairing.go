// Package pairing matches inline edit events to free-text annotation events
// by timestamp proximity. It is pure: no I/O, no clocks, deterministic for
// any pair of input lists.
package pairing

import (
	"sort"
	"time"
)

// Edit is a single inline modification of a generated tweet.
type Edit struct {
	ID           string
	OriginalText string
	EditedText   string
	Timestamp    time.Time
}

// Annotation is a piece of free-text editor feedback attached to content,
// independent of whether an edit occurred.
type Annotation struct {
	ID        string
	Text      string
	Type      string // "improvement", "clarification", "style", ...
	Timestamp time.Time
}

// Pair is an edit matched to an annotation within the pairing window.
type Pair struct {
	Edit       Edit
	Annotation Annotation
	TimeDiff   time.Duration
}

const (
	// DefaultWindow is the maximum edit/annotation timestamp distance
	// for the two events to be considered related.
	DefaultWindow = 30 * time.Second

	// DefaultMaxPairs bounds a single batch pairing run.
	DefaultMaxPairs = 20
)

// Options control a FindPairs run. Zero values fall back to the defaults.
type Options struct {
	Window   time.Duration
	MaxPairs int
}

// FindPairs matches edits to annotations with a greedy nearest-neighbor pass:
// both lists are sorted by timestamp ascending, then each edit in time order
// claims the unused annotation with the smallest absolute time difference
// within the window. Ties go to the earliest annotation. Each edit and each
// annotation appears in at most one pair. The result is deterministic and
// never an error; unmatched edits are silently skipped.
//
// This is intentionally not an optimal bipartite matching. Downstream
// consumers tolerate the occasional mismatch, and the greedy semantics are
// what the rest of the pipeline is tuned against.
func FindPairs(edits []Edit, annotations []Annotation, opts Options) []Pair {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	maxPairs := opts.MaxPairs
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}

	if len(edits) == 0 || len(annotations) == 0 {
		return nil
	}

	sortedEdits := make([]Edit, len(edits))
	copy(sortedEdits, edits)
	sort.SliceStable(sortedEdits, func(i, j int) bool {
		return sortedEdits[i].Timestamp.Before(sortedEdits[j].Timestamp)
	})

	sortedAnns := make([]Annotation, len(annotations))
	copy(sortedAnns, annotations)
	sort.SliceStable(sortedAnns, func(i, j int) bool {
		return sortedAnns[i].Timestamp.Before(sortedAnns[j].Timestamp)
	})

	used := make([]bool, len(sortedAnns))
	var pairs []Pair

	for _, e := range sortedEdits {
		if len(pairs) >= maxPairs {
			break
		}

		best := -1
		var bestDiff time.Duration
		for i, a := range sortedAnns {
			if used[i] {
				continue
			}
			diff := absDuration(a.Timestamp.Sub(e.Timestamp))
			if diff > window {
				continue
			}
			if best == -1 || diff < bestDiff {
				best = i
				bestDiff = diff
			}
		}

		if best == -1 {
			continue
		}

		used[best] = true
		pairs = append(pairs, Pair{
			Edit:       e,
			Annotation: sortedAnns[best],
			TimeDiff:   bestDiff,
		})
	}

	return pairs
}

// FindRecentEdit returns the edit whose timestamp is closest to the
// annotation's, restricted to the window, or nil if none qualifies. Unlike
// FindPairs it does not consume edits: it is a best-effort single lookup for
// annotations arriving one at a time in the live editor, so the same edit may
// be returned for multiple annotations across separate calls.
func FindRecentEdit(annotation Annotation, edits []Edit, window time.Duration) *Edit {
	if window <= 0 {
		window = DefaultWindow
	}

	best := -1
	var bestDiff time.Duration
	for i, e := range edits {
		diff := absDuration(annotation.Timestamp.Sub(e.Timestamp))
		if diff > window {
			continue
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}

	if best == -1 {
		return nil
	}
	e := edits[best]
	return &e
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
