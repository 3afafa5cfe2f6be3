package miner

import (
	"sort"
	"sync"
)

// SuggestionStore holds pending suggestions awaiting operator review. It is
// an explicit object created at process start and passed to request handlers;
// its contents survive across requests and are cleared only by explicit
// administrative action.
type SuggestionStore struct {
	mu      sync.Mutex
	pending map[string]Suggestion
}

// NewSuggestionStore creates an empty store.
func NewSuggestionStore() *SuggestionStore {
	return &SuggestionStore{pending: make(map[string]Suggestion)}
}

// Add inserts suggestions, replacing any with the same id.
func (s *SuggestionStore) Add(suggestions ...Suggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sg := range suggestions {
		s.pending[sg.ID] = sg
	}
}

// Get returns a suggestion by id.
func (s *SuggestionStore) Get(id string) (Suggestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.pending[id]
	return sg, ok
}

// List returns all pending suggestions ordered by confidence descending,
// then id for a stable order.
func (s *SuggestionStore) List() []Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Suggestion, 0, len(s.pending))
	for _, sg := range s.pending {
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove deletes a suggestion, reporting whether it existed.
func (s *SuggestionStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	return ok
}

// Clear discards all pending suggestions.
func (s *SuggestionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]Suggestion)
}
