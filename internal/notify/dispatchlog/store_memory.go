package dispatchlog

import (
	"context"
	"fmt"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore keeps dispatch entries in memory for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) LastOfAction(_ context.Context, principalID string, action Action) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.PrincipalID == principalID && e.Action == action {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("dispatch entry %s/%s: %w", principalID, action, sentinel.ErrNotFound)
}

// All returns every entry; test helper.
func (s *InMemoryStore) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
