package payload

import (
	"context"
	"fmt"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore is a test payload store. Seed sealed payloads with Seal.
type InMemoryStore struct {
	mu       sync.Mutex
	sealed   map[string]string // principal id -> payload
	released map[string]string // request id -> ref
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sealed:   make(map[string]string),
		released: make(map[string]string),
	}
}

// Seal stores a sealed payload for a principal.
func (s *InMemoryStore) Seal(principalID, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[principalID] = payload
}

func (s *InMemoryStore) Release(_ context.Context, principalID, requestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sealed[principalID]; !ok {
		return "", fmt.Errorf("sealed payload for %s: %w", principalID, sentinel.ErrNotFound)
	}
	ref := fmt.Sprintf("memory://released/%s", requestID)
	s.released[requestID] = ref
	return ref, nil
}

// Released reports whether a release happened for the request.
func (s *InMemoryStore) Released(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.released[requestID]
	return ok
}
