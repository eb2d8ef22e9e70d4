package store

import (
	"context"
	"fmt"
	"sync"

	"custodia/internal/checkin/models"
	"custodia/pkg/platform/sentinel"
)

// InMemoryStore keeps check-in history and current pointers in memory for
// tests/dev. Mutations hold the write lock so the pointer and history never
// diverge, mirroring the single-transaction guarantee of the Postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	history map[string][]models.Record // principalID -> records, oldest first
	current map[string]string          // principalID -> record id
}

// NewInMemory constructs an empty in-memory check-in store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		history: make(map[string][]models.Record),
		current: make(map[string]string),
	}
}

func (s *InMemoryStore) Append(_ context.Context, record models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[record.PrincipalID] = append(s.history[record.PrincipalID], record)
	s.current[record.PrincipalID] = record.ID
	return nil
}

func (s *InMemoryStore) Current(_ context.Context, principalID string) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.current[principalID]
	if !ok {
		return models.Record{}, fmt.Errorf("current check-in for %s: %w", principalID, sentinel.ErrNotFound)
	}
	for _, r := range s.history[principalID] {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Record{}, fmt.Errorf("current check-in record %s: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryStore) History(_ context.Context, principalID string, limit int) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.history[principalID]
	out := make([]models.Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkVerificationTriggered(_ context.Context, principalID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[principalID]
	if !ok {
		return fmt.Errorf("current check-in for %s: %w", principalID, sentinel.ErrNotFound)
	}
	if id != recordID {
		return fmt.Errorf("check-in record superseded: %w", sentinel.ErrInvalidState)
	}
	records := s.history[principalID]
	for i := range records {
		if records[i].ID == recordID {
			if records[i].Status != models.StatusAlive {
				return fmt.Errorf("check-in record not alive: %w", sentinel.ErrInvalidState)
			}
			records[i].Status = models.StatusVerificationTriggered
			return nil
		}
	}
	return fmt.Errorf("check-in record %s: %w", recordID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) Reset(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, principalID)
	return nil
}
