package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"custodia/internal/verification/models"
	"custodia/pkg/platform/sentinel"
)

// InMemoryCredentialStore keeps unlock credentials in memory for tests/dev.
type InMemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential
}

func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{credentials: make(map[string]*models.Credential)}
}

func (s *InMemoryCredentialStore) CreateBatch(_ context.Context, credentials []models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range credentials {
		cp := c
		s.credentials[c.ID] = &cp
	}
	return nil
}

func (s *InMemoryCredentialStore) ListByRequest(_ context.Context, requestID string) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Credential
	for _, c := range s.credentials {
		if c.RequestID == requestID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryCredentialStore) GetByParty(_ context.Context, requestID, partyID string) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials {
		if c.RequestID == requestID && c.PartyID == partyID {
			return *c, nil
		}
	}
	return models.Credential{}, fmt.Errorf("credential for party %s: %w", partyID, sentinel.ErrNotFound)
}

// MarkUsedBatch consumes all listed credentials or none of them.
func (s *InMemoryCredentialStore) MarkUsedBatch(_ context.Context, requestID string, ids []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make([]*models.Credential, 0, len(ids))
	for _, id := range ids {
		c, ok := s.credentials[id]
		if !ok || c.RequestID != requestID {
			return fmt.Errorf("credential %s: %w", id, sentinel.ErrNotFound)
		}
		if c.Used {
			return fmt.Errorf("credential %s: %w", id, sentinel.ErrAlreadyUsed)
		}
		targets = append(targets, c)
	}
	for _, c := range targets {
		c.Used = true
		usedAt := now
		c.UsedAt = &usedAt
	}
	return nil
}

func (s *InMemoryCredentialStore) InvalidateByRequest(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.credentials {
		if c.RequestID == requestID {
			delete(s.credentials, id)
		}
	}
	return nil
}
