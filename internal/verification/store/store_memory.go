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

// InMemoryRequestStore keeps verification requests in memory for tests/dev.
// Every transition runs under one lock, giving the same atomicity the
// Postgres store gets from conditional UPDATEs.
type InMemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{requests: make(map[string]*models.Request)}
}

func (s *InMemoryRequestStore) CreatePending(_ context.Context, request models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.PrincipalID == request.PrincipalID && r.Status == models.StatusPending {
			return fmt.Errorf("pending verification request exists for %s: %w", request.PrincipalID, sentinel.ErrConflict)
		}
	}
	cp := request
	s.requests[request.ID] = &cp
	return nil
}

func (s *InMemoryRequestStore) Get(_ context.Context, id string) (models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return models.Request{}, fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
	}
	return *r, nil
}

func (s *InMemoryRequestStore) GetPending(_ context.Context, principalID string) (models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.PrincipalID == principalID && r.Status == models.StatusPending {
			return *r, nil
		}
	}
	return models.Request{}, fmt.Errorf("pending verification request for %s: %w", principalID, sentinel.ErrNotFound)
}

func (s *InMemoryRequestStore) LatestDeceased(_ context.Context, principalID string) (models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var candidates []models.Request
	for _, r := range s.requests {
		if r.PrincipalID == principalID && r.Deceased() {
			candidates = append(candidates, *r)
		}
	}
	if len(candidates) == 0 {
		return models.Request{}, fmt.Errorf("deceased verification request for %s: %w", principalID, sentinel.ErrNotFound)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].InitiatedAt.After(candidates[j].InitiatedAt)
	})
	return candidates[0], nil
}

func (s *InMemoryRequestStore) Resolve(_ context.Context, id string, result models.Result, resolvedBy string, now time.Time) (models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return models.Request{}, fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
	}
	if r.Status != models.StatusPending {
		return models.Request{}, fmt.Errorf("verification request already %s: %w", r.Status, sentinel.ErrInvalidState)
	}
	if r.IsExpired(now) {
		return models.Request{}, fmt.Errorf("verification request expired: %w", sentinel.ErrExpired)
	}
	r.Status = models.StatusCompleted
	r.Result = result
	r.ResolvedAt = &now
	r.ResolvedBy = resolvedBy
	return *r, nil
}

func (s *InMemoryRequestStore) CancelPending(_ context.Context, principalID string, now time.Time) (models.Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.PrincipalID == principalID && r.Status == models.StatusPending {
			r.Status = models.StatusCompleted
			r.Result = models.ResultConfirmedAlive
			r.ResolvedAt = &now
			r.ResolvedBy = "principal"
			return *r, true, nil
		}
	}
	return models.Request{}, false, nil
}

func (s *InMemoryRequestStore) MarkExpired(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
	}
	if r.Status != models.StatusPending || !r.IsExpired(now) {
		return fmt.Errorf("verification request not expirable: %w", sentinel.ErrInvalidState)
	}
	r.Status = models.StatusExpired
	return nil
}

func (s *InMemoryRequestStore) ListPendingExpired(_ context.Context, now time.Time) ([]models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Request
	for _, r := range s.requests {
		if r.Status == models.StatusPending && r.IsExpired(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryRequestStore) MarkPinsIssued(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
	}
	if !r.Deceased() {
		return fmt.Errorf("pins require confirmed deceased: %w", sentinel.ErrInvalidState)
	}
	if r.PinsIssuedAt != nil {
		return fmt.Errorf("pins already issued: %w", sentinel.ErrInvalidState)
	}
	r.PinsIssuedAt = &now
	return nil
}

func (s *InMemoryRequestStore) ListFailsafeDue(_ context.Context, cutoff time.Time) ([]models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Request
	for _, r := range s.requests {
		if r.Deceased() && r.UnlockStatus == models.UnlockLocked &&
			!r.FailsafeSent && r.PinsIssuedAt != nil && !r.PinsIssuedAt.After(cutoff) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryRequestStore) MarkFailsafeSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
	}
	if r.FailsafeSent {
		return fmt.Errorf("failsafe already sent: %w", sentinel.ErrInvalidState)
	}
	r.FailsafeSent = true
	return nil
}

func (s *InMemoryRequestStore) MarkUnlocked(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
	}
	if r.UnlockStatus != models.UnlockLocked {
		return fmt.Errorf("verification request already unlocked: %w", sentinel.ErrInvalidState)
	}
	r.UnlockStatus = models.UnlockUnlocked
	r.UnlockedAt = &now
	return nil
}
