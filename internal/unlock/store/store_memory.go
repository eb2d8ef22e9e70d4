package store

import (
	"context"
	"fmt"
	"sync"

	"custodia/internal/unlock/models"
	"custodia/pkg/platform/sentinel"
)

// InMemoryReleaseStore is a map-backed ReleaseStore for tests.
type InMemoryReleaseStore struct {
	mu       sync.Mutex
	releases map[string]models.Release
}

func NewInMemoryReleaseStore() *InMemoryReleaseStore {
	return &InMemoryReleaseStore{releases: make(map[string]models.Release)}
}

func (s *InMemoryReleaseStore) Create(_ context.Context, release models.Release) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.releases[release.RequestID]; ok {
		return false, nil
	}
	s.releases[release.RequestID] = release
	return true, nil
}

func (s *InMemoryReleaseStore) Get(_ context.Context, requestID string) (models.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, ok := s.releases[requestID]
	if !ok {
		return models.Release{}, fmt.Errorf("release for request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return release, nil
}
