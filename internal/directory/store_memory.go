package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return nil for successful operations

// InMemoryDirectory serves principals and parties from memory for tests/dev.
// It implements both PrincipalDirectory and PartyDirectory.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	principals map[string]Principal
	parties    map[string]Party
}

// NewInMemory constructs an empty in-memory directory.
func NewInMemory() *InMemoryDirectory {
	return &InMemoryDirectory{
		principals: make(map[string]Principal),
		parties:    make(map[string]Party),
	}
}

// PutPrincipal seeds or replaces a principal record.
func (d *InMemoryDirectory) PutPrincipal(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

// PutParty seeds or replaces a party record.
func (d *InMemoryDirectory) PutParty(p Party) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parties[p.ID] = p
}

func (d *InMemoryDirectory) Get(_ context.Context, id string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.principals[id]; ok {
		return p, nil
	}
	return Principal{}, fmt.Errorf("principal %s: %w", id, sentinel.ErrNotFound)
}

func (d *InMemoryDirectory) ListCheckInEnabled(_ context.Context) ([]Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Principal, 0, len(d.principals))
	for _, p := range d.principals {
		if p.CheckInEnabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *InMemoryDirectory) ListByPrincipal(_ context.Context, principalID string) ([]Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Party
	for _, p := range d.parties {
		if p.PrincipalID == principalID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetParty looks up a single party by id.
func (d *InMemoryDirectory) GetParty(ctx context.Context, id string) (Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.parties[id]; ok {
		return p, nil
	}
	return Party{}, fmt.Errorf("party %s: %w", id, sentinel.ErrNotFound)
}
