// README: Presence store contract plus the in-memory implementation used for tests and local runs.
package location

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ridedispatch/internal/types"
)

var ErrNotFound = errors.New("presence not found")

// Store persists one presence record per driver. Eviction of expired records
// is up to the backend; readers must still check Eligible.
type Store interface {
	Upsert(ctx context.Context, p Presence) error
	Get(ctx context.Context, id types.ID) (*Presence, error)
	// Recent returns at most limit records, most recently updated first.
	Recent(ctx context.Context, limit int) ([]Presence, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	presences map[types.ID]Presence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{presences: make(map[types.ID]Presence)}
}

func (s *MemoryStore) Upsert(_ context.Context, p Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presences[p.DriverID] = clonePresence(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presences[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clonePresence(p)
	return &cp, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Presence, error) {
	s.mu.RLock()
	out := make([]Presence, 0, len(s.presences))
	for _, p := range s.presences {
		out = append(out, clonePresence(p))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].DriverID < out[j].DriverID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePresence(p Presence) Presence {
	if p.Coords != nil {
		c := *p.Coords
		p.Coords = &c
	}
	if p.ExpiresAt != nil {
		e := *p.ExpiresAt
		p.ExpiresAt = &e
	}
	return p
}
