// README: Order store contract and the single-writer in-memory implementation.
package order

import (
	"context"
	"sort"
	"sync"

	"ridedispatch/internal/types"
)

// MutateFunc inspects the current order and returns the fields to change.
// Returning an error aborts the update without writing anything.
type MutateFunc func(o *Order) (Patch, error)

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// Mutate is an atomic read-modify-write: no other Mutate on the same order
	// can interleave between fn's read and the patch being written.
	Mutate(ctx context.Context, id types.ID, fn MutateFunc) (*Order, error)
	// SetCandidates writes only the candidate fields and updatedAt.
	SetCandidates(ctx context.Context, id types.ID, set CandidateSet) error
	ListSearching(ctx context.Context, vt types.VehicleType, services []ServiceKind, limit int) ([]*Order, error)
}

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrBadRequest
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) Mutate(_ context.Context, id types.ID, fn MutateFunc) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch, err := fn(cloneOrder(o))
	if err != nil {
		return nil, err
	}
	patch.Apply(o)
	return cloneOrder(o), nil
}

func (s *MemoryStore) SetCandidates(_ context.Context, id types.ID, set CandidateSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	at := set.At
	o.CandidateUIDs = append([]types.ID{}, set.UIDs...)
	o.Candidates = append([]Candidate{}, set.Candidates...)
	o.CandidatesUpdatedAt = &at
	o.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListSearching(_ context.Context, vt types.VehicleType, services []ServiceKind, limit int) ([]*Order, error) {
	s.mu.Lock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status != StatusSearching || !containsService(services, o.Service) {
			continue
		}
		if o.VehicleType != vt && o.VehicleType != types.VehicleAny {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsService(services []ServiceKind, k ServiceKind) bool {
	for _, s := range services {
		if s == k {
			return true
		}
	}
	return false
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Pickup = clonePlace(o.Pickup)
	cp.Merchant = clonePlace(o.Merchant)
	cp.Customer.Coords = clonePoint(o.Customer.Coords)
	if o.Driver != nil {
		d := *o.Driver
		d.Coords = clonePoint(o.Driver.Coords)
		cp.Driver = &d
	}
	if o.CandidateUIDs != nil {
		cp.CandidateUIDs = append([]types.ID{}, o.CandidateUIDs...)
	}
	if o.Candidates != nil {
		cp.Candidates = append([]Candidate{}, o.Candidates...)
	}
	return &cp
}

func clonePlace(p *Place) *Place {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Coords = clonePoint(p.Coords)
	return &cp
}

func clonePoint(p *types.Point) *types.Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
