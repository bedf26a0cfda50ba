// README: Location service handles driver presence updates and eligibility queries.
package location

import (
	"context"
	"errors"
	"time"

	"ridedispatch/internal/types"
)

var ErrInvalidUpdate = errors.New("invalid presence update")

// DefaultTTL is how long a presence stays matchable without a fresh ping.
const DefaultTTL = 10 * time.Minute

type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; tests use it to pin expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Upsert records a driver's latest position and availability.
func (s *Service) Upsert(ctx context.Context, u PresenceUpdate) (Presence, error) {
	if u.DriverID == "" {
		return Presence{}, ErrInvalidUpdate
	}
	if u.Coords != nil && !u.Coords.Valid() {
		return Presence{}, ErrInvalidUpdate
	}
	vt := u.VehicleType
	if vt != "" && !vt.Concrete() {
		return Presence{}, ErrInvalidUpdate
	}

	now := s.now()
	expires := now.Add(s.ttl)
	p := Presence{
		DriverID:    u.DriverID,
		Name:        u.Name,
		Online:      u.Online,
		Coords:      u.Coords,
		VehicleType: vt,
		DeviceToken: u.DeviceToken,
		UpdatedAt:   now,
		ExpiresAt:   &expires,
	}
	if !p.Online {
		p.Coords = nil
	}
	// Stores replace the whole record; profile fields the update omits carry over.
	if p.VehicleType == "" || p.Name == "" || p.DeviceToken == "" {
		if prev, err := s.store.Get(ctx, u.DriverID); err == nil {
			if p.VehicleType == "" {
				p.VehicleType = prev.VehicleType
			}
			if p.Name == "" {
				p.Name = prev.Name
			}
			if p.DeviceToken == "" {
				p.DeviceToken = prev.DeviceToken
			}
		}
	}
	if p.VehicleType == "" {
		p.VehicleType = types.VehicleBike
	}
	if err := s.store.Upsert(ctx, p); err != nil {
		return Presence{}, err
	}
	return p, nil
}

// GoOffline marks the driver unavailable and clears the last position.
func (s *Service) GoOffline(ctx context.Context, id types.ID) error {
	_, err := s.Upsert(ctx, PresenceUpdate{DriverID: id, Online: false})
	return err
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Presence, error) {
	return s.store.Get(ctx, id)
}

// Recent returns the bounded working set used for matching, newest first.
// Records are returned as stored; eligibility is the caller's decision.
func (s *Service) Recent(ctx context.Context, limit int) ([]Presence, error) {
	return s.store.Recent(ctx, limit)
}

// Online lists eligible drivers among the limit most recent records.
func (s *Service) Online(ctx context.Context, limit int) ([]Presence, error) {
	recent, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Presence, 0, len(recent))
	for _, p := range recent {
		if p.Eligible(now) {
			out = append(out, p)
		}
	}
	return out, nil
}
