// README: Driver presence record: last known position, availability and TTL.
package location

import (
	"time"

	"ridedispatch/internal/types"
)

type Presence struct {
	DriverID    types.ID
	Name        string
	Online      bool
	Coords      *types.Point
	VehicleType types.VehicleType
	DeviceToken string
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
}

// Eligible reports whether the record may take part in matching at now.
func (p Presence) Eligible(now time.Time) bool {
	if !p.Online || p.Coords == nil {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

type PresenceUpdate struct {
	DriverID    types.ID
	Name        string
	Online      bool
	Coords      *types.Point
	VehicleType types.VehicleType
	DeviceToken string
}
