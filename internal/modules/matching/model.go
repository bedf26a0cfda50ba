// README: Dispatch commands, results and matching defaults.
package matching

import (
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

const (
	DefaultRadiusKm           = 15.0
	DefaultMaxCandidates      = 30
	DefaultPresenceFetchLimit = 500
)

// ReasonNoPickup marks a dispatch that could not rank because the order has no pickup point.
const ReasonNoPickup = "no_pickup_coords"

type DispatchCommand struct {
	OrderID  types.ID
	CallerID types.ID
	// Trusted callers (admin, internal services) may dispatch any order.
	Trusted bool
	// MaxKm <= 0 uses the configured default radius.
	MaxKm float64
}

type Debug struct {
	TotalFetched    int               `json:"totalFetched"`
	TotalEligible   int               `json:"totalEligible"`
	WithinKm        int               `json:"withinKm"`
	Pickup          *types.Point      `json:"pickup,omitempty"`
	VehicleRequired types.VehicleType `json:"vehicleRequired,omitempty"`
	Reason          string            `json:"reason,omitempty"`
}

type DispatchResult struct {
	Candidates []order.Candidate `json:"candidates"`
	MaxKm      float64           `json:"maxKm"`
	Debug      Debug             `json:"debug"`
}

// Ranking is the output of Rank. Eligible counts drivers passing the
// availability and vehicle filters; Within counts those inside the radius.
type Ranking struct {
	Candidates []order.Candidate
	Eligible   int
	Within     int
}
