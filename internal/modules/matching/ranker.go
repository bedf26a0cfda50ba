package matching

import (
	"sort"
	"time"

	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/types"
)

// Rank orders eligible drivers by distance from pickup.
//
// Drivers inside maxRadiusMeters are preferred. When none are, every eligible
// driver is ranked regardless of distance so sparse areas still get offers;
// there is no outer bound on that fallback. Ties on distance
// break by driver id. A nil pickup or an empty eligible set yields an empty
// ranking. maxResults <= 0 means no truncation.
func Rank(pickup *types.Point, required types.VehicleType, presences []location.Presence, maxRadiusMeters float64, maxResults int, now time.Time) Ranking {
	if pickup == nil {
		return Ranking{Candidates: []order.Candidate{}}
	}

	var all, within []order.Candidate
	for _, p := range presences {
		if !p.Eligible(now) {
			continue
		}
		if required.Concrete() && p.VehicleType != required {
			continue
		}
		c := order.Candidate{
			UID:            p.DriverID,
			Name:           p.Name,
			VehicleType:    p.VehicleType,
			DistanceMeters: location.DistanceMeters(*pickup, *p.Coords),
			DeviceToken:    p.DeviceToken,
		}
		all = append(all, c)
		if c.DistanceMeters <= maxRadiusMeters {
			within = append(within, c)
		}
	}

	chosen := within
	if len(chosen) == 0 {
		chosen = all
	}
	sort.SliceStable(chosen, func(i, j int) bool {
		if chosen[i].DistanceMeters != chosen[j].DistanceMeters {
			return chosen[i].DistanceMeters < chosen[j].DistanceMeters
		}
		return chosen[i].UID < chosen[j].UID
	})
	if maxResults > 0 && len(chosen) > maxResults {
		chosen = chosen[:maxResults]
	}
	if chosen == nil {
		chosen = []order.Candidate{}
	}
	return Ranking{Candidates: chosen, Eligible: len(all), Within: len(within)}
}
