// Package location tracks driver presence; geo_utils holds the distance helper.
package location

import (
	"math"

	"ridedispatch/internal/types"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle (Haversine) distance in metres
// between a and b.
func DistanceMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair above 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
