// README: Shared identifiers and coordinates used across modules.
package types

import "fmt"

type ID string

// Point is a WGS84 coordinate. A missing location is a nil *Point, never (0,0).
type Point struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lng float64 `json:"lng" firestore:"lng"`
}

// Valid reports whether p lies within WGS84 ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", p.Lat, p.Lng)
}

// VehicleType is the class of vehicle a driver operates or an order requires.
type VehicleType string

const (
	VehicleBike VehicleType = "bike"
	VehicleCar2 VehicleType = "car2"
	VehicleCar3 VehicleType = "car3"
	// VehicleAny is only meaningful on orders.
	VehicleAny VehicleType = "any"
)

// Concrete reports whether v names a real vehicle class.
func (v VehicleType) Concrete() bool {
	switch v {
	case VehicleBike, VehicleCar2, VehicleCar3:
		return true
	}
	return false
}

// ParseVehicleType accepts the concrete classes and "any"; empty input yields VehicleAny.
func ParseVehicleType(s string) (VehicleType, bool) {
	v := VehicleType(s)
	if s == "" {
		return VehicleAny, true
	}
	if v == VehicleAny || v.Concrete() {
		return v, true
	}
	return "", false
}
