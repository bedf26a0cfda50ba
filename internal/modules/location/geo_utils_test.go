package location

import (
	"math"
	"testing"

	"ridedispatch/internal/types"
)

func TestDistanceMeters_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantM     float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: -1.25, Lng: 124.45},
			b:         types.Point{Lat: -1.25, Lng: 124.45},
			wantM:     0,
			tolerance: 0,
		},
		{
			name:      "one degree of longitude on the equator",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 0, Lng: 1},
			wantM:     2 * math.Pi * earthRadiusMeters / 360,
			tolerance: 1,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantM:     3944000,
			tolerance: 50000,
		},
		{
			name:      "antipodal points",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 0, Lng: 180},
			wantM:     math.Pi * earthRadiusMeters,
			tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			if math.Abs(got-tt.wantM) > tt.tolerance {
				t.Errorf("DistanceMeters() = %f, want %f (±%f)", got, tt.wantM, tt.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	if d1, d2 := DistanceMeters(a, b), DistanceMeters(b, a); math.Abs(d1-d2) > 1e-6 {
		t.Errorf("distance is not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceMeters_NearerDriverShorter(t *testing.T) {
	pickup := types.Point{Lat: -1.2500, Lng: 124.4500}
	a := DistanceMeters(pickup, types.Point{Lat: -1.2600, Lng: 124.4600})
	b := DistanceMeters(pickup, types.Point{Lat: -1.3000, Lng: 124.5000})
	if a >= b {
		t.Fatalf("expected A (%f m) nearer than B (%f m)", a, b)
	}
	if a < 1500 || a > 1600 {
		t.Errorf("A distance = %f m, want ~1572 m", a)
	}
}
