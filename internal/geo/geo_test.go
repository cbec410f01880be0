package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	if d := HaversineKm(31.52, 74.35, 31.52, 74.35); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	points := []Point{
		{0, 0}, {31.52, 74.35}, {-33.86, 151.21}, {51.5, -0.12}, {89.9, 179.9}, {-89.9, -179.9},
	}
	for _, a := range points {
		for _, b := range points {
			ab := a.DistanceKm(b)
			ba := b.DistanceKm(a)
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("asymmetric distance %v->%v: %f vs %f", a, b, ab, ba)
			}
		}
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude is ~111.19 km on a 6371 km sphere.
	d := HaversineKm(0, 0, 1, 0)
	if math.Abs(d-111.19) > 0.01 {
		t.Fatalf("expected ~111.19 km, got %f", d)
	}
}

func TestHaversineShortHop(t *testing.T) {
	d := HaversineKm(31.52, 74.35, 31.521, 74.351)
	if d < 0.1 || d > 0.2 {
		t.Fatalf("expected 0.1-0.2 km, got %f", d)
	}
}
