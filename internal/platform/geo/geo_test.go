package geo

import (
	"math"
	"testing"
)

func TestDistance_Zero(t *testing.T) {
	p := Point{Lat: 30.77, Lon: 76.57}
	if d := Distance(p, p); d != 0 {
		t.Fatalf("expected 0 for identical points, got %v", d)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := Point{Lat: 30.77, Lon: 76.57}
	b := Point{Lat: 28.61, Lon: 77.21}
	if Distance(a, b) != Distance(b, a) {
		t.Fatalf("distance not symmetric: %v vs %v", Distance(a, b), Distance(b, a))
	}
}

func TestDistance_KnownValue(t *testing.T) {
	// Chandigarh-area points roughly 1.5 km apart.
	a := Point{Lat: 30.77, Lon: 76.57}
	b := Point{Lat: 30.78, Lon: 76.58}
	d := Distance(a, b)
	if d < 1.0 || d > 2.0 {
		t.Fatalf("expected ~1.5 km, got %v", d)
	}
	// Rounded to 2 decimals.
	if d != math.Round(d*100)/100 {
		t.Fatalf("distance not rounded to 2 decimals: %v", d)
	}
}

func TestCellKey_NearbyPointsShareCell(t *testing.T) {
	a := Point{Lat: 30.77, Lon: 76.57}
	b := Point{Lat: 30.78, Lon: 76.58}
	if CellKey(a) != CellKey(b) {
		t.Fatalf("expected same cell for %v and %v: %s vs %s", a, b, CellKey(a), CellKey(b))
	}
}

func TestCellKey_DistantPointsDiffer(t *testing.T) {
	a := Point{Lat: 30.77, Lon: 76.57}
	b := Point{Lat: 28.61, Lon: 77.21}
	if CellKey(a) == CellKey(b) {
		t.Fatalf("expected different cells, both %s", CellKey(a))
	}
}

func TestCellKey_NegativeCoordinates(t *testing.T) {
	got := CellKey(Point{Lat: -0.01, Lon: -0.01})
	if got != "cell:-1:-1" {
		t.Fatalf("expected cell:-1:-1, got %s", got)
	}
}

func TestPoint_Valid(t *testing.T) {
	if !(Point{Lat: 30.77, Lon: 76.57}).Valid() {
		t.Fatal("expected valid point")
	}
	if (Point{Lat: 91, Lon: 0}).Valid() {
		t.Fatal("expected invalid latitude")
	}
	if (Point{Lat: 0, Lon: 181}).Valid() {
		t.Fatal("expected invalid longitude")
	}
}
