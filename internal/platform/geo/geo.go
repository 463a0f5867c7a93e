// Package geo provides the geographic primitives used for request routing:
// great-circle distance for display/sorting and uniform grid cells for
// broadcast room assignment. The grid is a routing approximation only;
// authoritative radius queries run against the database's geo index.
package geo

import (
	"fmt"
	"math"
)

// GridSize is the side length of a routing cell in degrees (~5 km).
const GridSize = 0.05

const earthRadiusKm = 6371

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within coordinate bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the haversine great-circle distance between a and b in
// kilometers, rounded to 2 decimals. Symmetric, and zero for identical points.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return math.Round(earthRadiusKm*c*100) / 100
}

// CellKey returns the broadcast room key for the grid cell containing p,
// in the form "cell:<latIdx>:<lonIdx>".
func CellKey(p Point) string {
	latIdx := int(math.Floor(p.Lat / GridSize))
	lonIdx := int(math.Floor(p.Lon / GridSize))
	return fmt.Sprintf("cell:%d:%d", latIdx, lonIdx)
}
