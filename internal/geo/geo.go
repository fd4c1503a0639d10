// Package geo provides the geodesic primitives used by the clustering and
// tracking pipeline: great-circle distance, weighted centroids, and
// bounding-box containment over WGS84 lat/lon coordinates.
package geo

import (
	"fmt"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is Earth's mean radius in meters.
const EarthRadiusMeters = 6371000.0

// Point is a position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is inside the WGS84 coordinate range.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Centroid returns the unweighted mean position of the points.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: sumLat / n, Lon: sumLon / n}
}

// WeightedCentroid returns the weighted mean position of the points. When
// the weights sum to zero it falls back to the unweighted centroid.
func WeightedCentroid(points []Point, weights []float64) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumLat, sumLon, sumWeights float64
	for i, p := range points {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		sumLat += p.Lat * w
		sumLon += p.Lon * w
		sumWeights += w
	}
	if sumWeights == 0 {
		return Centroid(points)
	}
	return Point{Lat: sumLat / sumWeights, Lon: sumLon / sumWeights}
}

// BBox is a geographic bounding box. Min is the south-west corner, Max the
// north-east corner.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box (inclusive).
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Rect returns the box as an s2 lat/lng rectangle.
func (b BBox) Rect() s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(b.MinLat, b.MinLon)).
		AddPoint(s2.LatLngFromDegrees(b.MaxLat, b.MaxLon))
}

// ParseBBox parses the FIRMS "min_lon,min_lat,max_lon,max_lat" form.
func ParseBBox(s string) (BBox, error) {
	var b BBox
	n, err := fmt.Sscanf(s, "%f,%f,%f,%f", &b.MinLon, &b.MinLat, &b.MaxLon, &b.MaxLat)
	if err != nil || n != 4 {
		return BBox{}, fmt.Errorf("invalid bbox %q: want min_lon,min_lat,max_lon,max_lat", s)
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return BBox{}, fmt.Errorf("invalid bbox %q: min corner exceeds max corner", s)
	}
	return b, nil
}
