// Package sample generates evenly spread test points.
package sample

import (
	"math/rand"

	"github.com/fogleman/poissondisc"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Points returns poisson-disc distributed points in bound, no two closer
// than distance. The same seed gives the same points.
func Points(bound orb.Bound, distance float64, seed int64) []orb.Point {
	samples := poissondisc.Sample(bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y(), distance, 10, rand.New(rand.NewSource(seed)))

	points := make([]orb.Point, 0, len(samples))
	for _, s := range samples {
		points = append(points, orb.Point{s.X, s.Y})
	}
	return points
}

// InPolygon is Points restricted to poly.
func InPolygon(poly orb.MultiPolygon, distance float64, seed int64) []orb.Point {
	points := Points(poly.Bound(), distance, seed)

	inside := points[:0]
	for _, p := range points {
		if planar.MultiPolygonContains(poly, p) {
			inside = append(inside, p)
		}
	}
	return inside
}

// Features wraps points into features with an "id" and a "weight" property.
func Features(points []orb.Point) []*geojson.Feature {
	features := make([]*geojson.Feature, 0, len(points))
	for i, p := range points {
		f := geojson.NewFeature(p)
		f.ID = i
		f.Properties["id"] = i
		f.Properties["weight"] = float64(i%10 + 1)
		features = append(features, f)
	}
	return features
}
