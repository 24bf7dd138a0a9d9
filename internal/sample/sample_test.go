package sample_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StuRuby/supercluster-annotation/internal/sample"
)

func TestPointsDeterministic(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}

	a := sample.Points(bound, 1, 7)
	b := sample.Points(bound, 1, 7)
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	for _, p := range a {
		assert.True(t, bound.Contains(p), "point %v outside bound", p)
	}
}

func TestInPolygon(t *testing.T) {
	poly := orb.MultiPolygon{{{{0, 0}, {4, 0}, {0, 4}, {0, 0}}}}

	points := sample.InPolygon(poly, 0.5, 1)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.True(t, planar.MultiPolygonContains(poly, p))
	}
}

func TestFeatures(t *testing.T) {
	features := sample.Features([]orb.Point{{1, 2}, {3, 4}})
	require.Len(t, features, 2)
	assert.Equal(t, orb.Point{3, 4}, features[1].Geometry)
	assert.Equal(t, 1, features[1].Properties["id"])
	assert.Equal(t, 2.0, features[1].Properties["weight"])
}
