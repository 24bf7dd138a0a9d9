package supercluster

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/slogassert"

	"github.com/StuRuby/supercluster-annotation/clusterid"
	"github.com/StuRuby/supercluster-annotation/internal/sample"
)

func TestLevelInvariants(t *testing.T) {
	points := sample.Points(orb.Bound{Min: orb.Point{-5, -5}, Max: orb.Point{5, 5}}, 0.1, 3)
	idx, err := New(sample.Features(points), WithZoomRange(2, 12), WithLogger(slogassert.NullLogger()))
	require.NoError(t, err)

	for z := 0; z < 2; z++ {
		assert.Nil(t, idx.levels[z])
	}

	for z := 2; z <= 13; z++ {
		lvl := idx.levels[z]
		require.NotNil(t, lvl, "zoom %d", z)

		total := 0
		for i := range lvl.points {
			p := &lvl.points[i]
			total += p.count

			if p.parent == (clusterid.ID{}) {
				continue
			}
			require.Equal(t, z, p.parent.Level, "parent of a point at zoom %d", z)

			_, children, err := idx.children(p.parent.Pack())
			require.NoError(t, err)
			n := 0
			for _, c := range children {
				if c == i {
					n++
				}
			}
			assert.Equal(t, 1, n, "point %d at zoom %d listed %d times", i, z, n)

			coarser := idx.levels[z-1]
			found := false
			for j := range coarser.points {
				if coarser.points[j].isCluster() && coarser.points[j].id == p.parent {
					found = true
					break
				}
			}
			assert.True(t, found, "parent %v missing from zoom %d", p.parent, z-1)
		}
		assert.Equal(t, len(points), total, "zoom %d", z)
	}

	// the coarsest level is never absorbed
	for _, p := range idx.levels[2].points {
		assert.Equal(t, clusterid.ID{}, p.parent)
	}
}

func TestLevelStats(t *testing.T) {
	points := sample.Points(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}, 0.05, 9)
	idx, err := New(sample.Features(points), WithZoomRange(0, 8), WithLogger(slogassert.NullLogger()))
	require.NoError(t, err)
	assert.Equal(t, 10, idx.Levels())

	n, clusters, ok := idx.LevelStats(9)
	require.True(t, ok)
	assert.Equal(t, len(points), n)
	assert.Zero(t, clusters)

	n, clusters, ok = idx.LevelStats(0)
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, clusters)

	_, _, ok = idx.LevelStats(10)
	assert.False(t, ok)
}
