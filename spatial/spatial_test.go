package spatial_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StuRuby/supercluster-annotation/spatial"
)

func planePoints(n int) [][2]float64 {
	rnd := rand.New(rand.NewPCG(42, 42))
	points := make([][2]float64, n)
	for i := range points {
		points[i] = [2]float64{rnd.Float64(), rnd.Float64()}
	}
	return points
}

func TestBuildersAgree(t *testing.T) {
	points := planePoints(3000)
	at := func(i int) (float64, float64) { return points[i][0], points[i][1] }

	kd := spatial.KDBush(len(points), at, 16)
	qt := spatial.QTree(len(points), at, 16)
	require.Equal(t, len(points), kd.Len())
	require.Equal(t, len(points), qt.Len())

	rects := [][4]float64{
		{0, 0, 1, 1},
		{0.2, 0.3, 0.25, 0.4},
		{-0.1, -0.1, 0.05, 0.05},
		{0.9, 0.9, 1.2, 1.2},
	}
	for _, r := range rects {
		a := kd.Range(r[0], r[1], r[2], r[3])
		b := qt.Range(r[0], r[1], r[2], r[3])
		slices.Sort(a)
		assert.Equal(t, a, b, "range %v", r)
	}

	for _, c := range [][3]float64{{0.5, 0.5, 0.01}, {0, 0, 0.1}, {0.7, 0.2, 0.05}} {
		a := kd.Within(c[0], c[1], c[2])
		b := qt.Within(c[0], c[1], c[2])
		slices.Sort(a)
		assert.Equal(t, a, b, "within %v", c)
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "kdbush", "qtree"} {
		b, err := spatial.ByName(name)
		require.NoError(t, err)
		require.NotNil(t, b)
	}

	_, err := spatial.ByName("rtree")
	assert.Error(t, err)
}
