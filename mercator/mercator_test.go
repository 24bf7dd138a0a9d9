package mercator_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"github.com/StuRuby/supercluster-annotation/mercator"
)

func TestRoundTrip(t *testing.T) {
	for lng := -180.0; lng < 180; lng += 7.5 {
		assert.InDelta(t, lng, mercator.XLng(mercator.LngX(lng)), 1e-9)
	}
	for lat := -85.0; lat <= 85; lat += 5 {
		assert.InDelta(t, lat, mercator.YLat(mercator.LatY(lat)), 1e-9)
	}
}

func TestKnownValues(t *testing.T) {
	assert.Equal(t, 0.0, mercator.LngX(-180))
	assert.Equal(t, 0.5, mercator.LngX(0))
	assert.Equal(t, 1.0, mercator.LngX(180))
	assert.InDelta(t, 0.5, mercator.LatY(0), 1e-12)
	assert.Greater(t, mercator.LatY(-45), 0.5)
	assert.Less(t, mercator.LatY(45), 0.5)
}

func TestPolesClamp(t *testing.T) {
	assert.Equal(t, 0.0, mercator.LatY(90))
	assert.Equal(t, 1.0, mercator.LatY(-90))
	assert.Equal(t, 0.0, mercator.LatY(89.9999))
	assert.Equal(t, 1.0, mercator.LatY(-89.9999))
}

func TestProjectUnproject(t *testing.T) {
	p := orb.Point{37.6173, 55.7558}
	x, y := mercator.Project(p)
	back := mercator.Unproject(x, y)
	assert.InDelta(t, p.Lon(), back.Lon(), 1e-9)
	assert.InDelta(t, p.Lat(), back.Lat(), 1e-9)
}
