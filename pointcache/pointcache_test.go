package pointcache_test

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/slogassert"

	"github.com/StuRuby/supercluster-annotation/internal/sample"
	"github.com/StuRuby/supercluster-annotation/pointcache"
)

func testFeatures() []*geojson.Feature {
	a := geojson.NewFeature(orb.Point{37.61, 55.75})
	a.ID = "moscow"
	a.Properties["name"] = "Moscow"
	a.Properties["population"] = 13.1e6
	a.Properties["tags"] = []any{"capital", "city"}

	b := geojson.NewFeature(nil)
	b.Properties["name"] = "nowhere"

	c := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})

	d := geojson.NewFeature(orb.Point{-0.12, 51.5})
	d.ID = 42.0
	d.Properties["name"] = "London"
	d.Properties["capital"] = true

	return []*geojson.Feature{a, b, c, d}
}

func TestSaveLoad(t *testing.T) {
	meta := pointcache.Metadata{Version: 3, Source: "cities.geojson", DateCreated: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	var buf bytes.Buffer
	require.NoError(t, pointcache.Save(&buf, testFeatures(), meta))

	log := slogassert.New(t, slog.LevelDebug, nil)
	features, gotMeta, err := pointcache.Load(&buf, slog.New(log))
	require.NoError(t, err)
	log.AssertSomeMessage("Loading point cache")
	assert.Equal(t, meta, gotMeta)
	require.Len(t, features, 4)

	assert.Equal(t, orb.Point{37.61, 55.75}, features[0].Geometry)
	assert.Equal(t, "moscow", features[0].ID)
	assert.Equal(t, "Moscow", features[0].Properties["name"])
	assert.Equal(t, 13.1e6, features[0].Properties["population"])
	assert.Equal(t, []any{"capital", "city"}, features[0].Properties["tags"])

	assert.Nil(t, features[1].Geometry)
	assert.Equal(t, "nowhere", features[1].Properties["name"])

	assert.Nil(t, features[2].Geometry)

	assert.Equal(t, orb.Point{-0.12, 51.5}, features[3].Geometry)
	assert.Equal(t, 42.0, features[3].ID)
	assert.Equal(t, true, features[3].Properties["capital"])
}

func TestSaveLoadFileChunks(t *testing.T) {
	points := sample.Points(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, 0.15, 5)
	features := sample.Features(points)
	require.Greater(t, len(features), 2000)

	for _, name := range []string{"points.pcache", "points.pcache.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, pointcache.SaveFile(path, features, pointcache.Metadata{Source: "sample"}))

			loaded, meta, err := pointcache.LoadFile(path, slogassert.NullLogger())
			require.NoError(t, err)
			assert.Equal(t, "sample", meta.Source)
			require.Len(t, loaded, len(features))

			for i := range features {
				assert.Equal(t, features[i].Geometry, loaded[i].Geometry)
				assert.Equal(t, float64(i), loaded[i].Properties["id"])
				assert.Equal(t, features[i].Properties["weight"], loaded[i].Properties["weight"])
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, _, err := pointcache.Load(bytes.NewReader([]byte("NOPE\x01\x00\x00\x00")), slogassert.NullLogger())
	assert.ErrorIs(t, err, pointcache.ErrBadMagic)

	var buf bytes.Buffer
	buf.Write(pointcache.MAGIC_BYTES)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(99)))
	_, _, err = pointcache.Load(&buf, slogassert.NullLogger())
	assert.ErrorIs(t, err, pointcache.ErrIncompatible)

	buf.Reset()
	require.NoError(t, pointcache.Save(&buf, testFeatures(), pointcache.Metadata{}))
	truncated := buf.Bytes()[:buf.Len()-5]
	_, _, err = pointcache.Load(bytes.NewReader(truncated), slogassert.NullLogger())
	assert.Error(t, err)
}
