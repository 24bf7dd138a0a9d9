package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/StuRuby/supercluster-annotation/internal/sample"
	"github.com/StuRuby/supercluster-annotation/supercluster"
)

func testServer(t testing.TB, cfg Config) *server {
	t.Helper()
	features := []*geojson.Feature{
		geojson.NewFeature(orb.Point{10, 10}),
		geojson.NewFeature(orb.Point{10.0001, 10.0001}),
		geojson.NewFeature(orb.Point{10.0002, 10}),
		geojson.NewFeature(orb.Point{-120, 45}),
	}
	for i, f := range features {
		f.ID = i
		f.Properties["name"] = "p" + strconv.Itoa(i)
	}
	idx, err := supercluster.New(features)
	require.NoError(t, err)

	s, err := newServer(idx, cfg)
	require.NoError(t, err)
	return s
}

func do(s *server, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(http.MethodGet)
	ctx.Request.SetRequestURI(uri)
	s.router().Handler(ctx)
	return ctx
}

func decodeCollection(t *testing.T, ctx *fasthttp.RequestCtx) *geojson.FeatureCollection {
	t.Helper()
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	require.Equal(t, contentTypeGeoJSON, string(ctx.Response.Header.ContentType()))
	fc, err := geojson.UnmarshalFeatureCollection(ctx.Response.Body())
	require.NoError(t, err)
	return fc
}

func TestClustersHandler(t *testing.T) {
	s := testServer(t, Config{})

	fc := decodeCollection(t, do(s, "/clusters?bbox=-180,-85,180,85&zoom=0"))
	require.Len(t, fc.Features, 2)

	total := 0
	for _, f := range fc.Features {
		if f.Properties.MustBool("cluster", false) {
			total += int(f.Properties.MustFloat64("point_count"))
		} else {
			total++
		}
	}
	require.Equal(t, 4, total)

	for _, uri := range []string{
		"/clusters?bbox=1,2,3&zoom=0",
		"/clusters?bbox=a,b,c,d&zoom=0",
		"/clusters?bbox=-180,-85,180,85",
		"/clusters?bbox=-180,-85,180,85&zoom=x",
	} {
		ctx := do(s, uri)
		require.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode(), uri)
	}
}

func clusterAtZero(t *testing.T, s *server) int {
	t.Helper()
	fc := decodeCollection(t, do(s, "/clusters?bbox=-180,-85,180,85&zoom=0"))
	for _, f := range fc.Features {
		if f.Properties.MustBool("cluster", false) {
			return int(f.Properties.MustFloat64("cluster_id"))
		}
	}
	t.Fatal("no cluster at zoom 0")
	return 0
}

func TestClusterRoutes(t *testing.T) {
	s := testServer(t, Config{})
	id := clusterAtZero(t, s)

	children := decodeCollection(t, do(s, "/clusters/"+strconv.Itoa(id)+"/children"))
	require.NotEmpty(t, children.Features)

	leaves := decodeCollection(t, do(s, "/clusters/"+strconv.Itoa(id)+"/leaves?limit=2"))
	require.Len(t, leaves.Features, 2)

	leaves = decodeCollection(t, do(s, "/clusters/"+strconv.Itoa(id)+"/leaves?limit=-1"))
	require.Len(t, leaves.Features, 3)

	leaves = decodeCollection(t, do(s, "/clusters/"+strconv.Itoa(id)+"/leaves?limit=10&offset=2"))
	require.Len(t, leaves.Features, 1)

	ctx := do(s, "/clusters/"+strconv.Itoa(id)+"/expansion-zoom")
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	var zoom struct {
		Zoom int `json:"zoom"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &zoom))
	require.Positive(t, zoom.Zoom)
}

func TestClusterRoutesErrors(t *testing.T) {
	s := testServer(t, Config{})

	tests := []struct {
		uri    string
		status int
	}{
		{"/clusters/abc/children", http.StatusBadRequest},
		{"/clusters/123456789/children", http.StatusNotFound},
		{"/clusters/0/leaves", http.StatusNotFound},
		{"/clusters/31/expansion-zoom", http.StatusNotFound},
		{"/clusters/1/leaves?limit=x", http.StatusBadRequest},
		{"/clusters/1/leaves?offset=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			ctx := do(s, tt.uri)
			require.Equal(t, tt.status, ctx.Response.StatusCode(), string(ctx.Response.Body()))
		})
	}
}

func TestTileHandler(t *testing.T) {
	s := testServer(t, Config{})

	ctx := do(s, "/tiles/0/0/0")
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())

	var tile struct {
		Features []struct {
			Type     int              `json:"type"`
			Geometry [][2]int         `json:"geometry"`
			Tags     map[string]any   `json:"tags"`
			ID       *json.RawMessage `json:"id"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &tile))
	require.Len(t, tile.Features, 2)
	for _, f := range tile.Features {
		require.Equal(t, 1, f.Type)
		require.Len(t, f.Geometry, 1)
		require.NotNil(t, f.Tags)
	}

	// far away from every point
	ctx = do(s, "/tiles/10/0/0")
	require.Equal(t, http.StatusNoContent, ctx.Response.StatusCode())

	for _, uri := range []string{"/tiles/1/2/0", "/tiles/a/0/0", "/tiles/40/0/0"} {
		ctx := do(s, uri)
		require.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode(), uri)
	}
}

func TestVectorTileHandler(t *testing.T) {
	s := testServer(t, Config{TileCache: true, LayerName: "points"})

	ctx := do(s, "/mvt/0/0/0")
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, contentTypeMVT, string(ctx.Response.Header.ContentType()))

	layers, err := mvt.Unmarshal(ctx.Response.Body())
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Equal(t, "points", layers[0].Name)
	require.Equal(t, uint32(512), layers[0].Extent)
	require.Len(t, layers[0].Features, 2)

	cached, ok := s.tiles.Load(maptile.New(0, 0, 0))
	require.True(t, ok)
	require.Equal(t, ctx.Response.Body(), cached)

	// second hit is served from the cache
	again := do(s, "/mvt/0/0/0")
	require.Equal(t, ctx.Response.Body(), again.Response.Body())

	empty := do(s, "/mvt/10/0/0")
	require.Equal(t, http.StatusNoContent, empty.Response.StatusCode())
	data, ok := s.tiles.Load(maptile.New(0, 0, 10))
	require.True(t, ok)
	require.Nil(t, data)
}

func TestStatsHandler(t *testing.T) {
	s := testServer(t, Config{})

	ctx := do(s, "/stats")
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())

	var stats struct {
		Points  int `json:"points"`
		MinZoom int `json:"minZoom"`
		MaxZoom int `json:"maxZoom"`
		Levels  []struct {
			Zoom     int `json:"zoom"`
			Points   int `json:"points"`
			Clusters int `json:"clusters"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &stats))
	require.Equal(t, 4, stats.Points)
	require.Equal(t, 0, stats.MinZoom)
	require.Equal(t, 16, stats.MaxZoom)
	require.Len(t, stats.Levels, 18)

	last := stats.Levels[len(stats.Levels)-1]
	require.Equal(t, 17, last.Zoom)
	require.Equal(t, 4, last.Points)
	require.Zero(t, last.Clusters)
}

func BenchmarkHandlers(b *testing.B) {
	idx, err := supercluster.New(sample.Features(sample.Points(orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}, 0.1, 1)))
	require.NoError(b, err)
	s, err := newServer(idx, Config{})
	require.NoError(b, err)

	b.ResetTimer()

	b.Run("Clusters", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			do(s, "/clusters?bbox=-10,-10,10,10&zoom=5")
		}
	})

	b.Run("Tile", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			do(s, "/tiles/4/8/7")
		}
	})

	b.Run("VectorTile", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			do(s, "/mvt/4/8/7")
		}
	})
}
