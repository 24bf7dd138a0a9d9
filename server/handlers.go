package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/StuRuby/supercluster-annotation/supercluster"
)

const (
	contentTypeGeoJSON = "application/geo+json"
	contentTypeJSON    = "application/json"
	contentTypeMVT     = "application/vnd.mapbox-vector-tile"
)

func (s *server) count(ctx *fasthttp.RequestCtx, route string) {
	s.metricRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func badRequest(ctx *fasthttp.RequestCtx, err error) {
	ctx.Response.SetStatusCode(http.StatusBadRequest)
	ctx.Response.SetBodyString(err.Error())
}

func queryError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, supercluster.ErrNotFound) {
		ctx.Response.SetStatusCode(http.StatusNotFound)
	} else {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
	}
	ctx.Response.SetBodyString(err.Error())
}

func (s *server) writeFeatures(ctx *fasthttp.RequestCtx, features []*geojson.Feature) {
	s.metricFeatures.Add(ctx, int64(len(features)))

	fc := geojson.NewFeatureCollection()
	fc.Features = features
	data, err := fc.MarshalJSON()
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal response")
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType(contentTypeGeoJSON)
	ctx.Response.SetBody(data)
}

// ClustersHandler serves /clusters?bbox=west,south,east,north&zoom=z
func (s *server) ClustersHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "clusters")

	bbox, err := parseBBox(string(ctx.QueryArgs().Peek("bbox")))
	if err != nil {
		badRequest(ctx, err)
		return
	}
	zoom, err := strconv.Atoi(string(ctx.QueryArgs().Peek("zoom")))
	if err != nil {
		badRequest(ctx, fmt.Errorf("invalid zoom: %w", err))
		return
	}

	_, span := tracer.Start(ctx, "GetClusters")
	features := s.idx.GetClusters(bbox, zoom)
	span.End()

	s.writeFeatures(ctx, features)
}

func (s *server) ChildrenHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "children")

	id, err := clusterIDParam(ctx)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	_, span := tracer.Start(ctx, "GetChildren")
	features, err := s.idx.GetChildren(id)
	span.End()
	if err != nil {
		queryError(ctx, err)
		return
	}

	s.writeFeatures(ctx, features)
}

// LeavesHandler serves /clusters/{id}/leaves?limit=&offset=, limit -1 returns all leaves.
func (s *server) LeavesHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "leaves")

	id, err := clusterIDParam(ctx)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	limit, err := optionalInt(ctx, "limit", 10)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	offset, err := optionalInt(ctx, "offset", 0)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	_, span := tracer.Start(ctx, "GetLeaves")
	features, err := s.idx.GetLeaves(id, limit, offset)
	span.End()
	if err != nil {
		queryError(ctx, err)
		return
	}

	s.writeFeatures(ctx, features)
}

func (s *server) ExpansionZoomHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "expansion-zoom")

	id, err := clusterIDParam(ctx)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	zoom, err := s.idx.GetClusterExpansionZoom(id)
	if err != nil {
		queryError(ctx, err)
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType(contentTypeJSON)
	ctx.Response.SetBody(marshalExpansionZoom(zoom))
}

func (s *server) TileHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "tile")

	t, err := tileParam(ctx)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	_, span := tracer.Start(ctx, "GetTile")
	tile, ok := s.idx.GetTile(int(t.Z), int(t.X), int(t.Y))
	span.End()
	if !ok {
		ctx.Response.SetStatusCode(http.StatusNoContent)
		return
	}
	s.metricFeatures.Add(ctx, int64(len(tile.Features)))

	data, err := marshalTile(tile)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString("failed to marshal tile")
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType(contentTypeJSON)
	ctx.Response.SetBody(data)
}

func (s *server) VectorTileHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "mvt")

	t, err := tileParam(ctx)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	data, err := s.vectorTile(ctx, t)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString(err.Error())
		return
	}
	if data == nil {
		ctx.Response.SetStatusCode(http.StatusNoContent)
		return
	}

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType(contentTypeMVT)
	ctx.Response.SetBody(data)
}

func (s *server) vectorTile(ctx *fasthttp.RequestCtx, t maptile.Tile) ([]byte, error) {
	if s.cfg.TileCache {
		if data, ok := s.tiles.Load(t); ok {
			s.metricTileCache.Add(ctx, 1)
			return data, nil
		}
	}

	_, span := tracer.Start(ctx, "GetTile")
	tile, ok := s.idx.GetTile(int(t.Z), int(t.X), int(t.Y))
	span.End()

	var data []byte
	if ok {
		var err error
		data, err = EncodeVectorTile(tile, s.cfg.LayerName, s.idx.Options().Extent)
		if err != nil {
			return nil, err
		}
	}

	if s.cfg.TileCache {
		s.tiles.Store(t, data)
	}
	return data, nil
}

func (s *server) StatsHandler(ctx *fasthttp.RequestCtx) {
	s.count(ctx, "stats")

	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType(contentTypeJSON)
	ctx.Response.SetBody(marshalStats(s.idx))
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be west,south,east,north, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox component %q: %w", p, err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func clusterIDParam(ctx *fasthttp.RequestCtx) (int, error) {
	s, _ := ctx.UserValue("id").(string)
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cluster id %q", s)
	}
	return id, nil
}

func optionalInt(ctx *fasthttp.RequestCtx, key string, def int) (int, error) {
	raw := ctx.QueryArgs().Peek(key)
	if len(raw) == 0 {
		return def, nil
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func tileParam(ctx *fasthttp.RequestCtx) (maptile.Tile, error) {
	var v [3]uint64
	for i, key := range []string{"z", "x", "y"} {
		s, _ := ctx.UserValue(key).(string)
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return maptile.Tile{}, fmt.Errorf("invalid tile %s %q", key, s)
		}
		v[i] = n
	}

	t := maptile.New(uint32(v[1]), uint32(v[2]), maptile.Zoom(v[0]))
	if v[0] > 30 || !t.Valid() {
		return maptile.Tile{}, fmt.Errorf("tile %d/%d/%d out of range", v[0], v[1], v[2])
	}
	return t, nil
}
