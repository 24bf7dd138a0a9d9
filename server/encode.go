package server

import (
	"encoding/json"
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/StuRuby/supercluster-annotation/supercluster"
)

// marshalTile writes a tile in the geojson-vt shape map renderers expect:
// {"features":[{"type":1,"geometry":[[x,y]],"tags":{...},"id":...}]}
func marshalTile(tile *supercluster.Tile) ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`{"features":[`)
	for i, f := range tile.Features {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"type":`)
		w.Int(int(f.Type))
		w.RawString(`,"geometry":[[`)
		w.Int(f.Geometry[0])
		w.RawByte(',')
		w.Int(f.Geometry[1])
		w.RawString(`]],"tags":`)
		if f.Tags == nil {
			w.RawString(`{}`)
		} else {
			w.Raw(json.Marshal(f.Tags))
		}
		if f.ID != nil {
			w.RawString(`,"id":`)
			w.Raw(json.Marshal(f.ID))
		}
		w.RawByte('}')
	}
	w.RawString(`]}`)
	return w.BuildBytes()
}

func marshalExpansionZoom(zoom int) []byte {
	w := jwriter.Writer{}
	w.RawString(`{"zoom":`)
	w.Int(zoom)
	w.RawByte('}')
	return w.Buffer.BuildBytes()
}

func marshalStats(idx *supercluster.Index) []byte {
	opts := idx.Options()

	w := jwriter.Writer{}
	w.RawString(`{"points":`)
	w.Int(idx.Len())
	w.RawString(`,"minZoom":`)
	w.Int(opts.MinZoom)
	w.RawString(`,"maxZoom":`)
	w.Int(opts.MaxZoom)
	w.RawString(`,"levels":[`)
	first := true
	for z := opts.MinZoom; z <= opts.MaxZoom+1; z++ {
		points, clusters, ok := idx.LevelStats(z)
		if !ok {
			continue
		}
		if !first {
			w.RawByte(',')
		}
		first = false
		w.RawString(`{"zoom":`)
		w.Int(z)
		w.RawString(`,"points":`)
		w.Int(points)
		w.RawString(`,"clusters":`)
		w.Int(clusters)
		w.RawByte('}')
	}
	w.RawString(`]}`)
	return w.Buffer.BuildBytes()
}

// EncodeVectorTile renders a tile as a single layer Mapbox Vector Tile.
// Geometry is already in tile pixels so no projection is applied.
func EncodeVectorTile(tile *supercluster.Tile, layerName string, extent float64) ([]byte, error) {
	layer := &mvt.Layer{
		Name:     layerName,
		Version:  2,
		Extent:   uint32(extent),
		Features: make([]*geojson.Feature, 0, len(tile.Features)),
	}
	for _, f := range tile.Features {
		feature := geojson.NewFeature(orb.Point{float64(f.Geometry[0]), float64(f.Geometry[1])})
		feature.Properties = f.Tags
		feature.ID = f.ID
		layer.Features = append(layer.Features, feature)
	}

	data, err := mvt.Marshal(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("failed to encode vector tile: %w", err)
	}
	return data, nil
}
