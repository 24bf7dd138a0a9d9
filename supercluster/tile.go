package supercluster

import (
	"math"

	"github.com/paulmach/orb/geojson"
)

type GeomType int

// GeomPoint matches the vector tile point geometry type.
const GeomPoint GeomType = 1

type TileFeature struct {
	Type GeomType
	// tile-local pixel coordinates, may fall outside [0, extent) by the radius
	Geometry [2]int
	Tags     geojson.Properties
	// packed cluster id, the source feature id, or nil
	ID any
}

type Tile struct {
	Features []TileFeature
}

// GetTile returns the leaves and clusters that render in tile z/x/y,
// including points within the cluster radius of its edges. ok is false when
// the tile has no features.
func (idx *Index) GetTile(z, x, y int) (tile *Tile, ok bool) {
	lvl := idx.levels[idx.limitZoom(z)]

	z2 := math.Pow(2, float64(z))
	p := idx.opts.Radius / idx.opts.Extent
	fx, fy := float64(x), float64(y)
	top := (fy - p) / z2
	bottom := (fy + 1 + p) / z2

	tile = &Tile{}
	idx.addTileFeatures(tile, lvl, lvl.index.Range((fx-p)/z2, top, (fx+1+p)/z2, bottom), fx, fy, z2)

	// points across the antimeridian show up in both edge tiles
	if x == 0 {
		idx.addTileFeatures(tile, lvl, lvl.index.Range(1-p/z2, top, 1, bottom), z2, fy, z2)
	}
	if fx == z2-1 {
		idx.addTileFeatures(tile, lvl, lvl.index.Range(0, top, p/z2, bottom), -1, fy, z2)
	}

	if len(tile.Features) == 0 {
		return nil, false
	}
	return tile, true
}

func (idx *Index) addTileFeatures(tile *Tile, lvl *level, ids []int, x, y, z2 float64) {
	extent := idx.opts.Extent
	for _, i := range ids {
		c := &lvl.points[i]

		f := TileFeature{
			Type: GeomPoint,
			Geometry: [2]int{
				round(extent * (c.x*z2 - x)),
				round(extent * (c.y*z2 - y)),
			},
		}
		if c.isCluster() {
			f.Tags = clusterProperties(c)
			f.ID = c.id.Pack()
		} else {
			src := idx.features[c.source]
			f.Tags = src.Properties
			f.ID = src.ID
		}
		tile.Features = append(tile.Features, f)
	}
}

// round goes half toward positive infinity.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
