package supercluster

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/StuRuby/supercluster-annotation/clusterid"
	"github.com/StuRuby/supercluster-annotation/mercator"
)

var ErrNotFound = errors.New("no cluster with the specified id")

const defaultLeavesLimit = 10

// GetClusters returns leaves and clusters of the given zoom inside bbox.
// Longitudes wrap, a bound with Min.X east of Max.X crosses the antimeridian.
// Leaves are the features passed to New.
func (idx *Index) GetClusters(bbox orb.Bound, zoom int) []*geojson.Feature {
	minLng := wrapLng(bbox.Min.Lon())
	minLat := clampLat(bbox.Min.Lat())
	maxLng := 180.0
	if bbox.Max.Lon() != 180 {
		maxLng = wrapLng(bbox.Max.Lon())
	}
	maxLat := clampLat(bbox.Max.Lat())

	if bbox.Max.Lon()-bbox.Min.Lon() >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		eastern := idx.GetClusters(orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{180, maxLat}}, zoom)
		western := idx.GetClusters(orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{maxLng, maxLat}}, zoom)
		return append(eastern, western...)
	}

	lvl := idx.levels[idx.limitZoom(zoom)]
	ids := lvl.index.Range(mercator.LngX(minLng), mercator.LatY(maxLat), mercator.LngX(maxLng), mercator.LatY(minLat))

	features := make([]*geojson.Feature, 0, len(ids))
	for _, i := range ids {
		features = append(features, idx.feature(&lvl.points[i]))
	}
	return features
}

// GetChildren returns the nodes a cluster absorbed, one zoom finer.
func (idx *Index) GetChildren(clusterID int) ([]*geojson.Feature, error) {
	lvl, children, err := idx.children(clusterID)
	if err != nil {
		return nil, err
	}
	features := make([]*geojson.Feature, 0, len(children))
	for _, i := range children {
		features = append(features, idx.feature(&lvl.points[i]))
	}
	return features, nil
}

// GetLeaves returns source features under a cluster, depth first, skipping
// the first offset of them. limit 0 means 10, a negative limit means all.
func (idx *Index) GetLeaves(clusterID, limit, offset int) ([]*geojson.Feature, error) {
	switch {
	case limit == 0:
		limit = defaultLeavesLimit
	case limit < 0:
		limit = math.MaxInt
	}
	offset = max(offset, 0)

	leaves := []*geojson.Feature{}
	if _, err := idx.appendLeaves(&leaves, clusterID, limit, offset, 0); err != nil {
		return nil, err
	}
	return leaves, nil
}

// appendLeaves returns the running count of skipped leaves so siblings can
// continue from it.
func (idx *Index) appendLeaves(result *[]*geojson.Feature, clusterID, limit, offset, skipped int) (int, error) {
	lvl, children, err := idx.children(clusterID)
	if err != nil {
		return skipped, err
	}

	for _, i := range children {
		c := &lvl.points[i]

		switch {
		case c.isCluster():
			if skipped+c.count <= offset {
				skipped += c.count
			} else {
				skipped, err = idx.appendLeaves(result, c.id.Pack(), limit, offset, skipped)
				if err != nil {
					return skipped, err
				}
			}
		case skipped < offset:
			skipped++
		default:
			*result = append(*result, idx.features[c.source])
		}

		if len(*result) == limit {
			break
		}
	}
	return skipped, nil
}

// GetClusterExpansionZoom returns the zoom at which the cluster splits into
// more than one node. It never exceeds MaxZoom+1.
func (idx *Index) GetClusterExpansionZoom(clusterID int) (int, error) {
	id := clusterid.Unpack(clusterID)
	if id.Level < 1 || id.Level > idx.opts.MaxZoom+1 {
		return 0, notFound(clusterID)
	}

	zoom := id.Zoom()
	for zoom <= idx.opts.MaxZoom {
		lvl, children, err := idx.children(clusterID)
		if err != nil {
			return 0, err
		}
		zoom++

		if len(children) != 1 {
			break
		}
		only := &lvl.points[children[0]]
		if !only.isCluster() {
			break
		}
		clusterID = only.id.Pack()
	}
	return zoom, nil
}

// children returns the level holding the children of clusterID and their
// positions in it.
func (idx *Index) children(clusterID int) (*level, []int, error) {
	id := clusterid.Unpack(clusterID)
	// level 0 never holds representatives
	if id.Level < 1 || id.Level >= len(idx.levels) || idx.levels[id.Level] == nil {
		return nil, nil, notFound(clusterID)
	}
	lvl := idx.levels[id.Level]
	if id.Origin < 0 || id.Origin >= len(lvl.points) {
		return nil, nil, notFound(clusterID)
	}

	origin := &lvl.points[id.Origin]
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(id.Level-1)))

	var children []int
	for _, i := range lvl.index.Within(origin.x, origin.y, r) {
		if lvl.points[i].parent == id {
			children = append(children, i)
		}
	}
	if len(children) == 0 {
		return nil, nil, notFound(clusterID)
	}
	return lvl, children, nil
}

func notFound(clusterID int) error {
	return fmt.Errorf("%w: %d", ErrNotFound, clusterID)
}

func (idx *Index) feature(p *point) *geojson.Feature {
	if !p.isCluster() {
		return idx.features[p.source]
	}
	f := geojson.NewFeature(mercator.Unproject(p.x, p.y))
	f.ID = p.id.Pack()
	f.Properties = clusterProperties(p)
	return f
}

func clusterProperties(p *point) geojson.Properties {
	props := make(geojson.Properties, len(p.props)+4)
	maps.Copy(props, p.props)
	props["cluster"] = true
	props["cluster_id"] = p.id.Pack()
	props["point_count"] = p.count
	props["point_count_abbreviated"] = abbreviate(p.count)
	return props
}

// abbreviate returns the count itself below 1000 and a "k" string above.
func abbreviate(count int) any {
	switch {
	case count >= 10000:
		return strconv.Itoa(int(math.Round(float64(count)/1000))) + "k"
	case count >= 1000:
		return strconv.FormatFloat(math.Round(float64(count)/100)/10, 'f', -1, 64) + "k"
	}
	return count
}

func wrapLng(lng float64) float64 {
	return math.Mod(math.Mod(lng+180, 360)+360, 360) - 180
}

func clampLat(lat float64) float64 {
	return max(-90, min(90, lat))
}
