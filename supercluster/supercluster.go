// Package supercluster builds a zoom hierarchy of point clusters and answers
// map queries against it.
//
// Levels are built once, from the finest (maxZoom+1, the raw points) down to
// minZoom. A built Index is immutable and safe for concurrent use.
package supercluster

import (
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/StuRuby/supercluster-annotation/clusterid"
	"github.com/StuRuby/supercluster-annotation/mercator"
	"github.com/StuRuby/supercluster-annotation/spatial"
)

// point is either a leaf referencing a source feature or an aggregate.
type point struct {
	x, y  float64 // plane coordinates
	count int

	source int // feature position for leaves, -1 for aggregates

	id    clusterid.ID       // aggregates only
	props geojson.Properties // aggregates only, accumulated by the Aggregator

	// aggregate in the next coarser level that absorbed this point, zero if none
	parent clusterid.ID
}

func (p *point) isCluster() bool {
	return p.source < 0
}

type level struct {
	points []point
	index  spatial.Index
}

type Index struct {
	opts     options
	features []*geojson.Feature
	total    int

	// indexed by zoom, nil below MinZoom
	levels []*level
}

// New clusters features. Features without a point geometry are skipped, but
// every other feature keeps its position in the slice as its identity.
// The slice and the features must not be modified after New returns.
func New(features []*geojson.Feature, opts ...Option) (*Index, error) {
	o, err := loadOptions(opts...)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		opts:     o,
		features: features,
		levels:   make([]*level, o.MaxZoom+2),
	}

	start := time.Now()

	leaves := make([]point, 0, len(features))
	for i, f := range features {
		if f == nil {
			continue
		}
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		x, y := mercator.Project(p)
		leaves = append(leaves, point{x: x, y: y, count: 1, source: i})
	}
	idx.total = len(leaves)
	idx.levels[o.MaxZoom+1] = idx.newLevel(leaves)

	for z := o.MaxZoom; z >= o.MinZoom; z-- {
		passStart := time.Now()
		idx.levels[z] = idx.newLevel(idx.cluster(idx.levels[z+1], z))

		if o.Log {
			o.logger.Info("clustered level",
				slog.Int("zoom", z),
				slog.Int("points", len(idx.levels[z+1].points)),
				slog.Int("clusters", len(idx.levels[z].points)),
				slog.Duration("took", time.Since(passStart)),
			)
		}
	}

	if o.Log {
		o.logger.Info("index built",
			slog.Int("points", idx.total),
			slog.Int("levels", idx.Levels()),
			slog.Duration("took", time.Since(start)),
		)
	}

	return idx, nil
}

func (idx *Index) newLevel(points []point) *level {
	return &level{
		points: points,
		index: idx.opts.index(len(points), func(i int) (float64, float64) {
			return points[i].x, points[i].y
		}, idx.opts.NodeSize),
	}
}

// cluster produces the points of zoom z from the finer level. Parent ids are
// written into finer, which is not yet visible to queries.
func (idx *Index) cluster(finer *level, z int) []point {
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(z)))
	agg := idx.opts.aggregator

	consumed := make([]bool, len(finer.points))
	out := make([]point, 0, len(finer.points))

	for i := range finer.points {
		if consumed[i] {
			continue
		}
		consumed[i] = true

		p := &finer.points[i]
		id := clusterid.New(i, z)

		total := p.count
		wx, wy := p.x*float64(p.count), p.y*float64(p.count)

		var acc geojson.Properties
		if agg != nil {
			acc = agg.Seed()
			if acc == nil {
				acc = geojson.Properties{}
			}
			agg.Combine(acc, idx.mapped(p))
		}

		for _, j := range finer.index.Within(p.x, p.y, r) {
			if consumed[j] {
				continue
			}
			consumed[j] = true

			n := &finer.points[j]
			wx += n.x * float64(n.count)
			wy += n.y * float64(n.count)
			total += n.count
			n.parent = id

			if agg != nil {
				agg.Combine(acc, idx.mapped(n))
			}
		}

		if total == 1 {
			lone := *p
			lone.parent = clusterid.ID{}
			out = append(out, lone)
			continue
		}

		p.parent = id
		out = append(out, point{
			x:      wx / float64(total),
			y:      wy / float64(total),
			count:  total,
			source: -1,
			id:     id,
			props:  acc,
		})
	}

	return out
}

// mapped is the value an Aggregator folds in for p.
func (idx *Index) mapped(p *point) geojson.Properties {
	if p.isCluster() {
		return maps.Clone(p.props)
	}
	return idx.opts.aggregator.Project(idx.features[p.source].Properties)
}

// Options returns the configuration the index was built with.
func (idx *Index) Options() Config {
	return idx.opts.Config
}

// Len is the number of features that have a point geometry.
func (idx *Index) Len() int {
	return idx.total
}

// Levels is the number of levels built, MaxZoom-MinZoom+2 including the
// level of raw points.
func (idx *Index) Levels() int {
	return idx.opts.MaxZoom - idx.opts.MinZoom + 2
}

// LevelStats reports how many nodes the level for zoom holds and how many of
// them are clusters. ok is false for zooms outside [MinZoom, MaxZoom+1].
func (idx *Index) LevelStats(zoom int) (points, clusters int, ok bool) {
	if zoom < 0 || zoom >= len(idx.levels) || idx.levels[zoom] == nil {
		return 0, 0, false
	}
	for i := range idx.levels[zoom].points {
		if idx.levels[zoom].points[i].isCluster() {
			clusters++
		}
	}
	return len(idx.levels[zoom].points), clusters, true
}

func (idx *Index) limitZoom(z int) int {
	return max(idx.opts.MinZoom, min(z, idx.opts.MaxZoom+1))
}
