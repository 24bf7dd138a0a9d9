package supercluster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/geojson"
)

// Aggregator accumulates custom properties onto clusters.
//
// Seed returns a fresh accumulator for a new cluster. Project maps the
// properties of a source feature to the value folded in with Combine. When a
// cluster absorbs another cluster, Combine receives a copy of the absorbed
// cluster's accumulator instead.
type Aggregator interface {
	Seed() geojson.Properties
	Project(props geojson.Properties) geojson.Properties
	Combine(acc, mapped geojson.Properties)
}

// AggregatorFuncs adapts plain functions to Aggregator. A nil SeedFunc seeds an
// empty map, a nil ProjectFunc passes properties through.
type AggregatorFuncs struct {
	SeedFunc    func() geojson.Properties
	ProjectFunc func(props geojson.Properties) geojson.Properties
	CombineFunc func(acc, mapped geojson.Properties)
}

func (a AggregatorFuncs) Seed() geojson.Properties {
	if a.SeedFunc == nil {
		return geojson.Properties{}
	}
	return a.SeedFunc()
}

func (a AggregatorFuncs) Project(props geojson.Properties) geojson.Properties {
	if a.ProjectFunc == nil {
		return props
	}
	return a.ProjectFunc(props)
}

func (a AggregatorFuncs) Combine(acc, mapped geojson.Properties) {
	if a.CombineFunc != nil {
		a.CombineFunc(acc, mapped)
	}
}

type Reduction string

const (
	Sum Reduction = "sum"
	Min Reduction = "min"
	Max Reduction = "max"
)

func ParseReduction(s string) (Reduction, error) {
	switch r := Reduction(s); r {
	case Sum, Min, Max:
		return r, nil
	}
	return "", fmt.Errorf("unknown reduction %q", s)
}

// FieldAggregator reduces numeric source properties field by field.
// Missing or non-numeric values are ignored, a field nobody reported stays absent.
type FieldAggregator map[string]Reduction

func (fa FieldAggregator) Seed() geojson.Properties {
	return geojson.Properties{}
}

func (fa FieldAggregator) Project(props geojson.Properties) geojson.Properties {
	mapped := make(geojson.Properties, len(fa))
	for field := range fa {
		if v, ok := toFloat(props[field]); ok {
			mapped[field] = v
		}
	}
	return mapped
}

func (fa FieldAggregator) Combine(acc, mapped geojson.Properties) {
	for field, op := range fa {
		v, ok := toFloat(mapped[field])
		if !ok {
			continue
		}
		cur, seen := toFloat(acc[field])
		if !seen {
			acc[field] = v
			continue
		}
		switch op {
		case Sum:
			acc[field] = cur + v
		case Min:
			acc[field] = math.Min(cur, v)
		case Max:
			acc[field] = math.Max(cur, v)
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
