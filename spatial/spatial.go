// Package spatial defines the static point index the clusterer runs on and
// provides two implementations.
package spatial

import (
	"fmt"

	"github.com/StuRuby/supercluster-annotation/kdbush"
)

// Index is an immutable index over n points addressed by their position 0..n-1.
type Index interface {
	Len() int
	// Range returns positions of points inside the closed rectangle.
	Range(minX, minY, maxX, maxY float64) []int
	// Within returns positions of points at euclidean distance <= r.
	Within(x, y, r float64) []int
}

// Builder indexes n points, reading point i through at.
// nodeSize tunes performance and has no effect on results.
type Builder func(n int, at func(i int) (x, y float64), nodeSize int) Index

func KDBush(n int, at func(i int) (x, y float64), nodeSize int) Index {
	return kdbush.New(n, at, nodeSize)
}

// ByName resolves a builder from configuration.
func ByName(name string) (Builder, error) {
	switch name {
	case "", "kdbush":
		return KDBush, nil
	case "qtree":
		return QTree, nil
	}
	return nil, fmt.Errorf("unknown spatial index %q", name)
}
