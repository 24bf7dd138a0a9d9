package spatial

import (
	"slices"

	"github.com/tidwall/qtree"
)

// qtree covers the geographic rectangle, so plane coordinates are stretched
// onto it.
const (
	scaleX = 360.0
	scaleY = 180.0
)

type qtreeIndex struct {
	qt     qtree.QTree
	coords [][2]float64
}

// QTree builds an Index on github.com/tidwall/qtree. nodeSize is ignored.
func QTree(n int, at func(i int) (x, y float64), _ int) Index {
	idx := &qtreeIndex{coords: make([][2]float64, n)}
	for i := range n {
		x, y := at(i)
		idx.coords[i] = [2]float64{x, y}
		p := toTree(x, y)
		idx.qt.Insert(p, p, i)
	}
	return idx
}

func toTree(x, y float64) [2]float64 {
	return [2]float64{x*scaleX - scaleX/2, y*scaleY - scaleY/2}
}

func (idx *qtreeIndex) Len() int {
	return len(idx.coords)
}

func (idx *qtreeIndex) Range(minX, minY, maxX, maxY float64) []int {
	result := []int{}
	idx.qt.Search(toTree(minX, minY), toTree(maxX, maxY), func(_, _ [2]float64, data interface{}) bool {
		i := data.(int)
		p := idx.coords[i]
		// recheck against exact coordinates, scaling may round at the edges
		if p[0] >= minX && p[0] <= maxX && p[1] >= minY && p[1] <= maxY {
			result = append(result, i)
		}
		return true
	})
	slices.Sort(result)
	return result
}

func (idx *qtreeIndex) Within(x, y, r float64) []int {
	result := []int{}
	r2 := r * r
	idx.qt.Search(toTree(x-r, y-r), toTree(x+r, y+r), func(_, _ [2]float64, data interface{}) bool {
		i := data.(int)
		dx, dy := idx.coords[i][0]-x, idx.coords[i][1]-y
		if dx*dx+dy*dy <= r2 {
			result = append(result, i)
		}
		return true
	})
	slices.Sort(result)
	return result
}
