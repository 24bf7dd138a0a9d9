// Package kdbush is a static kd-tree over a fixed set of 2D points.
// The index never changes after New returns and is safe for concurrent reads.
package kdbush

import (
	"math"
)

const DefaultNodeSize = 64

type KDBush struct {
	NodeSize int

	idxs   []int     // original positions, kd-sorted
	coords []float64 // x0, y0, x1, y1 ... parallel to idxs
}

// New indexes n points, reading the coordinates of point i through at.
func New(n int, at func(i int) (x, y float64), nodeSize int) *KDBush {
	if nodeSize <= 0 {
		nodeSize = DefaultNodeSize
	}

	bush := &KDBush{
		NodeSize: nodeSize,
		idxs:     make([]int, n),
		coords:   make([]float64, 2*n),
	}
	for i := range n {
		x, y := at(i)
		bush.idxs[i] = i
		bush.coords[2*i] = x
		bush.coords[2*i+1] = y
	}

	sort(bush.idxs, bush.coords, bush.NodeSize, 0, n-1, 0)
	return bush
}

func (bush *KDBush) Len() int {
	return len(bush.idxs)
}

// Range returns the positions of all points inside the closed rectangle.
func (bush *KDBush) Range(minX, minY, maxX, maxY float64) []int {
	result := []int{}
	if len(bush.idxs) == 0 {
		return result
	}

	stack := make([]int, 0, 48)
	stack = append(stack, 0, len(bush.idxs)-1, 0)

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= bush.NodeSize {
			for i := left; i <= right; i++ {
				x, y := bush.coords[2*i], bush.coords[2*i+1]
				if x >= minX && x <= maxX && y >= minY && y <= maxY {
					result = append(result, bush.idxs[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := bush.coords[2*m], bush.coords[2*m+1]
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			result = append(result, bush.idxs[m])
		}

		nextAxis := 1 - axis
		if (axis == 0 && minX <= x) || (axis != 0 && minY <= y) {
			stack = append(stack, left, m-1, nextAxis)
		}
		if (axis == 0 && maxX >= x) || (axis != 0 && maxY >= y) {
			stack = append(stack, m+1, right, nextAxis)
		}
	}
	return result
}

// Within returns the positions of all points at euclidean distance <= radius from (qx, qy).
func (bush *KDBush) Within(qx, qy, radius float64) []int {
	result := []int{}
	bush.WithinFunc(qx, qy, radius, func(i int) bool {
		result = append(result, i)
		return true
	})
	return result
}

// WithinFunc calls handler with the position of every point within radius.
// Iteration stops when handler returns false.
func (bush *KDBush) WithinFunc(qx, qy, radius float64, handler func(i int) bool) {
	if len(bush.idxs) == 0 {
		return
	}

	stack := make([]int, 0, 48)
	stack = append(stack, 0, len(bush.idxs)-1, 0)
	r2 := radius * radius

	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= bush.NodeSize {
			for i := left; i <= right; i++ {
				if sqDist(bush.coords[2*i], bush.coords[2*i+1], qx, qy) <= r2 {
					if !handler(bush.idxs[i]) {
						return
					}
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := bush.coords[2*m], bush.coords[2*m+1]
		if sqDist(x, y, qx, qy) <= r2 {
			if !handler(bush.idxs[m]) {
				return
			}
		}

		nextAxis := 1 - axis
		if (axis == 0 && qx-radius <= x) || (axis != 0 && qy-radius <= y) {
			stack = append(stack, left, m-1, nextAxis)
		}
		if (axis == 0 && qx+radius >= x) || (axis != 0 && qy+radius >= y) {
			stack = append(stack, m+1, right, nextAxis)
		}
	}
}

////////////////////////////////////////////////////////////////
/// Sorting stuff
////////////////////////////////////////////////////////////////

func sort(idxs []int, coords []float64, nodeSize int, left, right, depth int) {
	if right-left <= nodeSize {
		return
	}

	m := (left + right) >> 1

	// median along the current axis, smaller values to the left
	sselect(idxs, coords, m, left, right, depth%2)

	sort(idxs, coords, nodeSize, left, m-1, depth+1)
	sort(idxs, coords, nodeSize, m+1, right, depth+1)
}

// sselect is Floyd-Rivest selection.
func sselect(idxs []int, coords []float64, k, left, right, inc int) {
	for right > left {
		if right-left > 600 {
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2.0*z/3.0)
			sds := 1.0
			if m-n/2.0 < 0 {
				sds = -1.0
			}
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n) * sds
			newLeft := max(left, int(math.Floor(float64(k)-m*s/n+sd)))
			newRight := min(right, int(math.Floor(float64(k)+(n-m)*s/n+sd)))
			sselect(idxs, coords, k, newLeft, newRight, inc)
		}

		t := coords[2*k+inc]
		i := left
		j := right

		swapItem(idxs, coords, left, k)
		if coords[2*right+inc] > t {
			swapItem(idxs, coords, left, right)
		}

		for i < j {
			swapItem(idxs, coords, i, j)
			i++
			j--
			for coords[2*i+inc] < t {
				i++
			}
			for coords[2*j+inc] > t {
				j--
			}
		}

		if coords[2*left+inc] == t {
			swapItem(idxs, coords, left, j)
		} else {
			j++
			swapItem(idxs, coords, j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func swapItem(idxs []int, coords []float64, i, j int) {
	idxs[i], idxs[j] = idxs[j], idxs[i]
	coords[2*i], coords[2*j] = coords[2*j], coords[2*i]
	coords[2*i+1], coords[2*j+1] = coords[2*j+1], coords[2*i+1]
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}
