// Package clusterid packs the address of a cluster's representative point
// into a single integer. The low 5 bits hold the level the representative
// lives in, the rest hold its position within that level.
package clusterid

import "fmt"

const (
	zoomBits = 5
	zoomMask = 1<<zoomBits - 1

	// MaxZoom is the highest zoom that can be clustered: a cluster built at
	// zoom z stores level z+1, which must fit in the zoom field.
	MaxZoom = zoomMask - 1
)

// ID addresses a point in the level store.
type ID struct {
	// Origin is the representative's position within its level.
	Origin int
	// Level is the level that holds the representative, one finer than the
	// zoom the cluster was built at.
	Level int
}

// New returns the id of a cluster built at zoom whose representative sits at
// position in the next finer level.
func New(position, zoom int) ID {
	return ID{Origin: position, Level: zoom + 1}
}

// Zoom is the zoom the cluster was built at.
func (id ID) Zoom() int {
	return id.Level - 1
}

func (id ID) Pack() int {
	return id.Origin<<zoomBits | id.Level
}

// Unpack never fails, range checks are left to the level store.
func Unpack(v int) ID {
	return ID{Origin: v >> zoomBits, Level: v & zoomMask}
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Origin, id.Level)
}
