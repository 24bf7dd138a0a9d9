package clusterid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/StuRuby/supercluster-annotation/clusterid"
)

func TestPack(t *testing.T) {
	tests := []struct {
		position, zoom int
		packed         int
	}{
		{0, 0, 1},
		{1, 0, 33},
		{3, 4, 3<<5 | 5},
		{1000, 29, 1000<<5 | 30},
		{7, clusterid.MaxZoom, 7<<5 | 31},
	}

	for _, test := range tests {
		id := clusterid.New(test.position, test.zoom)
		assert.Equal(t, test.packed, id.Pack())
		assert.Equal(t, id, clusterid.Unpack(test.packed))
		assert.Equal(t, test.zoom, clusterid.Unpack(test.packed).Zoom())
	}
}

func TestMaxZoom(t *testing.T) {
	assert.Equal(t, 30, clusterid.MaxZoom)
}

func FuzzRoundTrip(f *testing.F) {
	f.Add(0, 0)
	f.Add(123456, 16)

	f.Fuzz(func(t *testing.T, position, zoom int) {
		if position < 0 || position > 1<<40 || zoom < 0 || zoom > clusterid.MaxZoom {
			t.Skip()
		}
		id := clusterid.New(position, zoom)
		back := clusterid.Unpack(id.Pack())
		if back != id {
			t.Fatalf("expected %v, got %v", id, back)
		}
	})
}
