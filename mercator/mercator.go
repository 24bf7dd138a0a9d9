// Package mercator maps geographic coordinates onto the normalized
// spherical mercator plane [0,1]x[0,1] and back. x grows eastward from the
// antimeridian, y grows southward from the top of the world.
package mercator

import (
	"math"

	"github.com/paulmach/orb"
)

func LngX(lng float64) float64 {
	return lng/360 + 0.5
}

// LatY clamps to [0,1] near the poles.
func LatY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	switch {
	case y < 0:
		return 0
	case y > 1:
		return 1
	}
	return y
}

func XLng(x float64) float64 {
	return (x - 0.5) * 360
}

func YLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}

// Project returns plane coordinates of a lng/lat point.
func Project(p orb.Point) (x, y float64) {
	return LngX(p.Lon()), LatY(p.Lat())
}

func Unproject(x, y float64) orb.Point {
	return orb.Point{XLng(x), YLat(y)}
}
