// Package geometry holds the planar helpers used to measure baby/hazard proximity.
package geometry

import (
	"image"
	"math"

	"github.com/golang/geo/r2"

	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// Center returns the midpoint of the box corners.
func Center(b types.BoundingBox) r2.Point {
	return r2.Point{
		X: (b.X1() + b.X2()) / 2,
		Y: (b.Y1() + b.Y2()) / 2,
	}
}

// Truncate converts a point to integer pixels, truncating toward zero.
func Truncate(p r2.Point) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

// Distance returns the Euclidean distance between the centers of two boxes,
// along with both centers truncated to integer pixels.
// Boxes are not validated; NaN corners yield a NaN distance.
func Distance(a, b types.BoundingBox) (float64, image.Point, image.Point) {
	ca := Center(a)
	cb := Center(b)
	return cb.Sub(ca).Norm(), Truncate(ca), Truncate(cb)
}

// Planar returns the distance between two points.
func Planar(a, b r2.Point) float64 {
	return b.Sub(a).Norm()
}

// Usable reports whether d can drive an alert decision.
func Usable(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d >= 0
}
