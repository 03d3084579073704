// Package geom provides the vector and rotation math used to turn keypoints
// into bone rotations.
//
// Screen-space helpers assume the detector convention: x grows to the right,
// y grows downward.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec2 is a point or direction in 2D detector space.
type Vec2 struct {
	X float64
	Y float64
}

// Distance2D returns the Euclidean distance between a and b.
func Distance2D(a, b Vec2) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Distance3D returns the Euclidean distance between a and b.
func Distance3D(a, b mgl64.Vec3) float64 {
	return b.Sub(a).Len()
}

// Gradient2D returns the slope of the line from a to b.
// A vertical line yields ±Inf (or NaN when a == b); callers clamp or
// pre-check the denominator.
func Gradient2D(a, b Vec2) float64 {
	return (b.Y - a.Y) / (b.X - a.X)
}

// AngleOfTriangle2D returns the interior angle at vertex b of triangle a-b-c.
//
// The result is in [0, π]. With includeReflex set, a clockwise turn from
// b→a to b→c in y-down screen space (negative 2D cross product) reports the
// reflex angle 2π-θ instead, giving the full [0, 2π) range.
// Degenerate triangles (a or c coincident with b) return 0.
func AngleOfTriangle2D(a, b, c Vec2, includeReflex bool) float64 {
	bax, bay := a.X-b.X, a.Y-b.Y
	bcx, bcy := c.X-b.X, c.Y-b.Y

	lens := math.Hypot(bax, bay) * math.Hypot(bcx, bcy)
	if lens == 0 {
		return 0
	}

	cos := mgl64.Clamp((bax*bcx+bay*bcy)/lens, -1, 1)
	angle := math.Acos(cos)

	if includeReflex {
		cross := bax*bcy - bay*bcx
		if cross < 0 {
			angle = 2*math.Pi - angle
		}
		if angle >= 2*math.Pi {
			angle = 0
		}
	}

	return angle
}

// Clamp limits v to [lo, hi]. NaN is returned unchanged so callers can
// detect it.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Finite reports whether v is neither NaN nor ±Inf.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
