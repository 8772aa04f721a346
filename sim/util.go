package sim

import (
	"math"
	"math/rand"

	"github.com/google/uuid"

	"z4-server/quadtree"
)

// NewID returns a random object identifier.
func NewID() string {
	return uuid.NewString()
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPoint moves p to the closest point of r.
func ClampPoint(p quadtree.PointVector, r quadtree.Rect) quadtree.PointVector {
	return quadtree.PointVector{
		X: Clamp(p.X, r.Min.X, r.Max.X),
		Y: Clamp(p.Y, r.Min.Y, r.Max.Y),
	}
}

// randomPoint returns a point of r at least margin away from its edges.
func randomPoint(r quadtree.Rect, margin float64) quadtree.PointVector {
	margin = math.Min(margin, math.Min(r.Width(), r.Height())/2)
	return quadtree.PointVector{
		X: r.Min.X + margin + rand.Float64()*(r.Width()-2*margin),
		Y: r.Min.Y + margin + rand.Float64()*(r.Height()-2*margin),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
