package sim

import (
	"math"

	"z4-server/quadtree"
)

// CheckCollision checks if two circles overlap.
func CheckCollision(a quadtree.PointVector, ra float64, b quadtree.PointVector, rb float64) bool {
	d := b.Sub(a)
	radSum := ra + rb
	return d.Dot(d) <= radSum*radSum
}

// segmentCircleIntersect checks if the segment p1-p2 touches the circle at c
// with radius r.
func segmentCircleIntersect(p1, p2, c quadtree.PointVector, r float64) bool {
	d := p2.Sub(p1)
	f := p1.Sub(c)

	a := d.Dot(d)
	if a == 0 {
		return f.Dot(f) <= r*r
	}
	b := 2 * f.Dot(d)
	cc := f.Dot(f) - r*r

	discriminant := b*b - 4*a*cc
	if discriminant < 0 {
		return false
	}
	discriminant = math.Sqrt(discriminant)
	t1 := (-b - discriminant) / (2 * a)
	t2 := (-b + discriminant) / (2 * a)
	return (t1 >= 0 && t1 <= 1) || (t2 >= 0 && t2 <= 1) || (t1 <= 0 && t2 >= 1)
}

// segmentBounds returns the bounding box of the segment p1-p2 grown by pad on
// every side.
func segmentBounds(p1, p2 quadtree.PointVector, pad float64) quadtree.Rect {
	r := quadtree.NewRect(p1, p2)
	return quadtree.NewRect(
		quadtree.PointVector{X: r.Min.X - pad, Y: r.Min.Y - pad},
		quadtree.PointVector{X: r.Max.X + pad, Y: r.Max.Y + pad},
	)
}
