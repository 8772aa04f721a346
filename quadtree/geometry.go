package quadtree

import (
	"math"
	"strconv"
)

// PointVector is a position or displacement in the plane.
type PointVector struct {
	X float64
	Y float64
}

func (p PointVector) Add(o PointVector) PointVector {
	return PointVector{X: p.X + o.X, Y: p.Y + o.Y}
}

func (p PointVector) Sub(o PointVector) PointVector {
	return PointVector{X: p.X - o.X, Y: p.Y - o.Y}
}

func (p PointVector) Scale(s float64) PointVector {
	return PointVector{X: p.X * s, Y: p.Y * s}
}

// Div divides both components by s. Dividing by zero yields NaN components so
// the result is never contained by any rect.
func (p PointVector) Div(s float64) PointVector {
	if s == 0 {
		return PointVector{X: math.NaN(), Y: math.NaN()}
	}
	return PointVector{X: p.X / s, Y: p.Y / s}
}

func (p PointVector) Neg() PointVector {
	return PointVector{X: -p.X, Y: -p.Y}
}

func (p PointVector) Dot(o PointVector) float64 {
	return p.X*o.X + p.Y*o.Y
}

func (p PointVector) Length() float64 {
	return math.Sqrt(p.Dot(p))
}

// Rotate turns the vector counter-clockwise by angle radians.
func (p PointVector) Rotate(angle float64) PointVector {
	sin, cos := math.Sincos(angle)
	return PointVector{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
	}
}

func (p PointVector) String() string {
	return "[" + strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64) + "]"
}

// RectLooseness flags the edges of a Rect whose bound is ignored by
// containment and intersection tests.
type RectLooseness struct {
	MinX bool
	MaxX bool
	MinY bool
	MaxY bool
}

var (
	// Strict bounds every edge.
	Strict = RectLooseness{}

	// Loose leaves every edge unbounded.
	Loose = RectLooseness{MinX: true, MaxX: true, MinY: true, MaxY: true}
)

func (l RectLooseness) Or(o RectLooseness) RectLooseness {
	return RectLooseness{
		MinX: l.MinX || o.MinX,
		MaxX: l.MaxX || o.MaxX,
		MinY: l.MinY || o.MinY,
		MaxY: l.MaxY || o.MaxY,
	}
}

func (l RectLooseness) And(o RectLooseness) RectLooseness {
	return RectLooseness{
		MinX: l.MinX && o.MinX,
		MaxX: l.MaxX && o.MaxX,
		MinY: l.MinY && o.MinY,
		MaxY: l.MaxY && o.MaxY,
	}
}

// Rect is an axis-aligned rectangle with closed bounds.
type Rect struct {
	Min       PointVector
	Max       PointVector
	Looseness RectLooseness
}

// NewRect returns the strict rectangle spanned by two opposite corners.
func NewRect(a, b PointVector) Rect {
	return NewLooseRect(a, b, Strict)
}

// NewLooseRect returns the rectangle spanned by two opposite corners with the
// given looseness.
func NewLooseRect(a, b PointVector, l RectLooseness) Rect {
	return Rect{
		Min:       PointVector{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Max:       PointVector{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)},
		Looseness: l,
	}
}

// RectAround returns the strict square of the given half extent centered on c.
func RectAround(c PointVector, halfExtent float64) Rect {
	d := PointVector{X: halfExtent, Y: halfExtent}
	return NewRect(c.Sub(d), c.Add(d))
}

func (r Rect) Center() PointVector {
	return PointVector{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

func (r Rect) Width() float64 {
	return r.Max.X - r.Min.X
}

func (r Rect) Height() float64 {
	return r.Max.Y - r.Min.Y
}

// Contains reports whether p lies within r, skipping loose edges.
func (r Rect) Contains(p PointVector) bool {
	l := r.Looseness
	return (l.MinX || p.X >= r.Min.X) &&
		(l.MaxX || p.X <= r.Max.X) &&
		(l.MinY || p.Y >= r.Min.Y) &&
		(l.MaxY || p.Y <= r.Max.Y)
}

// Intersects reports whether r and o overlap. An axis only separates the two
// rects when both facing edges are strict and the projections do not touch.
func (r Rect) Intersects(o Rect) bool {
	if !r.Looseness.MaxX && !o.Looseness.MinX && r.Max.X < o.Min.X {
		return false
	}
	if !o.Looseness.MaxX && !r.Looseness.MinX && o.Max.X < r.Min.X {
		return false
	}
	if !r.Looseness.MaxY && !o.Looseness.MinY && r.Max.Y < o.Min.Y {
		return false
	}
	if !o.Looseness.MaxY && !r.Looseness.MinY && o.Max.Y < r.Min.Y {
		return false
	}
	return true
}
