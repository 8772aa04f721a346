package quadtree

// Quadrant indexes the children of an internal node.
type Quadrant int

const (
	NE Quadrant = iota
	NW
	SW
	SE
)

// descentOrder is the order children are tested in when looking for the one
// that contains a point. A point on a shared edge goes to the first match, so
// the center of a node always lands in NE.
var descentOrder = [4]Quadrant{NE, NW, SW, SE}

// inheritMask keeps the parent looseness on the two outer edges of each
// quadrant. Edges on the center lines are always strict.
var inheritMask = [4]RectLooseness{
	NE: {MaxX: true, MaxY: true},
	NW: {MinX: true, MaxY: true},
	SW: {MinX: true, MinY: true},
	SE: {MaxX: true, MinY: true},
}

func (q Quadrant) String() string {
	switch q {
	case NE:
		return "NE"
	case NW:
		return "NW"
	case SW:
		return "SW"
	case SE:
		return "SE"
	default:
		return "?"
	}
}

type node[T any] struct {
	rect   Rect
	parent *node[T]
	depth  int
	leaf   bool

	// Entries stored in the whole subtree.
	count int

	children [4]*node[T]
	entries  []Entry[T]
}

func newLeaf[T any](rect Rect, parent *node[T], depth int) *node[T] {
	return &node[T]{
		rect:   rect,
		parent: parent,
		depth:  depth,
		leaf:   true,
	}
}

func quadrantRect(r Rect, q Quadrant) Rect {
	c := r.Center()
	var lo, hi PointVector
	switch q {
	case NE:
		lo, hi = c, r.Max
	case NW:
		lo, hi = PointVector{X: r.Min.X, Y: c.Y}, PointVector{X: c.X, Y: r.Max.Y}
	case SW:
		lo, hi = r.Min, c
	case SE:
		lo, hi = PointVector{X: c.X, Y: r.Min.Y}, PointVector{X: r.Max.X, Y: c.Y}
	}
	return Rect{
		Min:       lo,
		Max:       hi,
		Looseness: r.Looseness.And(inheritMask[q]),
	}
}

// childFor returns the first child, in descent order, containing pos.
func (n *node[T]) childFor(pos PointVector) *node[T] {
	for _, q := range descentOrder {
		if c := n.children[q]; c.rect.Contains(pos) {
			return c
		}
	}
	return nil
}

// leafFor descends from n to the leaf that pos belongs to. It returns nil when
// no child along the way contains pos.
func (n *node[T]) leafFor(pos PointVector) *node[T] {
	for !n.leaf {
		if n = n.childFor(pos); n == nil {
			return nil
		}
	}
	return n
}

// split turns a leaf into an internal node and hands its entries to the four
// new children. The children are not split further even if one of them ends
// up over the threshold; that happens on the next insertion into it.
func (n *node[T]) split() {
	for _, q := range descentOrder {
		n.children[q] = newLeaf(quadrantRect(n.rect, q), n, n.depth+1)
	}

	for _, e := range n.entries {
		// The quadrants cover the parent rect, looseness included.
		c := n.childFor(e.Pos)
		c.entries = append(c.entries, e)
		c.count++
	}

	n.entries = nil
	n.leaf = false
}

// collapse splices the entries of four leaf children back into n.
func (n *node[T]) collapse() {
	entries := make([]Entry[T], 0, n.count)
	for _, q := range descentOrder {
		c := n.children[q]
		entries = append(entries, c.entries...)
		c.parent = nil
		n.children[q] = nil
	}

	n.entries = entries
	n.leaf = true
}

// compact drops the entries marked removed and detaches the ones that left
// the leaf rect. The leaf count is updated; ancestors still account for the
// detached entries until they are relocated.
func (n *node[T]) compact(detached []pending[T]) (int, []pending[T]) {
	removed := 0
	kept := n.entries[:0]
	for _, e := range n.entries {
		switch {
		case e.removed:
			removed++
		case !isFinite(e.Pos) || !n.rect.Contains(e.Pos):
			detached = append(detached, pending[T]{from: n, entry: e})
		default:
			kept = append(kept, e)
		}
	}

	clear(n.entries[len(kept):])
	n.entries = kept
	n.count = len(kept)
	return removed, detached
}

func (n *node[T]) addCount(delta int) {
	for ; n != nil; n = n.parent {
		n.count += delta
	}
}
