// Package quadtree implements a loose quadtree: a 2D spatial index whose range
// queries may move or delete the entries they visit. Moved entries are
// relocated by walking up from their old leaf to the nearest ancestor that
// contains them, then back down, and regions split and merge as their
// population crosses the configured thresholds.
//
// A Tree is not safe for concurrent use.
package quadtree

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// DefaultMaxDepth is the depth below which leaves stop splitting.
	DefaultMaxDepth = 16

	// AutoMergeThreshold makes New use half of the split threshold.
	AutoMergeThreshold = -1
)

// Entry is a positioned value stored in a leaf.
type Entry[T any] struct {
	Pos   PointVector
	Value T

	removed bool
}

// Remove marks the entry for deletion. It is erased once the visitor that
// received it returns.
func (e *Entry[T]) Remove() {
	e.removed = true
}

func (e *Entry[T]) Removed() bool {
	return e.removed
}

// Visitor receives the entries of one leaf. It may change their positions and
// mark them removed. The slice is only valid during the call.
type Visitor[T any] func(entries []Entry[T])

// QueryResult summarizes what a QueryRect call did.
type QueryResult[T any] struct {
	Leaves    int
	Visited   int
	Removed   int
	Relocated int

	// Entries moved outside of the tree bounds. They are no longer stored.
	Dropped []Entry[T]
}

// Stats describes the shape of a tree and what happened to it since it was
// created.
type Stats struct {
	Entries     int    `json:"entries"`
	Nodes       int    `json:"nodes"`
	Leaves      int    `json:"leaves"`
	Depth       int    `json:"depth"`
	Splits      uint64 `json:"splits"`
	Merges      uint64 `json:"merges"`
	Relocations uint64 `json:"relocations"`
	Drops       uint64 `json:"drops"`
}

// Option customizes a Tree.
type Option func(*options)

type options struct {
	maxDepth int
}

// WithMaxDepth sets the depth at which leaves stop splitting.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		o.maxDepth = depth
	}
}

// Tree is a loose quadtree holding values of type T.
type Tree[T any] struct {
	bounds         Rect
	root           *node[T]
	splitThreshold int
	mergeThreshold int
	maxDepth       int
	stats          Stats
}

type pending[T any] struct {
	from  *node[T]
	entry Entry[T]
}

// New creates a tree covering bounds. A leaf splits once it holds more than
// splitThreshold entries; an internal node collapses back into a leaf once its
// subtree holds mergeThreshold entries or fewer.
func New[T any](bounds Rect, splitThreshold, mergeThreshold int, opts ...Option) (*Tree[T], error) {
	o := options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}

	if mergeThreshold == AutoMergeThreshold {
		mergeThreshold = splitThreshold / 2
	}

	switch {
	case splitThreshold < 1:
		return nil, errors.New("split threshold must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("split_threshold", splitThreshold)

	case mergeThreshold < 0 || mergeThreshold > splitThreshold:
		return nil, errors.New("merge threshold must be between 0 and the split threshold").
			WithType(ErrTypeInvalidConfig).
			WithTag("split_threshold", splitThreshold).
			WithTag("merge_threshold", mergeThreshold)

	case o.maxDepth < 0:
		return nil, errors.New("max depth must not be negative").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_depth", o.maxDepth)

	case math.IsNaN(bounds.Min.X) || math.IsNaN(bounds.Min.Y) ||
		math.IsNaN(bounds.Max.X) || math.IsNaN(bounds.Max.Y):
		return nil, errors.New("bounds must not be NaN").
			WithType(ErrTypeInvalidConfig)
	}

	bounds = NewLooseRect(bounds.Min, bounds.Max, bounds.Looseness)

	return &Tree[T]{
		bounds:         bounds,
		root:           newLeaf[T](bounds, nil, 0),
		splitThreshold: splitThreshold,
		mergeThreshold: mergeThreshold,
		maxDepth:       o.maxDepth,
		stats: Stats{
			Nodes:  1,
			Leaves: 1,
		},
	}, nil
}

func (t *Tree[T]) Bounds() Rect {
	return t.bounds
}

// Len returns the number of stored entries.
func (t *Tree[T]) Len() int {
	return t.root.count
}

// Insert stores value at pos. It fails with an ErrTypeOutOfBounds error when
// pos is outside of the tree bounds.
func (t *Tree[T]) Insert(pos PointVector, value T) error {
	var leaf *node[T]
	if t.accepts(pos) {
		leaf = t.root.leafFor(pos)
	}
	if leaf == nil {
		return errors.New("position is outside of the tree bounds").
			WithType(ErrTypeOutOfBounds).
			WithTag("position", pos.String())
	}

	leaf.entries = append(leaf.entries, Entry[T]{Pos: pos, Value: value})
	leaf.addCount(1)
	t.splitIfFull(leaf)
	return nil
}

// QueryRect calls visit with the entries of every non-empty leaf intersecting
// area. Once every leaf has been visited, entries marked removed are erased
// and entries whose position left their leaf are moved to the leaf that now
// contains them. Entries moved outside of the tree bounds are dropped and
// reported in the result along with an ErrTypeOutOfBounds error.
func (t *Tree[T]) QueryRect(area Rect, visit Visitor[T]) (QueryResult[T], error) {
	var res QueryResult[T]

	leaves := collectLeaves(t.root, area, nil)
	if len(leaves) == 0 {
		return res, nil
	}

	var detached []pending[T]
	for _, leaf := range leaves {
		res.Leaves++
		res.Visited += len(leaf.entries)
		visit(leaf.entries)

		var removed int
		removed, detached = leaf.compact(detached)
		leaf.parent.addCount(-removed)
		res.Removed += removed
	}

	for _, p := range detached {
		if t.relocate(p) {
			res.Relocated++
			continue
		}
		res.Dropped = append(res.Dropped, p.entry)
	}

	t.mergeSweep(t.root, area)

	if len(res.Dropped) != 0 {
		return res, errors.New("entries moved outside of the tree bounds").
			WithType(ErrTypeOutOfBounds).
			WithTag("dropped", len(res.Dropped))
	}
	return res, nil
}

// QueryEach calls fn for every entry whose position is inside area. It follows
// the same rules as QueryRect.
func (t *Tree[T]) QueryEach(area Rect, fn func(e *Entry[T])) (QueryResult[T], error) {
	return t.QueryRect(area, func(entries []Entry[T]) {
		for i := range entries {
			if area.Contains(entries[i].Pos) {
				fn(&entries[i])
			}
		}
	})
}

// Clear removes every entry and collapses the tree to a single leaf.
func (t *Tree[T]) Clear() {
	t.root = newLeaf[T](t.bounds, nil, 0)
	t.stats.Nodes = 1
	t.stats.Leaves = 1
}

// Stats returns the current shape of the tree and its lifetime counters.
func (t *Tree[T]) Stats() Stats {
	s := t.stats
	s.Entries = t.root.count
	walk(t.root, func(n *node[T]) {
		if n.depth > s.Depth {
			s.Depth = n.depth
		}
	})
	return s
}

// Validate walks the whole tree and checks the count, containment and shape
// invariants. It returns an ErrTypeCorrupted error describing the first
// violation found.
func (t *Tree[T]) Validate() error {
	var err error
	walk(t.root, func(n *node[T]) {
		if err == nil {
			err = validateNode(n)
		}
	})
	return err
}

func (t *Tree[T]) accepts(pos PointVector) bool {
	return isFinite(pos) && t.root.rect.Contains(pos)
}

func (t *Tree[T]) splitIfFull(leaf *node[T]) {
	if leaf.count <= t.splitThreshold || leaf.depth >= t.maxDepth {
		return
	}
	leaf.split()
	t.stats.Splits++
	t.stats.Nodes += 4
	t.stats.Leaves += 3
}

// relocate walks up from the leaf an entry was detached from until it finds a
// node containing the new position, uncounting the entry from every node it
// leaves behind, then descends from there.
func (t *Tree[T]) relocate(p pending[T]) bool {
	pos := p.entry.Pos

	n := p.from.parent
	for n != nil && !(isFinite(pos) && n.rect.Contains(pos)) {
		n.count--
		n = n.parent
	}
	if n == nil {
		t.stats.Drops++
		return false
	}

	leaf := n.leafFor(pos)
	if leaf == nil {
		n.addCount(-1)
		t.stats.Drops++
		return false
	}

	for m := leaf; m != n; m = m.parent {
		m.count++
	}
	leaf.entries = append(leaf.entries, p.entry)
	t.splitIfFull(leaf)
	t.stats.Relocations++
	return true
}

// mergeSweep collapses, bottom-up, the internal nodes intersecting area whose
// subtree population fell to the merge threshold.
func (t *Tree[T]) mergeSweep(n *node[T], area Rect) {
	if n.leaf {
		return
	}

	for _, c := range n.children {
		if c.rect.Intersects(area) || c.count <= t.mergeThreshold {
			t.mergeSweep(c, area)
		}
	}

	if n.count > t.mergeThreshold {
		return
	}
	for _, c := range n.children {
		if !c.leaf {
			return
		}
	}

	n.collapse()
	t.stats.Merges++
	t.stats.Nodes -= 4
	t.stats.Leaves -= 3
}

func collectLeaves[T any](n *node[T], area Rect, leaves []*node[T]) []*node[T] {
	if !n.rect.Intersects(area) {
		return leaves
	}
	if n.leaf {
		if len(n.entries) != 0 {
			leaves = append(leaves, n)
		}
		return leaves
	}
	for _, q := range descentOrder {
		leaves = collectLeaves(n.children[q], area, leaves)
	}
	return leaves
}

func walk[T any](n *node[T], fn func(*node[T])) {
	fn(n)
	if n.leaf {
		return
	}
	for _, q := range descentOrder {
		walk(n.children[q], fn)
	}
}

func validateNode[T any](n *node[T]) error {
	if n.leaf {
		if n.count != len(n.entries) {
			return errors.New("leaf count does not match its entries").
				WithType(ErrTypeCorrupted).
				WithTag("depth", n.depth).
				WithTag("count", n.count).
				WithTag("entries", len(n.entries))
		}
		for _, e := range n.entries {
			if !n.rect.Contains(e.Pos) {
				return errors.New("entry is outside of its leaf").
					WithType(ErrTypeCorrupted).
					WithTag("depth", n.depth).
					WithTag("position", e.Pos.String())
			}
		}
		return nil
	}

	if len(n.entries) != 0 {
		return errors.New("internal node holds entries").
			WithType(ErrTypeCorrupted).
			WithTag("depth", n.depth).
			WithTag("entries", len(n.entries))
	}

	sum := 0
	for _, c := range n.children {
		if c == nil || c.parent != n {
			return errors.New("internal node has a detached child").
				WithType(ErrTypeCorrupted).
				WithTag("depth", n.depth)
		}
		sum += c.count
	}
	if sum != n.count {
		return errors.New("internal node count does not match its children").
			WithType(ErrTypeCorrupted).
			WithTag("depth", n.depth).
			WithTag("count", n.count).
			WithTag("children_count", sum)
	}
	return nil
}

func isFinite(p PointVector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
