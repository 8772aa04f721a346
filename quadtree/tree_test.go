package quadtree

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testBounds = NewRect(PointVector{0, 0}, PointVector{100, 100})

func newTestTree(t *testing.T, split, merge int, opts ...Option) *Tree[int] {
	t.Helper()
	tree, err := New[int](testBounds, split, merge, opts...)
	require.NoError(t, err)
	return tree
}

// layout renders the shape of a tree, counts and entry order included.
func layout[T any](tree *Tree[T]) string {
	var b strings.Builder
	walk(tree.root, func(n *node[T]) {
		fmt.Fprintf(&b, "%d %v %v %d [", n.depth, n.rect.Min, n.leaf, n.count)
		for _, e := range n.entries {
			fmt.Fprintf(&b, "%v=%v ", e.Pos, e.Value)
		}
		b.WriteString("]\n")
	})
	return b.String()
}

func leafOf[T any](tree *Tree[T], match func(Entry[T]) bool) []*node[T] {
	var leaves []*node[T]
	walk(tree.root, func(n *node[T]) {
		for _, e := range n.entries {
			if match(e) {
				leaves = append(leaves, n)
			}
		}
	})
	return leaves
}

func collectValues(t *testing.T, tree *Tree[int], area Rect) []int {
	t.Helper()
	var values []int
	_, err := tree.QueryRect(area, func(entries []Entry[int]) {
		for _, e := range entries {
			values = append(values, e.Value)
		}
	})
	require.NoError(t, err)
	return values
}

func TestNewTree(t *testing.T) {
	t.Run("auto merge threshold", func(t *testing.T) {
		tree := newTestTree(t, 8, AutoMergeThreshold)
		require.Equal(t, 8, tree.splitThreshold)
		require.Equal(t, 4, tree.mergeThreshold)
		require.Equal(t, DefaultMaxDepth, tree.maxDepth)
		require.Equal(t, 0, tree.Len())
		require.Equal(t, testBounds, tree.Bounds())
	})

	t.Run("invalid configs", func(t *testing.T) {
		cases := []struct {
			name  string
			split int
			merge int
			opts  []Option
		}{
			{name: "zero split", split: 0, merge: 0},
			{name: "merge above split", split: 4, merge: 5},
			{name: "negative merge", split: 4, merge: -3},
			{name: "negative depth", split: 4, merge: 2, opts: []Option{WithMaxDepth(-1)}},
		}

		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				tree, err := New[int](testBounds, c.split, c.merge, c.opts...)
				require.Nil(t, tree)
				require.Error(t, err)
				require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
			})
		}
	})
}

func TestInsert(t *testing.T) {
	t.Run("out of bounds", func(t *testing.T) {
		tree := newTestTree(t, 4, 2)

		for _, p := range []PointVector{{-1, 50}, {50, 100.5}, {math.NaN(), 1}} {
			err := tree.Insert(p, 1)
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeOutOfBounds))
		}
		require.Equal(t, 0, tree.Len())
	})

	t.Run("split once over threshold", func(t *testing.T) {
		tree := newTestTree(t, 4, 2)

		points := []PointVector{{10, 10}, {90, 90}, {10, 90}, {90, 10}}
		for i, p := range points {
			require.NoError(t, tree.Insert(p, i))
		}
		require.True(t, tree.root.leaf)
		require.Equal(t, 4, tree.Len())

		require.NoError(t, tree.Insert(PointVector{20, 20}, 4))
		require.False(t, tree.root.leaf)
		require.Equal(t, 5, tree.Len())
		require.Equal(t, 1, tree.root.children[NE].count)
		require.Equal(t, 1, tree.root.children[NW].count)
		require.Equal(t, 2, tree.root.children[SW].count)
		require.Equal(t, 1, tree.root.children[SE].count)
		require.Empty(t, tree.root.entries)
		require.NoError(t, tree.Validate())

		stats := tree.Stats()
		require.Equal(t, uint64(1), stats.Splits)
		require.Equal(t, 5, stats.Nodes)
		require.Equal(t, 4, stats.Leaves)
		require.Equal(t, 1, stats.Depth)
		require.Equal(t, 5, stats.Entries)
	})

	t.Run("loose root edge", func(t *testing.T) {
		bounds := NewLooseRect(PointVector{0, 0}, PointVector{100, 100}, RectLooseness{MaxX: true})
		tree, err := New[int](bounds, 2, 1)
		require.NoError(t, err)

		require.NoError(t, tree.Insert(PointVector{150, 50}, 0))
		require.NoError(t, tree.Insert(PointVector{400, 10}, 1))
		require.NoError(t, tree.Insert(PointVector{10, 10}, 2))
		require.Error(t, tree.Insert(PointVector{-1, 10}, 3))
		require.Error(t, tree.Insert(PointVector{150, 101}, 3))

		require.False(t, tree.root.leaf)
		require.Len(t, tree.root.children[NE].entries, 1)
		require.Len(t, tree.root.children[SE].entries, 1)
		require.NoError(t, tree.Validate())
	})

	t.Run("max depth stops splitting", func(t *testing.T) {
		tree := newTestTree(t, 2, 1, WithMaxDepth(3))

		for i := 0; i < 50; i++ {
			require.NoError(t, tree.Insert(PointVector{70, 70}, i))
		}
		require.Equal(t, 50, tree.Len())
		require.Equal(t, 3, tree.Stats().Depth)
		require.Len(t, collectValues(t, tree, testBounds), 50)
		require.NoError(t, tree.Validate())
	})
}

func TestBoundaryTieBreak(t *testing.T) {
	tree := newTestTree(t, 2, 1)

	require.NoError(t, tree.Insert(PointVector{10, 10}, 1))
	require.NoError(t, tree.Insert(PointVector{90, 90}, 2))
	require.NoError(t, tree.Insert(PointVector{50, 50}, 3))
	require.False(t, tree.root.leaf)

	leaves := leafOf(tree, func(e Entry[int]) bool { return e.Value == 3 })
	require.Len(t, leaves, 1)
	require.Same(t, tree.root.children[NE], leaves[0])

	// Points on a center line go to the first quadrant of the descent order
	// containing them: SW before SE, NW before SW.
	require.NoError(t, tree.Insert(PointVector{50, 20}, 4))
	require.NoError(t, tree.Insert(PointVector{20, 50}, 5))

	leaves = leafOf(tree, func(e Entry[int]) bool { return e.Value == 4 })
	require.Len(t, leaves, 1)
	require.Same(t, tree.root.children[SW], leaves[0])

	leaves = leafOf(tree, func(e Entry[int]) bool { return e.Value == 5 })
	require.Len(t, leaves, 1)
	require.Same(t, tree.root.children[NW], leaves[0])

	values := collectValues(t, tree, testBounds)
	require.ElementsMatch(t, []int{1, 2, 3, 4, 5}, values)
	require.NoError(t, tree.Validate())
}

func TestRoundTrip(t *testing.T) {
	tree := newTestTree(t, 8, AutoMergeThreshold)
	rng := rand.New(rand.NewSource(42))

	seen := make(map[PointVector]bool)
	var expected []int
	for len(expected) < 1000 {
		p := PointVector{rng.Float64() * 100, rng.Float64() * 100}
		if seen[p] {
			continue
		}
		seen[p] = true
		require.NoError(t, tree.Insert(p, len(expected)))
		expected = append(expected, len(expected))
	}

	require.Equal(t, 1000, tree.Len())
	require.NoError(t, tree.Validate())
	require.ElementsMatch(t, expected, collectValues(t, tree, testBounds))

	t.Run("partial area", func(t *testing.T) {
		area := NewRect(PointVector{20, 30}, PointVector{45, 80})

		want := 0
		for p := range seen {
			if area.Contains(p) {
				want++
			}
		}

		got := 0
		_, err := tree.QueryEach(area, func(e *Entry[int]) {
			got++
		})
		require.NoError(t, err)
		require.NotZero(t, got)
		require.Equal(t, want, got)
	})
}

func TestNoOpQueryIsIdempotent(t *testing.T) {
	tree := newTestTree(t, 4, 2)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		require.NoError(t, tree.Insert(PointVector{rng.Float64() * 100, rng.Float64() * 100}, i))
	}

	before := layout(tree)
	area := NewRect(PointVector{10, 10}, PointVector{60, 75})

	for i := 0; i < 2; i++ {
		res, err := tree.QueryRect(area, func(entries []Entry[int]) {})
		require.NoError(t, err)
		require.NotZero(t, res.Visited)
		require.Zero(t, res.Removed)
		require.Zero(t, res.Relocated)
		require.Equal(t, before, layout(tree))
	}
}

func TestEmptyQuery(t *testing.T) {
	tree := newTestTree(t, 4, 2)

	called := false
	res, err := tree.QueryRect(testBounds, func(entries []Entry[int]) { called = true })
	require.NoError(t, err)
	require.False(t, called)
	require.Zero(t, res.Leaves)

	require.NoError(t, tree.Insert(PointVector{10, 10}, 1))
	res, err = tree.QueryRect(NewRect(PointVector{200, 200}, PointVector{300, 300}), func(entries []Entry[int]) { called = true })
	require.NoError(t, err)
	require.False(t, called)
	require.Zero(t, res.Leaves)
}

func TestRelocationBoundedWalk(t *testing.T) {
	tree := newTestTree(t, 4, 1)

	cluster := []PointVector{{60, 60}, {70, 70}, {80, 60}, {60, 80}, {90, 90}}
	for i, p := range cluster {
		require.NoError(t, tree.Insert(p, i))
	}
	require.Equal(t, uint64(1), tree.Stats().Splits)

	ne := tree.root.children[NE]
	nw := tree.root.children[NW]
	require.True(t, ne.leaf)
	require.Equal(t, 5, ne.count)
	require.Equal(t, 0, nw.count)

	// Nudge (60, 60) over the x = 50 center line.
	res, err := tree.QueryEach(RectAround(PointVector{60, 60}, 1), func(e *Entry[int]) {
		e.Pos = e.Pos.Add(PointVector{-12, 0})
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Relocated)
	require.Empty(t, res.Dropped)

	require.Equal(t, 5, tree.root.count)
	require.Equal(t, 4, ne.count)
	require.Equal(t, 1, nw.count)
	require.Equal(t, []Entry[int]{{Pos: PointVector{48, 60}, Value: 0}}, nw.entries)
	require.Equal(t, uint64(1), tree.Stats().Relocations)
	require.NoError(t, tree.Validate())
}

func TestRelocationStaysOnSharedEdge(t *testing.T) {
	tree := newTestTree(t, 2, 0)

	require.NoError(t, tree.Insert(PointVector{20, 60}, 1))
	require.NoError(t, tree.Insert(PointVector{80, 80}, 2))
	require.NoError(t, tree.Insert(PointVector{80, 20}, 3))
	nw := tree.root.children[NW]
	require.Len(t, nw.entries, 1)

	// Moving onto the edge shared with NE keeps the entry where it is even
	// though a fresh insertion there would pick NE.
	res, err := tree.QueryRect(nw.rect, func(entries []Entry[int]) {
		for i := range entries {
			if entries[i].Value == 1 {
				entries[i].Pos = PointVector{50, 60}
			}
		}
	})
	require.NoError(t, err)
	require.Zero(t, res.Relocated)
	require.Len(t, nw.entries, 1)
	require.NoError(t, tree.Validate())
}

func TestRelocationAcrossTree(t *testing.T) {
	tree := newTestTree(t, 2, 0)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 64; i++ {
		require.NoError(t, tree.Insert(PointVector{50 + rng.Float64()*50, 50 + rng.Float64()*50}, i))
	}
	require.NoError(t, tree.Insert(PointVector{99, 99}, 1000))

	res, err := tree.QueryEach(RectAround(PointVector{99, 99}, 0.5), func(e *Entry[int]) {
		if e.Value == 1000 {
			e.Pos = PointVector{1, 1}
		}
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Relocated)

	leaves := leafOf(tree, func(e Entry[int]) bool { return e.Value == 1000 })
	require.Len(t, leaves, 1)
	require.Same(t, tree.root.children[SW], leaves[0])
	require.Equal(t, 65, tree.Len())
	require.Equal(t, 64, tree.root.children[NE].count)
	require.NoError(t, tree.Validate())
}

func TestRelocationSplitsFullLeaf(t *testing.T) {
	tree := newTestTree(t, 2, 0)

	points := []PointVector{{10, 10}, {20, 20}, {30, 30}, {90, 90}}
	for i, p := range points {
		require.NoError(t, tree.Insert(p, i))
	}
	sw := tree.root.children[SW]
	require.True(t, sw.leaf)
	require.Equal(t, 3, sw.count)

	// The root split only went one level deep and left SW over the threshold;
	// the next entry spliced in splits it.
	res, err := tree.QueryEach(RectAround(PointVector{90, 90}, 1), func(e *Entry[int]) {
		e.Pos = PointVector{40, 40}
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Relocated)
	require.False(t, sw.leaf)
	require.Equal(t, 4, sw.count)
	require.NoError(t, tree.Validate())
}

func TestRelocationOutsideRootDrops(t *testing.T) {
	tree := newTestTree(t, 2, 0)
	for i, p := range []PointVector{{10, 10}, {90, 90}, {80, 80}, {20, 70}} {
		require.NoError(t, tree.Insert(p, i))
	}

	res, err := tree.QueryEach(RectAround(PointVector{90, 90}, 1), func(e *Entry[int]) {
		e.Pos = PointVector{150, 90}
	})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeOutOfBounds))
	require.Len(t, res.Dropped, 1)
	require.Equal(t, 1, res.Dropped[0].Value)
	require.Equal(t, PointVector{150, 90}, res.Dropped[0].Pos)
	require.Equal(t, 3, tree.Len())
	require.Equal(t, uint64(1), tree.Stats().Drops)
	require.NoError(t, tree.Validate())

	require.NotContains(t, collectValues(t, tree, testBounds), 1)

	t.Run("non finite position", func(t *testing.T) {
		res, err := tree.QueryEach(RectAround(PointVector{10, 10}, 1), func(e *Entry[int]) {
			e.Pos = PointVector{math.NaN(), 10}
		})
		require.Error(t, err)
		require.Len(t, res.Dropped, 1)
		require.Equal(t, 2, tree.Len())
		require.NoError(t, tree.Validate())
	})
}

func TestRemove(t *testing.T) {
	tree := newTestTree(t, 4, 0)
	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert(PointVector{float64(i * 10), float64(i * 10)}, i))
	}

	res, err := tree.QueryRect(testBounds, func(entries []Entry[int]) {
		for i := range entries {
			if entries[i].Value%2 == 0 {
				entries[i].Remove()
				require.True(t, entries[i].Removed())
			}
		}
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.Removed)
	require.Equal(t, 10, res.Visited)
	require.Equal(t, 5, tree.Len())
	require.ElementsMatch(t, []int{1, 3, 5, 7, 9}, collectValues(t, tree, testBounds))
	require.NoError(t, tree.Validate())
}

func TestMergeAfterDepopulation(t *testing.T) {
	tree := newTestTree(t, 4, 2)

	points := []PointVector{
		{10, 10}, {20, 80}, {80, 20},
		{60, 60}, {65, 65}, {90, 60}, {95, 65},
		{60, 90}, {65, 95}, {90, 90}, {95, 95},
	}
	for i, p := range points {
		require.NoError(t, tree.Insert(p, i))
	}

	ne := tree.root.children[NE]
	require.False(t, ne.leaf)
	require.Equal(t, 8, ne.count)
	require.NoError(t, tree.Validate())

	keep := map[PointVector]bool{{60, 60}: true, {90, 90}: true}
	neArea := NewRect(PointVector{50, 50}, PointVector{100, 100})
	res, err := tree.QueryEach(neArea, func(e *Entry[int]) {
		if !keep[e.Pos] {
			e.Remove()
		}
	})
	require.NoError(t, err)
	require.Equal(t, 6, res.Removed)

	require.True(t, ne.leaf)
	require.Equal(t, 2, ne.count)
	require.ElementsMatch(t, []PointVector{{60, 60}, {90, 90}}, []PointVector{ne.entries[0].Pos, ne.entries[1].Pos})
	require.Nil(t, ne.children[NE])
	require.False(t, tree.root.leaf)
	require.Equal(t, 5, tree.Len())
	require.Equal(t, uint64(1), tree.Stats().Merges)
	require.NoError(t, tree.Validate())

	t.Run("collapse to a single leaf", func(t *testing.T) {
		_, err := tree.QueryEach(testBounds, func(e *Entry[int]) {
			if e.Pos != (PointVector{10, 10}) && e.Pos != (PointVector{90, 90}) {
				e.Remove()
			}
		})
		require.NoError(t, err)
		require.True(t, tree.root.leaf)
		require.Equal(t, 2, tree.Len())
		require.Len(t, tree.root.entries, 2)

		stats := tree.Stats()
		require.Equal(t, 1, stats.Nodes)
		require.Equal(t, 1, stats.Leaves)
		require.Equal(t, 0, stats.Depth)
		require.NoError(t, tree.Validate())
	})
}

func TestMergeThresholdHysteresis(t *testing.T) {
	tree := newTestTree(t, 4, 2)
	for i, p := range []PointVector{{10, 10}, {90, 90}, {10, 90}, {90, 10}, {20, 20}} {
		require.NoError(t, tree.Insert(p, i))
	}
	require.False(t, tree.root.leaf)

	// Dropping back to the split threshold does not merge.
	_, err := tree.QueryEach(RectAround(PointVector{20, 20}, 1), func(e *Entry[int]) { e.Remove() })
	require.NoError(t, err)
	require.False(t, tree.root.leaf)
	require.Equal(t, 4, tree.Len())

	_, err = tree.QueryEach(RectAround(PointVector{10, 10}, 1), func(e *Entry[int]) { e.Remove() })
	require.NoError(t, err)
	require.False(t, tree.root.leaf)

	_, err = tree.QueryEach(RectAround(PointVector{90, 90}, 1), func(e *Entry[int]) { e.Remove() })
	require.NoError(t, err)
	require.True(t, tree.root.leaf)
	require.Equal(t, 2, tree.Len())
}

func TestClear(t *testing.T) {
	tree := newTestTree(t, 2, 1)
	for i := 0; i < 30; i++ {
		require.NoError(t, tree.Insert(PointVector{float64(i * 3), float64(100 - i*3)}, i))
	}
	require.False(t, tree.root.leaf)

	tree.Clear()
	require.True(t, tree.root.leaf)
	require.Equal(t, 0, tree.Len())
	require.Empty(t, collectValues(t, tree, testBounds))

	stats := tree.Stats()
	require.Equal(t, 1, stats.Nodes)
	require.Equal(t, 1, stats.Leaves)
	require.NoError(t, tree.Validate())

	require.NoError(t, tree.Insert(PointVector{5, 5}, 1))
	require.Equal(t, 1, tree.Len())
}

func TestValidateDetectsCorruption(t *testing.T) {
	tree := newTestTree(t, 2, 1)
	for i, p := range []PointVector{{10, 10}, {90, 90}, {80, 20}} {
		require.NoError(t, tree.Insert(p, i))
	}
	require.NoError(t, tree.Validate())

	tree.root.count++
	err := tree.Validate()
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeCorrupted))
	tree.root.count--

	ne := tree.root.children[NE]
	ne.entries[0].Pos = PointVector{1, 1}
	require.True(t, errors.IsType(tree.Validate(), ErrTypeCorrupted))
}

func TestRandomizedOperationsKeepInvariants(t *testing.T) {
	tree := newTestTree(t, 6, 3, WithMaxDepth(8))
	rng := rand.New(rand.NewSource(1234))

	live := 0
	next := 0
	for round := 0; round < 300; round++ {
		for i := rng.Intn(8); i > 0; i-- {
			require.NoError(t, tree.Insert(PointVector{rng.Float64() * 100, rng.Float64() * 100}, next))
			next++
			live++
		}

		area := RectAround(PointVector{rng.Float64() * 100, rng.Float64() * 100}, 5+rng.Float64()*40)
		res, err := tree.QueryEach(area, func(e *Entry[int]) {
			switch rng.Intn(4) {
			case 0:
				e.Remove()
			case 1:
				// Keep moves inside the bounds so nothing is dropped.
				e.Pos = PointVector{rng.Float64() * 100, rng.Float64() * 100}
			case 2:
				e.Pos = e.Pos.Add(PointVector{rng.Float64() - 0.5, rng.Float64() - 0.5})
				if !testBounds.Contains(e.Pos) {
					e.Remove()
				}
			}
		})
		require.NoError(t, err)
		live -= res.Removed

		require.Equal(t, live, tree.Len(), "round %d", round)
		require.NoError(t, tree.Validate(), "round %d", round)
	}

	require.Len(t, collectValues(t, tree, testBounds), live)
}
