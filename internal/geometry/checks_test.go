package geometry_test

import (
	"testing"

	"github.com/GeoRegistry/GR-Backend/internal/geometry"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square returns a closed unit-square scaled polygon with min corner (x, y)
// and side length side.
func square(x, y, side float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + side, y}, {x + side, y + side}, {x, y + side}, {x, y},
	}}
}

func mustShape(t *testing.T, g orb.Geometry) *geometry.Shape {
	t.Helper()
	s, err := geometry.NewShape(g)
	require.NoError(t, err)
	return s
}

func sibs(t *testing.T, polys map[string]orb.Polygon) []geometry.Sibling {
	t.Helper()
	var out []geometry.Sibling
	for code, p := range polys {
		out = append(out, geometry.Sibling{Code: code, Shape: mustShape(t, p)})
	}
	return out
}

func TestNewShape_RejectsDegenerateInput(t *testing.T) {
	cases := map[string]orb.Geometry{
		"point":       orb.Point{1, 1},
		"line":        orb.LineString{{0, 0}, {1, 1}},
		"short ring":  orb.Polygon{{{0, 0}, {1, 0}, {0, 0}}},
		"empty":       orb.Polygon{},
		"zero area":   orb.Polygon{{{0, 0}, {1, 0}, {2, 0}, {0, 0}}},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := geometry.NewShape(g)
			assert.ErrorIs(t, err, geometry.ErrDegeneratePolygon)
		})
	}
}

func TestSelfIntersects(t *testing.T) {
	// Bowtie: the two diagonal edges cross at (1, 1).
	bowtie := orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}}
	s, err := geometry.NewShape(bowtie)
	require.NoError(t, err, "self-intersecting input should repair, not fail")

	bad, reason := geometry.SelfIntersects(s)
	assert.True(t, bad)
	assert.Contains(t, reason, "Self-intersection")

	// The repaired geometry still has usable area for downstream math.
	assert.InDelta(t, 2.0, s.Area(), 0.001)

	clean := mustShape(t, square(0, 0, 1))
	bad, _ = geometry.SelfIntersects(clean)
	assert.False(t, bad)
}

func TestSelfContact(t *testing.T) {
	// A notch whose tip passes within 0.01 of the bottom edge.
	pinched := orb.Polygon{{
		{0, 0}, {4, 0}, {4, 3}, {2.1, 3}, {2, 0.005}, {1.9, 3}, {0, 3}, {0, 0},
	}}
	s := mustShape(t, pinched)
	assert.Greater(t, geometry.SelfContact(s, 0.01), 0)

	clean := mustShape(t, square(0, 0, 1))
	assert.Equal(t, 0, geometry.SelfContact(clean, 0.01))
}

func TestDuplicateNodes(t *testing.T) {
	withDupe := orb.Polygon{{
		{0, 0}, {1, 0}, {1, 0.0000001}, {1, 1}, {0, 1}, {0, 0},
	}}
	s := mustShape(t, withDupe)
	assert.Equal(t, 1, geometry.DuplicateNodes(s, 0.001))

	clean := mustShape(t, square(0, 0, 1))
	assert.Equal(t, 0, geometry.DuplicateNodes(clean, 0.001))
}

func TestDuplicate(t *testing.T) {
	s := mustShape(t, square(0, 0, 1))
	others := []geometry.Sibling{
		{Code: "A", Shape: mustShape(t, square(0, 0, 1))}, // identical geometry
		{Code: "B", Shape: mustShape(t, square(5, 5, 1))},
	}

	dup := geometry.Duplicate(s, "self", others)
	require.NotNil(t, dup)
	assert.Equal(t, "A", dup.Code)

	// The feature must not report itself as its own duplicate.
	assert.Nil(t, geometry.Duplicate(s, "A", others[:1]))
}

func TestContainedBy(t *testing.T) {
	inner := mustShape(t, square(1, 1, 1))
	others := sibs(t, map[string]orb.Polygon{
		"big": square(0, 0, 4),
		"far": square(10, 10, 1),
	})

	owner := geometry.ContainedBy(inner, "inner", others)
	require.NotNil(t, owner)
	assert.Equal(t, "big", owner.Code)

	// An exact duplicate is not "contained": that is the duplicate check's job.
	twin := sibs(t, map[string]orb.Polygon{"twin": square(1, 1, 1)})
	assert.Nil(t, geometry.ContainedBy(inner, "inner", twin))
}

func TestCoveredByParent(t *testing.T) {
	parent := mustShape(t, square(0, 0, 10))

	inside := mustShape(t, square(2, 2, 3))
	assert.True(t, geometry.CoveredByParent(inside, parent))

	// Sticking out by a sliver of well under 1% of the area still passes.
	slack := mustShape(t, orb.Polygon{{
		{2, 2}, {5, 2}, {5, 5}, {2, 5}, {1.999, 3}, {2, 2},
	}})
	assert.True(t, geometry.CoveredByParent(slack, parent))

	// Half outside fails.
	halfOut := mustShape(t, square(8, 0, 4))
	assert.False(t, geometry.CoveredByParent(halfOut, parent))
}

func TestOverlaps(t *testing.T) {
	// s covers [0,2]x[0,2]; "right" covers [1,3]x[0,2]: intersection area 2,
	// both areas 4, fraction of the smaller = 0.5.
	s := mustShape(t, square(0, 0, 2))
	others := sibs(t, map[string]orb.Polygon{
		"right":    orb.Polygon{{{1, 0}, {3, 0}, {3, 2}, {1, 2}, {1, 0}}},
		"disjoint": square(10, 10, 2),
	})

	conflicts := geometry.Overlaps(s, "self", others, 0.001, 0.3)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "right", conflicts[0].Code)

	// Same geometry, threshold above the 0.5 fraction: no conflict.
	assert.Empty(t, geometry.Overlaps(s, "self", others, 0.001, 0.6))
}

func TestOverlaps_IgnoresSlivers(t *testing.T) {
	// Overlap strip of 0.0005 x 2 = 0.001 area, below the squared tolerance.
	s := mustShape(t, square(0, 0, 2))
	others := sibs(t, map[string]orb.Polygon{
		"sliver": orb.Polygon{{{1.9995, 0}, {4, 0}, {4, 2}, {1.9995, 2}, {1.9995, 0}}},
	})

	assert.Empty(t, geometry.Overlaps(s, "self", others, 0.05, 0.0))
}

func TestOverlaps_UsesSmallerGeometryArea(t *testing.T) {
	// A small square overlapping a much larger one: the intersection is ~90%
	// of the small geometry but under 1% of the large one, so the fraction
	// must be computed against the smaller area regardless of argument order.
	// The small square pokes out on the left because fully covered geometries
	// do not Overlap in the strict topological sense.
	poking := mustShape(t, square(-0.1, 0, 1))
	large := sibs(t, map[string]orb.Polygon{"large": square(0, 0, 10)})

	assert.NotEmpty(t, geometry.Overlaps(poking, "self", large, 0.001, 0.5))
	assert.Empty(t, geometry.Overlaps(poking, "self", large, 0.001, 0.95))
}

func TestGaps(t *testing.T) {
	// Three contiguous squares tile a 3x1 strip: no gaps.
	tiled := sibs(t, map[string]orb.Polygon{
		"a": square(0, 0, 1),
		"b": square(1, 0, 1),
		"c": square(2, 0, 1),
	})
	assert.Equal(t, 0, geometry.Gaps(tiled, 0.001, 0.1))

	// Shift the middle and right squares over: a 0.5-wide uncovered strip
	// opens between "a" and "b". The node tolerance is three orders of
	// magnitude smaller than the strip; detection must ride on the gap
	// threshold alone.
	gapped := sibs(t, map[string]orb.Polygon{
		"a": square(0, 0, 1),
		"b": square(1.5, 0, 1),
		"c": square(2.5, 0, 1),
	})
	assert.Equal(t, 1, geometry.Gaps(gapped, 0.001, 0.1))

	// The same strip is ignored once the threshold exceeds its area.
	assert.Equal(t, 0, geometry.Gaps(gapped, 0.001, 5.0))
}

func TestBoundsOverlap(t *testing.T) {
	a := square(0, 0, 2).Bound()
	b := square(1, 1, 2).Bound()
	c := square(5, 5, 1).Bound()

	assert.True(t, geometry.BoundsOverlap(a, b))
	assert.False(t, geometry.BoundsOverlap(a, c))
}
