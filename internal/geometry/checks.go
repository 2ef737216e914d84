package geometry

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// HierarchyCoverageRatio is the fraction of a child's area that must fall
// inside its parent for the hierarchy check to pass. Exact containment is too
// strict for hand-digitized layers, so a small amount of slack is tolerated.
const HierarchyCoverageRatio = 0.99

// sliverFactor scales the dataset tolerance into a minimum intersection area
// below which overlaps are treated as digitization slivers and ignored.
const sliverFactor = 1.0

// Sibling is a peer geometry at the same admin level, identified by its
// source-provided code so conflicts can be reported against a feature.
type Sibling struct {
	Code  string
	Shape *Shape
}

// SelfIntersects reports whether any ring of the uploaded geometry
// self-intersects. The reason string comes from the underlying validity
// check and pinpoints the offending coordinate.
func SelfIntersects(s *Shape) (bool, string) {
	if s.valid {
		return false, ""
	}
	if strings.Contains(s.invalidReason, "Self-intersection") {
		return true, s.invalidReason
	}
	return false, ""
}

// SelfContact counts vertices that come within tolerance of a non-adjacent
// segment of the same ring. This catches near-self-intersections that the
// exact validity check misses.
func SelfContact(s *Shape, tolerance float64) int {
	if tolerance <= 0 {
		return 0
	}
	contacts := 0
	for _, ring := range s.rings() {
		n := len(ring) - 1 // last vertex closes the ring
		if n < 3 {
			continue
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				// Skip the two segments incident to vertex i.
				if j == i || (j+1)%n == i {
					continue
				}
				if planar.DistanceFromSegment(ring[j], ring[j+1], ring[i]) < tolerance {
					contacts++
				}
			}
		}
	}
	return contacts
}

// DuplicateNodes counts consecutive ring vertices closer than tolerance.
func DuplicateNodes(s *Shape, tolerance float64) int {
	dupes := 0
	for _, ring := range s.rings() {
		for i := 1; i < len(ring); i++ {
			if planar.Distance(ring[i-1], ring[i]) <= tolerance {
				dupes++
			}
		}
	}
	return dupes
}

// Duplicate returns the first sibling whose geometry is topologically equal
// to s, excluding the feature itself by code.
func Duplicate(s *Shape, code string, others []Sibling) *Sibling {
	for i := range others {
		if others[i].Code == code {
			continue
		}
		if s.geos.Equals(others[i].Shape.geos) {
			return &others[i]
		}
	}
	return nil
}

// ContainedBy returns the first sibling that fully covers s. A boundary
// nested inside a peer at the same level is a data error, not a hierarchy.
// Exact duplicates are left to Duplicate.
func ContainedBy(s *Shape, code string, others []Sibling) *Sibling {
	for i := range others {
		if others[i].Code == code {
			continue
		}
		o := others[i].Shape
		if s.geos.CoveredBy(o.geos) && !s.geos.Equals(o.geos) {
			return &others[i]
		}
	}
	return nil
}

// CoveredByParent reports whether at least HierarchyCoverageRatio of the
// child's area falls inside the parent geometry.
func CoveredByParent(s *Shape, parent *Shape) bool {
	area := s.Area()
	if area == 0 {
		return false
	}
	return s.IntersectionArea(parent)/area >= HierarchyCoverageRatio
}

// Overlaps returns every sibling that s overlaps by more than areaThreshold.
// The threshold is a normalized fraction of the smaller geometry's area;
// intersections smaller than the squared tolerance are treated as slivers.
func Overlaps(s *Shape, code string, others []Sibling, tolerance, areaThreshold float64) []Sibling {
	var conflicts []Sibling
	for i := range others {
		if others[i].Code == code {
			continue
		}
		o := others[i].Shape
		if !s.geos.Overlaps(o.geos) {
			continue
		}
		inter := s.IntersectionArea(o)
		if inter <= tolerance*tolerance*sliverFactor {
			continue
		}
		smaller := s.Area()
		if a := o.Area(); a < smaller {
			smaller = a
		}
		if smaller > 0 && inter/smaller > areaThreshold {
			conflicts = append(conflicts, others[i])
		}
	}
	return conflicts
}

// Gaps detects uncovered area between a full sibling set. The siblings are
// unioned, the union is morphologically closed, and any closed-minus-union
// component larger than gapThreshold counts as a gap. The closing radius is
// sqrt(gapThreshold), floored at the node tolerance: a gap whose area reaches
// the threshold is narrower than twice that radius across its narrow
// dimension, so the closing seals it and it surfaces in the difference.
// Returns the number of gaps found.
func Gaps(siblings []Sibling, tolerance, gapThreshold float64) int {
	if len(siblings) < 2 {
		return 0
	}

	union := siblings[0].Shape.geos
	for _, sib := range siblings[1:] {
		union = union.Union(sib.Shape.geos)
	}

	radius := math.Sqrt(gapThreshold)
	if radius < tolerance {
		radius = tolerance
	}
	closed := union.Buffer(radius, 8).Buffer(-radius, 8)
	diff := closed.Difference(union)
	if diff == nil || diff.IsEmpty() {
		return 0
	}

	gaps := 0
	for i := 0; i < diff.NumGeometries(); i++ {
		if diff.Geometry(i).Area() > gapThreshold {
			gaps++
		}
	}
	return gaps
}

// BoundsOverlap is the cheap bbox pre-filter used before intersection math.
func BoundsOverlap(a, b orb.Bound) bool {
	return a.Intersects(b)
}
