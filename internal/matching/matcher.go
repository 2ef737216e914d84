package matching

import (
	"sort"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/geometry"
)

// Candidate is one prior-revision entity with its decoded geometry.
type Candidate struct {
	Entity *boundaries.GeographicalEntity
	Shape  *geometry.Shape
}

// Scored carries the directional overlap ratios for a (target, candidate)
// pair. OverlapNew is the fraction of the candidate (old) covered by the
// target; OverlapOld is the fraction of the target (new) covered by the
// candidate. The intersection is symmetric — only the denominators differ,
// and that asymmetry is deliberate.
type Scored struct {
	Candidate
	OverlapNew   float64
	OverlapOld   float64
	Weight       float64
	IsSameEntity bool
}

// ScoreCandidate computes both overlap ratios and the same-entity decision
// for one pair. The decision uses inclusive >= against the thresholds; the
// ranking weight uses strict > — matching the candidate filter — so a pair
// sitting exactly on the thresholds is "same entity" but ranks penalized.
func ScoreCandidate(target *geometry.Shape, cand Candidate, thresholdNew, thresholdOld float64) Scored {
	s := Scored{Candidate: cand}

	targetArea := target.Area()
	candArea := cand.Shape.Area()
	inter := target.IntersectionArea(cand.Shape)

	if candArea > 0 {
		s.OverlapNew = inter / candArea
	}
	if targetArea > 0 {
		s.OverlapOld = inter / targetArea
	}

	if s.OverlapNew > thresholdNew && s.OverlapOld > thresholdOld {
		s.Weight = s.OverlapNew + s.OverlapOld
	} else {
		s.Weight = (s.OverlapNew + s.OverlapOld) / 2
	}

	s.IsSameEntity = s.OverlapNew >= thresholdNew && s.OverlapOld >= thresholdOld
	return s
}

// RankCandidates scores every candidate against the target and orders them
// best-first: descending weight, ties broken by most recent start date. With
// aboveOnly set, candidates not strictly above both thresholds are dropped.
func RankCandidates(target *geometry.Shape, cands []Candidate, thresholdNew, thresholdOld float64, aboveOnly bool) []Scored {
	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		s := ScoreCandidate(target, c, thresholdNew, thresholdOld)
		if aboveOnly && !(s.OverlapNew > thresholdNew && s.OverlapOld > thresholdOld) {
			continue
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Weight != scored[j].Weight {
			return scored[i].Weight > scored[j].Weight
		}
		return scored[i].Entity.StartDate.After(scored[j].Entity.StartDate)
	})
	return scored
}
