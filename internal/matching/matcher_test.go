package matching_test

import (
	"testing"
	"time"

	"github.com/GeoRegistry/GR-Backend/internal/boundaries"
	"github.com/GeoRegistry/GR-Backend/internal/geometry"
	"github.com/GeoRegistry/GR-Backend/internal/matching"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shapeFor(t *testing.T, x, y, side float64) *geometry.Shape {
	t.Helper()
	s, err := geometry.NewShape(orb.Polygon{{
		{x, y}, {x + side, y}, {x + side, y + side}, {x, y + side}, {x, y},
	}})
	require.NoError(t, err)
	return s
}

func candidateFor(t *testing.T, id string, x, y, side float64, start time.Time) matching.Candidate {
	t.Helper()
	return matching.Candidate{
		Entity: &boundaries.GeographicalEntity{
			ID:           id,
			InternalCode: id,
			StartDate:    start,
		},
		Shape: shapeFor(t, x, y, side),
	}
}

func TestScoreCandidate_AsymmetricDenominators(t *testing.T) {
	// Target 2x2 at origin; candidate 4x4 containing it. The full target is
	// inside the candidate, so overlap_old (fraction of the target covered)
	// is 1.0, while overlap_new (fraction of the candidate covered) is 0.25.
	target := shapeFor(t, 0, 0, 2)
	cand := candidateFor(t, "big", 0, 0, 4, time.Now())

	s := matching.ScoreCandidate(target, cand, 0.8, 0.8)
	assert.InDelta(t, 0.25, s.OverlapNew, 0.001)
	assert.InDelta(t, 1.0, s.OverlapOld, 0.001)
	assert.False(t, s.IsSameEntity)
}

func TestScoreCandidate_ThresholdBoundary(t *testing.T) {
	// Identical geometries: both overlaps are exactly 1.0.
	target := shapeFor(t, 0, 0, 2)
	cand := candidateFor(t, "twin", 0, 0, 2, time.Now())

	// Sitting exactly on the thresholds is same-entity (inclusive compare)
	// but scores the penalized average weight (strict compare).
	s := matching.ScoreCandidate(target, cand, 1.0, 1.0)
	assert.True(t, s.IsSameEntity)
	assert.InDelta(t, 1.0, s.Weight, 0.001)

	// Strictly above both thresholds scores the sum.
	s = matching.ScoreCandidate(target, cand, 0.8, 0.8)
	assert.True(t, s.IsSameEntity)
	assert.InDelta(t, 2.0, s.Weight, 0.001)

	// Just below one threshold fails the decision.
	s = matching.ScoreCandidate(target, cand, 1.0000001, 0.8)
	assert.False(t, s.IsSameEntity)
}

func TestRankCandidates_OrderAndFilter(t *testing.T) {
	target := shapeFor(t, 0, 0, 2)

	good := candidateFor(t, "good", 0, 0, 2, time.Now())           // full overlap
	partial := candidateFor(t, "partial", 1, 0, 2, time.Now())     // half overlap
	disjoint := candidateFor(t, "disjoint", 10, 10, 2, time.Now()) // none
	cands := []matching.Candidate{disjoint, partial, good}

	ranked := matching.RankCandidates(target, cands, 0.8, 0.8, false)
	require.Len(t, ranked, 3)
	assert.Equal(t, "good", ranked[0].Entity.ID)

	// aboveOnly keeps only candidates strictly above both thresholds.
	ranked = matching.RankCandidates(target, cands, 0.8, 0.8, true)
	require.Len(t, ranked, 1)
	assert.Equal(t, "good", ranked[0].Entity.ID)
	assert.True(t, ranked[0].IsSameEntity)
}

func TestRankCandidates_TieBreakOnStartDate(t *testing.T) {
	target := shapeFor(t, 0, 0, 2)

	older := candidateFor(t, "older", 0, 0, 2, time.Now().Add(-48*time.Hour))
	newer := candidateFor(t, "newer", 0, 0, 2, time.Now())

	ranked := matching.RankCandidates(target, []matching.Candidate{older, newer}, 0.8, 0.8, true)
	require.Len(t, ranked, 2)
	assert.Equal(t, "newer", ranked[0].Entity.ID, "equal weights break toward the later start date")
}

func TestNameSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, matching.NameSimilarity("Punjab", "punjab"), 0.001)
	assert.InDelta(t, 1.0, matching.NameSimilarity("São Tomé", "Sao Tome"), 0.001)
	assert.Greater(t, matching.NameSimilarity("Islamabad", "Islambad"), 0.9)
	assert.Less(t, matching.NameSimilarity("Punjab", "Balochistan"), 0.7)
	assert.Zero(t, matching.NameSimilarity("", "Punjab"))
}
