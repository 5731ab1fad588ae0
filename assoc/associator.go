// Package assoc implements the Data Associator: matching each spatial
// candidate group to at most one existing track, greedily, in a
// deterministic track order.
package assoc

import (
	"errors"
	"math"
	"sort"

	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/track"
)

// ErrBadInput is the package's bad-input sentinel. No function in this
// package currently returns it: New replaces an out-of-range threshold
// with DefaultThreshold instead of failing.
var ErrBadInput = errors.New("assoc: bad input")

// DefaultThreshold is the Data Associator's default per-report
// acceptance threshold, per spec.md §4.4.
const DefaultThreshold = 1.0

// FeatureGrader grades how well a report feature matches a track's
// feature of the same name, in [0,1]. The default grader (Grade)
// implements exact-match-for-strings, tolerance-for-numbers.
type FeatureGrader func(reportFeature, trackFeature report.Feature) float64

// Grade is the default FeatureGrader: exact string equality, or
// numeric closeness within a small relative tolerance for numbers and
// decimals.
func Grade(a, b report.Feature) float64 {
	switch a.Kind {
	case report.FeatureString:
		if a.String == b.String {
			return 1
		}
		return 0
	case report.FeatureNumber:
		return numericGrade(a.Number, b.Number)
	case report.FeatureDecimal:
		af, _ := a.Decimal.Float64()
		bf, _ := b.Decimal.Float64()
		return numericGrade(af, bf)
	default:
		return 0
	}
}

func numericGrade(a, b float64) float64 {
	const tolerance = 0.05
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 1
	}
	diff := math.Abs(a-b) / denom
	if diff >= tolerance {
		return 0
	}
	return clip01(1 - diff/tolerance)
}

// Associator implements the Data Associator (spec.md §4.4).
// Associator is not safe for concurrent use; the pipeline driver owns
// it exclusively.
type Associator struct {
	resultComparator ResultComparator
	listComparator   ListComparator
	threshold        float64
	grader           FeatureGrader

	groups []grouping.Group

	tracksToReports map[track.ID][]report.Detection
	unassociated    []grouping.Group
	computed        bool

	tracks []*track.Track
}

// New constructs an Associator with the given comparators and
// threshold. A threshold outside [0,1] is replaced by DefaultThreshold.
func New(resultComparator ResultComparator, listComparator ListComparator, threshold float64) *Associator {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Associator{
		resultComparator: resultComparator,
		listComparator:   listComparator,
		threshold:        threshold,
		grader:           Grade,
	}
}

// SetGrader overrides the default FeatureGrader.
func (a *Associator) SetGrader(g FeatureGrader) {
	a.grader = g
}

// SetInput accepts the groups to associate against the given tracks
// and invalidates any cached output, per spec.md §4.4.
func (a *Associator) SetInput(groups []grouping.Group, tracks []*track.Track) {
	// Deep-copy the group slices: compute() mutates them in place as
	// reports are claimed by winning tracks, and the caller's slice
	// must not be disturbed.
	a.groups = make([]grouping.Group, len(groups))
	for i, g := range groups {
		cp := make(grouping.Group, len(g))
		copy(cp, g)
		a.groups[i] = cp
	}
	a.tracks = tracks
	a.computed = false
}

// TracksToReports returns the associated measurements per track,
// computing the association if necessary.
func (a *Associator) TracksToReports() map[track.ID][]report.Detection {
	a.compute()
	return a.tracksToReports
}

// Unassociated returns the residual groups left after every track has
// chosen, computing the association if necessary.
func (a *Associator) Unassociated() []grouping.Group {
	a.compute()
	return a.unassociated
}

// compute runs the greedy per-track assignment described in
// spec.md §4.4, grounded on
// original_source/src/Model/dataassociator.cpp's getListForTrack /
// rateListForTrack / rateDRForTrack control flow.
func (a *Associator) compute() {
	if a.computed {
		return
	}
	a.tracksToReports = make(map[track.ID][]report.Detection)

	ordered := make([]*track.Track, len(a.tracks))
	copy(ordered, a.tracks)
	sort.Slice(ordered, func(i, j int) bool {
		ri, rj := ordered[i].RefreshTime(), ordered[j].RefreshTime()
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return ordered[i].ID().String() < ordered[j].ID().String()
	})

	for _, tr := range ordered {
		bestIdx := -1
		bestRate := -1.0
		var bestChosen []report.Detection

		for i, g := range a.groups {
			rate, chosen := a.rateListForTrack(g, tr)
			if rate > bestRate {
				bestRate = rate
				bestIdx = i
				bestChosen = chosen
			}
		}

		if bestIdx < 0 {
			continue
		}
		if len(bestChosen) > 0 {
			a.tracksToReports[tr.ID()] = bestChosen
		}
		// Remove the chosen reports from the winning group in the
		// original input list so later tracks cannot select them.
		a.groups[bestIdx] = subtract(a.groups[bestIdx], bestChosen)
	}

	a.unassociated = make([]grouping.Group, len(a.groups))
	copy(a.unassociated, a.groups)
	a.computed = true
}

// rateListForTrack implements spec.md §4.4's list rater on a copy of
// group so the live input is untouched until the caller commits a
// winner; returns the group's rate against tr and the subset of
// reports that met the per-report threshold.
func (a *Associator) rateListForTrack(group grouping.Group, tr *track.Track) (float64, []report.Detection) {
	working := make(grouping.Group, len(group))
	copy(working, group)

	var rates []float64
	var chosen []report.Detection
	for _, dr := range working {
		rate := a.rateDR(dr, tr)
		if rate >= a.threshold {
			rates = append(rates, rate)
			chosen = append(chosen, dr)
		}
	}
	return a.listComparator.combine(rates), chosen
}

// rateDR implements spec.md §4.4's report-track rating: a
// feature_name -> grade map initialized to 0, populated only for
// feature names present in both dr and tr, then combined with the
// result comparator.
func (a *Associator) rateDR(dr report.Detection, tr *track.Track) float64 {
	if len(dr.Features) == 0 {
		return 0
	}
	grades := make([]float64, 0, len(dr.Features))
	for _, f := range dr.Features {
		trackFeature, ok := tr.Feature(f.Name)
		if !ok {
			grades = append(grades, 0)
			continue
		}
		grades = append(grades, a.grader(f, trackFeature))
	}
	return a.resultComparator.combine(grades)
}

// subtract returns group with every report in chosen removed, matched
// by Detection.SeqID (a Detection's slice-valued Features field makes
// Detection itself incomparable, so identity is compared by seq id
// rather than by struct equality).
func subtract(group grouping.Group, chosen []report.Detection) grouping.Group {
	if len(chosen) == 0 {
		return group
	}
	remove := make(map[uint64]bool, len(chosen))
	for _, c := range chosen {
		remove[c.SeqID()] = true
	}
	out := make(grouping.Group, 0, len(group))
	for _, d := range group {
		if !remove[d.SeqID()] {
			out = append(out, d)
		}
	}
	return out
}
