// Package grouping implements the Candidate Selector: partitioning a
// cohort of detection reports into spatial groups likely to concern
// the same physical object.
package grouping

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/kestrelnet/tracker/report"
)

// ErrBadInput is returned when the cohort contains a report with
// coordinates outside the valid domain, per spec.md §4.2.
var ErrBadInput = errors.New("grouping: bad input")

// Group is a set of detection reports declared mutually compatible
// candidates for the same object.
type Group []report.Detection

// Signature returns a stable hash of the group's membership that does
// not depend on the order of the group's reports.
func (g Group) Signature() (uint64, error) {
	keys := make([]string, len(g))
	for i, d := range g {
		keys[i] = fmt.Sprintf("%s|%d|%.6f|%.6f", d.SensorID, d.SensorTime.UnixNano(), d.Longitude, d.Latitude)
	}
	sort.Strings(keys)
	return hashstructure.Hash(keys, hashstructure.FormatV2, nil)
}

// Centroid returns the mean longitude/latitude/altitude of the group.
// The caller must ensure g is non-empty.
func (g Group) Centroid() (lon, lat, mos float64) {
	for _, d := range g {
		lon += d.Longitude
		lat += d.Latitude
		mos += d.MetersOverSea
	}
	n := float64(len(g))
	return lon / n, lat / n, mos / n
}

// Selector partitions a cohort into an ordered list of disjoint,
// non-empty subsets whose union equals the cohort.
type Selector interface {
	Select(cohort []report.Detection) ([]Group, error)
}

// validate rejects a cohort containing an out-of-domain report,
// wrapping the underlying report.ErrBadInput as grouping.ErrBadInput
// so callers only need to check one sentinel at this layer.
func validate(cohort []report.Detection) error {
	if err := report.ValidateAll(cohort); err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return nil
}

// haversineMeters is the great-circle distance between two points,
// used by RoadGraphSelector's Euclidean fallback (euclideanCluster).
func haversineMeters(a, b orb.Point) float64 {
	return geo.Distance(a, b)
}
