// Package fuse implements the Fusion Executor: applying each track's
// associated reports to its filter in sensor-time order.
package fuse

import (
	"sort"

	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/telemetry"
	"github.com/kestrelnet/tracker/track"
	"github.com/kestrelnet/tracker/trackmgr"
)

// Result carries the outcome of one Apply call: which tracks accepted
// at least one measurement, and which tracks went unhealthy in the
// process.
type Result struct {
	Applied    []track.ID
	Degenerate []track.ID
}

// Apply folds each track's associated reports into its filter, ordering
// the reports by SensorTime ascending first so out-of-order delivery
// within a cohort does not violate ApplyMeasurement's monotonicity
// requirement. A track whose filter goes degenerate mid-batch is left
// in mgr marked unhealthy, per spec.md §7: it retains its last valid
// state and stops accepting measurements, but is only actually removed
// by Manager.Expire's next TTL pass, not synchronously here.
//
// rec may be nil; when present, stale drops, successful refreshes and
// filter degeneracy are all reported through it (spec.md §7's
// telemetry requirement for stale-measurement).
func Apply(assigned map[track.ID][]report.Detection, mgr *trackmgr.Manager, rec telemetry.Recorder) Result {
	var res Result
	for id, reports := range assigned {
		t, ok := mgr.Get(id)
		if !ok || len(reports) == 0 {
			continue
		}
		ordered := make([]report.Detection, len(reports))
		copy(ordered, reports)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

		appliedAny := false
		for _, dr := range ordered {
			applied, err := t.ApplyMeasurement(dr)
			if err != nil {
				res.Degenerate = append(res.Degenerate, id)
				if rec != nil {
					rec.FilterDegenerate(id)
				}
				break
			}
			if applied {
				appliedAny = true
			} else if rec != nil {
				rec.StaleMeasurement(id)
			}
		}
		if appliedAny {
			res.Applied = append(res.Applied, id)
			if rec != nil {
				rec.Refresh(id)
			}
		}
	}
	return res
}
