package assoc

import (
	"testing"
	"time"

	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/track"
)

func newTrackAt(t *testing.T, refreshedAt time.Time, features ...report.Feature) *track.Track {
	t.Helper()
	f, err := filter.New(filter.ConstantVelocityConfig(1, 0.01, 1))
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	tr, err := track.New(track.KindGeneric, 10, 20, 0, 4, 4, 1, refreshedAt, f)
	if err != nil {
		t.Fatalf("track.New: %v", err)
	}
	if len(features) > 0 {
		// Apply a measurement in the past-adjacent instant to seed
		// features without disturbing refreshedAt's ordering role in
		// these tests: ApplyMeasurement requires SensorTime after
		// refreshTime, so seed via a birth-time-only track and accept
		// the tiny refresh bump.
		_, err := tr.ApplyMeasurement(report.New("seed", refreshedAt.Add(time.Millisecond), 10, 20, 0, features...))
		if err != nil {
			t.Fatalf("seeding features: %v", err)
		}
	}
	return tr
}

func TestGreedyAssignmentDeterministicTieBreak(t *testing.T) {
	// S5: T1 (refresh 0.1s) and T2 (refresh 0.2s) both plausibly match
	// one group G. T1 (earlier refresh) must win; T2 gets nothing.
	base := time.Unix(0, 0)
	feat := report.Feature{Name: "color", Kind: report.FeatureString, String: "red"}

	t1 := newTrackAt(t, base.Add(100*time.Millisecond), feat)
	t2 := newTrackAt(t, base.Add(200*time.Millisecond), feat)

	group := grouping.Group{
		report.New("s1", base.Add(300*time.Millisecond), 10, 20, 0, feat),
	}

	a := New(ResultOR, ListOR, 0.5)
	a.SetInput([]grouping.Group{group}, []*track.Track{t2, t1})

	assoc := a.TracksToReports()
	if _, ok := assoc[t1.ID()]; !ok {
		t.Fatalf("expected earlier-refresh track T1 to win the group")
	}
	if _, ok := assoc[t2.ID()]; ok {
		t.Fatalf("expected later-refresh track T2 to receive nothing")
	}
	if len(a.Unassociated()) != 1 || len(a.Unassociated()[0]) != 0 {
		t.Fatalf("expected the group to be fully claimed, residual: %+v", a.Unassociated())
	}
}

func TestAssociationContainmentAndAtMostOneOwner(t *testing.T) {
	base := time.Unix(0, 0)
	feat := report.Feature{Name: "color", Kind: report.FeatureString, String: "red"}
	tr := newTrackAt(t, base, feat)

	matching := report.New("s1", base.Add(time.Second), 10, 20, 0, feat)
	nonMatching := report.New("s2", base.Add(time.Second), 10, 20, 0,
		report.Feature{Name: "color", Kind: report.FeatureString, String: "blue"})

	groups := []grouping.Group{{matching, nonMatching}}

	a := New(ResultOR, ListOR, 0.9)
	a.SetInput(groups, []*track.Track{tr})

	assoc := a.TracksToReports()
	unassoc := a.Unassociated()

	associatedSeqs := map[uint64]bool{}
	for _, reports := range assoc {
		for _, r := range reports {
			associatedSeqs[r.SeqID()] = true
		}
	}
	for _, g := range unassoc {
		for _, r := range g {
			if associatedSeqs[r.SeqID()] {
				t.Fatalf("report %v present in both associated and unassociated", r)
			}
		}
	}
	if !associatedSeqs[matching.SeqID()] {
		t.Fatalf("expected matching report to be associated")
	}
}

func TestNonPositiveRateStillWinsOverNoGroup(t *testing.T) {
	// Open question resolution: a track may be assigned a zero-rated
	// (here, empty) group over no group at all, since the sentinel
	// starts at -1.
	base := time.Unix(0, 0)
	tr := newTrackAt(t, base)
	group := grouping.Group{report.New("s1", base.Add(time.Second), 999, 999, 0)} // invalid lon, but assoc doesn't validate; rate will just be 0

	a := New(ResultOR, ListOR, 1.0)
	a.SetInput([]grouping.Group{group}, []*track.Track{tr})

	assoc := a.TracksToReports()
	if reports, ok := assoc[tr.ID()]; ok && len(reports) != 0 {
		t.Fatalf("expected either no entry or an empty entry for zero-rated group, got %v", reports)
	}
}
