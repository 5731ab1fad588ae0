package fuse

import (
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/track"
	"github.com/kestrelnet/tracker/trackmgr"
)

// degenerateFilterConfig builds a filter whose innovation covariance S
// is the zero matrix on every Correct call regardless of the track's
// actual covariance: H is the zero matrix and R is zero, so
// S = H*P*H' + R = 0 is singular, forcing ErrDegenerate deterministically
// rather than hunting for numerically unstable input. Q is a positive
// diagonal so the birth-time predict (whose seeded velocity variances
// are zero) still yields a positive-definite covariance.
func degenerateFilterConfig() filter.Config {
	ident := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	q := mat.NewDense(4, 4, []float64{
		0.01, 0, 0, 0,
		0, 0.01, 0, 0,
		0, 0, 0.01, 0,
		0, 0, 0, 0.01,
	})
	zero2 := mat.NewDense(2, 2, nil)
	zeroH := mat.NewDense(2, 4, nil)
	return filter.Config{A: ident, Q: q, R: zero2, H: zeroH}
}

func newManagerWithTrack(t *testing.T, createdAt time.Time) (*trackmgr.Manager, track.ID) {
	t.Helper()
	mgr, err := trackmgr.New(time.Hour, 0)
	if err != nil {
		t.Fatalf("trackmgr.New: %v", err)
	}
	f, err := filter.New(filter.ConstantVelocityConfig(1, 0.01, 1))
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	group := grouping.Group{report.New("s1", createdAt, 10, 20, 0)}
	born, err := mgr.InitializeTracks([]grouping.Group{group}, track.KindGeneric, f, nil)
	if err != nil {
		t.Fatalf("InitializeTracks: %v", err)
	}
	var id track.ID
	for k := range born {
		id = k
	}
	return mgr, id
}

func TestApplyOrdersReportsBySensorTimeBeforeApplying(t *testing.T) {
	base := time.Unix(4000, 0)
	mgr, id := newManagerWithTrack(t, base)

	// Deliberately out of order: the later report first.
	later := report.New("s1", base.Add(2*time.Second), 10.001, 20.001, 0)
	earlier := report.New("s1", base.Add(time.Second), 10.0005, 20.0005, 0)

	res := Apply(map[track.ID][]report.Detection{id: {later, earlier}}, mgr, nil)
	if len(res.Applied) != 1 || res.Applied[0] != id {
		t.Fatalf("expected the track to have applied at least one measurement, got %+v", res)
	}

	tr, ok := mgr.Get(id)
	if !ok {
		t.Fatalf("expected track to still be live")
	}
	if !tr.RefreshTime().Equal(base.Add(2 * time.Second)) {
		t.Fatalf("expected refresh time to land on the later report after ordered application, got %v", tr.RefreshTime())
	}
}

func TestApplyMarksFilterDegenerateTrackUnhealthyWithoutRemovingIt(t *testing.T) {
	ttl := time.Second
	mgr, err := trackmgr.New(ttl, 0)
	if err != nil {
		t.Fatalf("trackmgr.New: %v", err)
	}
	f, err := filter.New(degenerateFilterConfig())
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}

	base := time.Unix(5000, 0)
	group := grouping.Group{report.New("s1", base, 10, 20, 0)}
	born, err := mgr.InitializeTracks([]grouping.Group{group}, track.KindGeneric, f, nil)
	if err != nil {
		t.Fatalf("InitializeTracks: %v", err)
	}
	var id track.ID
	for k := range born {
		id = k
	}

	measuredAt := base.Add(time.Second)
	measurement := report.New("s1", measuredAt, 10.001, 20.001, 0)
	res := Apply(map[track.ID][]report.Detection{id: {measurement}}, mgr, nil)

	if len(res.Applied) != 0 {
		t.Fatalf("expected no successful application on a degenerate filter, got %+v", res.Applied)
	}
	if len(res.Degenerate) != 1 || res.Degenerate[0] != id {
		t.Fatalf("expected the track to be reported degenerate, got %+v", res)
	}

	tr, ok := mgr.Get(id)
	if !ok {
		t.Fatalf("expected the degenerate track to still be live in the manager")
	}
	if tr.Healthy() {
		t.Fatalf("expected the degenerate track to be marked unhealthy")
	}
	lon, lat, _ := tr.Position()
	if lon != 10 || lat != 20 {
		t.Fatalf("expected the last valid position to be retained, got (%v, %v)", lon, lat)
	}

	removed := mgr.Expire(measuredAt.Add(ttl+time.Nanosecond), nil)
	if len(removed) != 1 || removed[0] != id {
		t.Fatalf("expected the unhealthy track to be expired once its TTL elapsed, got %+v", removed)
	}
	if _, ok := mgr.Get(id); ok {
		t.Fatalf("expected the track to be gone after Expire")
	}
}

func TestApplySkipsUnknownTrackIDs(t *testing.T) {
	mgr, err := trackmgr.New(time.Hour, 0)
	if err != nil {
		t.Fatalf("trackmgr.New: %v", err)
	}
	res := Apply(map[track.ID][]report.Detection{
		track.ID{}: {report.New("s1", time.Unix(0, 0), 10, 20, 0)},
	}, mgr, nil)
	if len(res.Applied) != 0 || len(res.Degenerate) != 0 {
		t.Fatalf("expected no effect for an unknown track id, got %+v", res)
	}
}
