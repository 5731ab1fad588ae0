package track

import (
	"testing"
	"time"

	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/report"
)

func newTestTrack(t *testing.T, at time.Time) *Track {
	t.Helper()
	f, err := filter.New(filter.ConstantVelocityConfig(1, 0.01, 1))
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	tr, err := New(KindGeneric, 10, 20, 0, 4, 4, 1, at, f)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestApplyMeasurementRefreshMonotonicity(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := newTestTrack(t, t0)

	times := []time.Time{
		t0.Add(300 * time.Millisecond),
		t0.Add(600 * time.Millisecond),
		t0.Add(500 * time.Millisecond), // stale, must be ignored
		t0.Add(900 * time.Millisecond),
	}
	var last time.Time
	for _, at := range times {
		applied, err := tr.ApplyMeasurement(report.New("s1", at, 10.01, 20.01, 0))
		if err != nil {
			t.Fatalf("ApplyMeasurement: %v", err)
		}
		rt := tr.RefreshTime()
		if rt.Before(last) {
			t.Fatalf("refresh time went backwards: %v < %v", rt, last)
		}
		last = rt
		_ = applied
	}
	if !tr.RefreshTime().Equal(t0.Add(900 * time.Millisecond)) {
		t.Fatalf("expected final refresh time 900ms, got %v", tr.RefreshTime())
	}
}

func TestApplyMeasurementRejectsStale(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := newTestTrack(t, t0.Add(600*time.Millisecond))

	lonBefore, latBefore, _ := tr.Position()
	applied, err := tr.ApplyMeasurement(report.New("s1", t0.Add(500*time.Millisecond), 9, 19, 0))
	if err != nil {
		t.Fatalf("ApplyMeasurement: %v", err)
	}
	if applied {
		t.Fatalf("expected stale measurement to be rejected")
	}
	lonAfter, latAfter, _ := tr.Position()
	if lonBefore != lonAfter || latBefore != latAfter {
		t.Fatalf("stale measurement must not change track state")
	}
}

func TestApplyMeasurementUpdatesVelocityWhenTimePassed(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := newTestTrack(t, t0)

	// Same sensor_time as refreshTime is <= refreshTime, so it is
	// treated as stale and ignored outright; there is no "zero
	// time_passed but still applied" case for the very first
	// measurement after birth, since refreshTime already equals the
	// birth time. A single measurement one second after birth
	// exercises timePassed > 0.
	_, err := tr.ApplyMeasurement(report.New("s1", t0.Add(time.Second), 10.02, 20.02, 0))
	if err != nil {
		t.Fatalf("ApplyMeasurement: %v", err)
	}
	lonVel, latVel, _ := tr.Velocity()
	if lonVel == 0 && latVel == 0 {
		t.Fatalf("expected non-zero velocity after a measurement with time_passed > 0")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := newTestTrack(t, t0)
	clone := tr.Clone()

	if _, err := tr.ApplyMeasurement(report.New("s1", t0.Add(time.Second), 50, 50, 0)); err != nil {
		t.Fatalf("ApplyMeasurement: %v", err)
	}

	origLon, _, _ := tr.Position()
	cloneLon, _, _ := clone.Position()
	if origLon == cloneLon {
		t.Fatalf("expected clone to be unaffected by mutation of the original")
	}
	if clone.ID() != tr.ID() {
		t.Fatalf("clone must retain the same identity")
	}
}

func TestFeaturesAreLearnedFromAppliedMeasurements(t *testing.T) {
	t0 := time.Unix(0, 0)
	tr := newTestTrack(t, t0)
	_, err := tr.ApplyMeasurement(report.New("s1", t0.Add(time.Second), 10, 20, 0,
		report.Feature{Name: "color", Kind: report.FeatureString, String: "red"}))
	if err != nil {
		t.Fatalf("ApplyMeasurement: %v", err)
	}
	f, ok := tr.Feature("color")
	if !ok || f.String != "red" {
		t.Fatalf("expected learned feature color=red, got %+v ok=%v", f, ok)
	}
}
