package snapshot

import (
	"testing"
	"time"

	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/track"
)

func newTestTrack(t *testing.T, at time.Time, features ...report.Feature) *track.Track {
	t.Helper()
	f, err := filter.New(filter.ConstantVelocityConfig(1, 0.01, 1))
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	tr, err := track.New(track.KindVehicle, 10, 20, 100, 4, 4, 1, at, f)
	if err != nil {
		t.Fatalf("track.New: %v", err)
	}
	if len(features) > 0 {
		if _, err := tr.ApplyMeasurement(report.New("s1", at.Add(time.Millisecond), 10, 20, 100, features...)); err != nil {
			t.Fatalf("seeding features: %v", err)
		}
	}
	return tr
}

func TestPublishAndGetRoundTrip(t *testing.T) {
	base := time.Unix(5000, 0)
	tr := newTestTrack(t, base, report.Feature{Name: "color", Kind: report.FeatureString, String: "red"})

	pub := NewPublisher()
	pub.Publish([]*track.Track{tr}, base.Add(time.Second))

	snap := pub.Get()
	if !snap.TakenAt().Equal(base.Add(time.Second)) {
		t.Fatalf("expected TakenAt to match publish time")
	}
	view, ok := snap.Track(tr.ID())
	if !ok {
		t.Fatalf("expected published track to be present in the snapshot")
	}
	if view.Kind != track.KindVehicle {
		t.Fatalf("expected kind to round-trip, got %v", view.Kind)
	}
	if len(view.Features) != 1 || view.Features[0].Name != "color" || view.Features[0].Value != "red" {
		t.Fatalf("expected feature to round-trip, got %+v", view.Features)
	}
}

func TestPublishSnapshotIsIndependentOfLiveTrackMutation(t *testing.T) {
	base := time.Unix(6000, 0)
	tr := newTestTrack(t, base)

	pub := NewPublisher()
	pub.Publish([]*track.Track{tr}, base)
	before, _ := pub.Get().Track(tr.ID())

	if _, err := tr.ApplyMeasurement(report.New("s1", base.Add(time.Second), 15, 25, 0)); err != nil {
		t.Fatalf("ApplyMeasurement: %v", err)
	}

	after, _ := pub.Get().Track(tr.ID())
	if before.Lon != after.Lon || before.Lat != after.Lat {
		t.Fatalf("expected the published snapshot to be frozen, before=%+v after=%+v", before, after)
	}
}

func TestPublishCarriesHealthy(t *testing.T) {
	base := time.Unix(7000, 0)
	tr := newTestTrack(t, base)

	pub := NewPublisher()
	pub.Publish([]*track.Track{tr}, base)
	view, ok := pub.Get().Track(tr.ID())
	if !ok {
		t.Fatalf("expected track to be present")
	}
	if !view.Healthy {
		t.Fatalf("expected a freshly born track to be published healthy")
	}
}

func TestGetOnFreshPublisherReturnsEmptySnapshot(t *testing.T) {
	pub := NewPublisher()
	snap := pub.Get()
	if len(snap.Tracks()) != 0 {
		t.Fatalf("expected an empty initial snapshot")
	}
}
