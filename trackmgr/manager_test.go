package trackmgr

import (
	"testing"
	"time"

	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/track"
)

func testFilterPrototype(t *testing.T) *filter.Kalman {
	t.Helper()
	f, err := filter.New(filter.ConstantVelocityConfig(1, 0.01, 1))
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	return f
}

func TestNewRejectsNonPositiveTTL(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatalf("expected error for zero TTL")
	}
	if _, err := New(-time.Second, 0); err == nil {
		t.Fatalf("expected error for negative TTL")
	}
}

func TestInitializeTracksSeedsCentroidAndRefreshTime(t *testing.T) {
	mgr, err := New(time.Minute, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Unix(1000, 0)
	group := grouping.Group{
		report.New("s1", base, 10, 20, 100),
		report.New("s2", base.Add(time.Second), 10, 20, 100),
	}

	born, err := mgr.InitializeTracks([]grouping.Group{group}, track.KindGeneric, testFilterPrototype(t), nil)
	if err != nil {
		t.Fatalf("InitializeTracks: %v", err)
	}
	if len(born) != 1 {
		t.Fatalf("expected exactly one new track, got %d", len(born))
	}
	if len(mgr.Tracks()) != 1 {
		t.Fatalf("expected manager to hold one track")
	}
	for id := range born {
		tr, ok := mgr.Get(id)
		if !ok {
			t.Fatalf("expected new track to be retrievable")
		}
		lon, lat, _ := tr.Position()
		if lon != 10 || lat != 20 {
			t.Fatalf("expected centroid seed (10,20), got (%v,%v)", lon, lat)
		}
		if !tr.RefreshTime().Equal(base.Add(time.Second)) {
			t.Fatalf("expected refresh time to be the max sensor time in the group")
		}
	}
}

func TestInitializeTracksSkipsEmptyGroups(t *testing.T) {
	mgr, err := New(time.Minute, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	born, err := mgr.InitializeTracks([]grouping.Group{{}}, track.KindGeneric, testFilterPrototype(t), nil)
	if err != nil {
		t.Fatalf("InitializeTracks: %v", err)
	}
	if len(born) != 0 || len(mgr.Tracks()) != 0 {
		t.Fatalf("expected no tracks born from an empty group")
	}
}

func TestExpireRemovesStaleTracks(t *testing.T) {
	mgr, err := New(500*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Unix(2000, 0)
	group := grouping.Group{report.New("s1", base, 10, 20, 0)}
	born, err := mgr.InitializeTracks([]grouping.Group{group}, track.KindGeneric, testFilterPrototype(t), nil)
	if err != nil {
		t.Fatalf("InitializeTracks: %v", err)
	}
	var id track.ID
	for k := range born {
		id = k
	}

	removed := mgr.Expire(base.Add(time.Second), nil)
	if len(removed) != 1 || removed[0] != id {
		t.Fatalf("expected the stale track to be expired, got %v", removed)
	}
	if _, ok := mgr.Get(id); ok {
		t.Fatalf("expected expired track to be gone from the manager")
	}
}

func TestExpireKeepsFreshTracks(t *testing.T) {
	mgr, err := New(time.Minute, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Unix(3000, 0)
	group := grouping.Group{report.New("s1", base, 10, 20, 0)}
	if _, err := mgr.InitializeTracks([]grouping.Group{group}, track.KindGeneric, testFilterPrototype(t), nil); err != nil {
		t.Fatalf("InitializeTracks: %v", err)
	}

	removed := mgr.Expire(base.Add(time.Second), nil)
	if len(removed) != 0 {
		t.Fatalf("expected no expirations, got %v", removed)
	}
	if len(mgr.Tracks()) != 1 {
		t.Fatalf("expected the fresh track to remain")
	}
}
