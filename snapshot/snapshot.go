// Package snapshot implements the Snapshot Publisher: an atomically
// swapped, immutable view of all live tracks for readers (e.g. httpapi)
// that must never observe a track mid-mutation.
package snapshot

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/track"
)

// featureValueString renders a report.Feature's value for read-only
// display, independent of its Kind.
func featureValueString(f report.Feature) string {
	switch f.Kind {
	case report.FeatureString:
		return f.String
	case report.FeatureNumber:
		return strconv.FormatFloat(f.Number, 'g', -1, 64)
	case report.FeatureDecimal:
		return f.Decimal.String()
	default:
		return ""
	}
}

// TrackView is one track's read-only state at the moment of publication.
type TrackView struct {
	ID          track.ID
	Kind        track.Kind
	Lon, Lat    float64
	Mos         float64
	LonVel      float64
	LatVel      float64
	MosVel      float64
	RefreshTime time.Time
	Healthy     bool
	Features    []trackFeature
}

type trackFeature struct {
	Name  string
	Value string
}

// Snapshot is an immutable point-in-time view of every live track.
// Callers must not mutate the slice or its elements.
type Snapshot struct {
	takenAt time.Time
	tracks  []TrackView
	byID    map[track.ID]TrackView
}

// TakenAt returns when the snapshot was published.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Tracks returns every track view in the snapshot.
func (s *Snapshot) Tracks() []TrackView { return s.tracks }

// Track returns the view for a single track id.
func (s *Snapshot) Track(id track.ID) (TrackView, bool) {
	v, ok := s.byID[id]
	return v, ok
}

// Publisher holds the most recently published Snapshot behind an
// atomic pointer, so Get never blocks on or observes a partial Publish.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher returns a Publisher with an empty initial snapshot.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&Snapshot{tracks: nil, byID: map[track.ID]TrackView{}})
	return p
}

// Publish builds a new Snapshot from the given tracks (each cloned
// under its own lock via track.Track.Clone, so publication never races
// with an in-flight ApplyMeasurement) and atomically swaps it in.
func (p *Publisher) Publish(tracks []*track.Track, takenAt time.Time) {
	views := make([]TrackView, 0, len(tracks))
	byID := make(map[track.ID]TrackView, len(tracks))
	for _, t := range tracks {
		cp := t.Clone()
		lon, lat, mos := cp.Position()
		lonVel, latVel, mosVel := cp.Velocity()
		features := cp.Features()
		fv := make([]trackFeature, 0, len(features))
		for _, f := range features {
			fv = append(fv, trackFeature{Name: f.Name, Value: featureValueString(f)})
		}
		v := TrackView{
			ID:          cp.ID(),
			Kind:        cp.Kind(),
			Lon:         lon,
			Lat:         lat,
			Mos:         mos,
			LonVel:      lonVel,
			LatVel:      latVel,
			MosVel:      mosVel,
			RefreshTime: cp.RefreshTime(),
			Healthy:     cp.Healthy(),
			Features:    fv,
		}
		views = append(views, v)
		byID[v.ID] = v
	}
	p.current.Store(&Snapshot{takenAt: takenAt, tracks: views, byID: byID})
}

// Get returns the most recently published Snapshot.
func (p *Publisher) Get() *Snapshot {
	return p.current.Load()
}
