// Package trackmgr implements the Track Manager: the tracker's registry
// of live tracks, responsible for birthing tracks from unassociated
// candidate groups and expiring tracks that have gone stale.
package trackmgr

import (
	"errors"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/telemetry"
	"github.com/kestrelnet/tracker/track"
)

// ErrMissingTTL is returned by New when constructed with a non-positive
// TTL: unlike most tuning knobs, spec.md §9 leaves no implicit default
// for track expiry, so callers must supply one explicitly.
var ErrMissingTTL = errors.New("trackmgr: TTL must be positive")

// MinVariance floors the sample variance used to seed a newborn track's
// filter, so a birth group with identical or near-identical positions
// (sample variance ~0) still seeds a positive position variance. The
// seeded velocity variances are zero; the filter's process noise Q is
// what keeps the first predicted covariance non-singular.
const MinVariance = 1e-6

// Manager owns the set of live tracks and is the sole mutator of that
// set: births happen in InitializeTracks, deaths happen in Expire.
// Manager is safe for concurrent use.
type Manager struct {
	// TTL is the maximum duration a track may go without an applied
	// measurement before Expire removes it. Required; there is no
	// default (spec.md §9, Open Question 1).
	TTL time.Duration

	// FeatureTTLRefreshes bounds how many refreshes a learned feature
	// survives without reinforcement before PruneFeatures drops it.
	// Zero disables feature decay.
	FeatureTTLRefreshes uint64

	mu     sync.RWMutex
	tracks map[track.ID]*track.Track
}

// New constructs a Manager. ttl must be positive.
func New(ttl time.Duration, featureTTLRefreshes uint64) (*Manager, error) {
	if ttl <= 0 {
		return nil, ErrMissingTTL
	}
	return &Manager{
		TTL:                 ttl,
		FeatureTTLRefreshes: featureTTLRefreshes,
		tracks:              make(map[track.ID]*track.Track),
	}, nil
}

// Tracks returns a snapshot slice of all live tracks.
func (m *Manager) Tracks() []*track.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*track.Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

// Get returns the track by id, if live.
func (m *Manager) Get(id track.ID) (*track.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	return t, ok
}

// InitializeTracks spawns one new track per non-empty residual group
// left unassociated by the Data Associator, per spec.md §4.5's birth
// contract: the newborn's position is the group's centroid, its initial
// position variance is the group's sample variance (floored at
// MinVariance so a single-report group still seeds a positive
// variance), and its refreshTime is the maximum SensorTime among the
// group's reports.
//
// filterPrototype is cloned once per new track so each track owns an
// independent filter with identical dynamics. rec may be nil; when
// present, every birth is reported through it. If any group fails to
// yield a track, no track is added and the error is returned.
func (m *Manager) InitializeTracks(groups []grouping.Group, kind track.Kind, filterPrototype *filter.Kalman, rec telemetry.Recorder) (map[track.ID][]report.Detection, error) {
	born := make(map[track.ID][]report.Detection)
	if len(groups) == 0 {
		return born, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	newTracks := make([]*track.Track, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		lon, lat, mos, lonVar, latVar, mosVar, createdAt, err := birthParameters(g)
		if err != nil {
			return nil, err
		}
		t, err := track.New(kind, lon, lat, mos, lonVar, latVar, mosVar, createdAt, filterPrototype.Clone())
		if err != nil {
			return nil, err
		}
		newTracks = append(newTracks, t)
		born[t.ID()] = append([]report.Detection(nil), g...)
	}
	for _, t := range newTracks {
		m.tracks[t.ID()] = t
		if rec != nil {
			rec.Birth(t.ID())
		}
	}
	return born, nil
}

// birthParameters computes a newborn track's seed position, per-axis
// variance and refresh time from its spawning group, grounded on
// original_source/src/Model/track.cpp's construction-from-detections
// path.
func birthParameters(g grouping.Group) (lon, lat, mos, lonVar, latVar, mosVar float64, createdAt time.Time, err error) {
	lons := make([]float64, len(g))
	lats := make([]float64, len(g))
	moss := make([]float64, len(g))
	for i, d := range g {
		lons[i] = d.Longitude
		lats[i] = d.Latitude
		moss[i] = d.MetersOverSea
		if d.SensorTime.After(createdAt) {
			createdAt = d.SensorTime
		}
	}

	lon, err = stats.Mean(lons)
	if err != nil {
		return 0, 0, 0, 0, 0, 0, createdAt, err
	}
	lat, err = stats.Mean(lats)
	if err != nil {
		return 0, 0, 0, 0, 0, 0, createdAt, err
	}
	mos, err = stats.Mean(moss)
	if err != nil {
		return 0, 0, 0, 0, 0, 0, createdAt, err
	}

	lonVar = sampleVarianceFloored(lons)
	latVar = sampleVarianceFloored(lats)
	mosVar = sampleVarianceFloored(moss)
	return lon, lat, mos, lonVar, latVar, mosVar, createdAt, nil
}

func sampleVarianceFloored(data []float64) float64 {
	if len(data) < 2 {
		return MinVariance
	}
	v, err := stats.Variance(data)
	if err != nil || v < MinVariance {
		return MinVariance
	}
	return v
}

// Expire drops every track whose RefreshTime is older than TTL relative
// to currentTime, and prunes decayed features on the survivors. It
// returns the ids of the tracks removed. rec may be nil; when present,
// every expiry is reported through it.
func (m *Manager) Expire(currentTime time.Time, rec telemetry.Recorder) []track.ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []track.ID
	for id, t := range m.tracks {
		if currentTime.Sub(t.RefreshTime()) > m.TTL {
			removed = append(removed, id)
			delete(m.tracks, id)
			if rec != nil {
				rec.Expire(id)
			}
			continue
		}
		if m.FeatureTTLRefreshes > 0 {
			t.PruneFeatures(m.FeatureTTLRefreshes)
		}
	}
	return removed
}
