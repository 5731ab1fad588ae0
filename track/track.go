// Package track defines Track, the tracker's mutable, uniquely
// identified estimate of one persistent physical object.
package track

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/report"
)

// ID is a track's 128-bit identity, assigned once at birth and never
// reused.
type ID = uuid.UUID

// Kind is a closed tagged variant standing in for the source system's
// unfinished Track -> {HumanTrack, VehicleTrack} inheritance hierarchy.
// Per spec.md §9, per-kind state does not currently diverge, so Kind is
// carried as a plain field rather than a type hierarchy.
type Kind int

const (
	KindGeneric Kind = iota
	KindHuman
	KindVehicle
)

func (k Kind) String() string {
	switch k {
	case KindHuman:
		return "human"
	case KindVehicle:
		return "vehicle"
	default:
		return "generic"
	}
}

// featureState is a track's memory of one inferred feature, plus the
// refresh at which it was last reinforced. Used to support decay
// (see Track.PruneFeatures, called by trackmgr.Manager.Expire).
type featureState struct {
	feature      report.Feature
	lastRefresh  uint64
}

// Track is the tracker's live estimate of one object's position,
// velocity and identity. A Track owns exactly one *filter.Kalman.
// Every exported method locks the track's own mutex, so a Track may be
// read (for example by snapshot publication) while the pipeline
// updates it.
type Track struct {
	id   ID
	kind Kind

	mu sync.Mutex

	lon, lat, mos             float64
	lonVel, latVel, mosVel    float64
	predictedLon, predictedLat, predictedMos float64
	lonPredVar, latPredVar, mosPredVar       float64

	refreshTime time.Time
	refreshSeq  uint64 // monotonically incremented on every applied measurement, drives feature decay

	features map[string]*featureState

	healthy bool
	filt    *filter.Kalman
}

// New creates a track from a birth centroid, seeding its filter and
// setting refreshTime to createdAt (spec.md §4.5's birth contract:
// refreshTime is the max sensor_time in the spawning group).
func New(kind Kind, lon, lat, mos float64, lonVar, latVar, mosVar float64, createdAt time.Time, filt *filter.Kalman) (*Track, error) {
	t := &Track{
		id:          uuid.New(),
		kind:        kind,
		lon:         lon,
		lat:         lat,
		mos:         mos,
		mosVel:      0,
		refreshTime: createdAt,
		features:    make(map[string]*featureState),
		healthy:     true,
		filt:        filt,
	}
	predState, predVar, err := filt.Initialize(
		[filter.StateDim]float64{lon, lat, 0, 0},
		[filter.StateDim]float64{lonVar, latVar, 0, 0},
	)
	if err != nil {
		return nil, err
	}
	t.storePrediction(predState, predVar)
	t.mosPredVar = mosVar
	return t, nil
}

func (t *Track) storePrediction(state, variance [filter.StateDim]float64) {
	t.predictedLon, t.predictedLat = state[0], state[1]
	t.lonPredVar, t.latPredVar = variance[0], variance[1]
}

// ID returns the track's identity.
func (t *Track) ID() ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Kind returns the track's kind tag.
func (t *Track) Kind() Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind
}

// Position returns the current (lon, lat, mos) estimate.
func (t *Track) Position() (lon, lat, mos float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lon, t.lat, t.mos
}

// Velocity returns the current per-axis velocity estimate.
func (t *Track) Velocity() (lonVel, latVel, mosVel float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lonVel, t.latVel, t.mosVel
}

// Prediction returns the filter's next-position prediction and its
// per-axis variance.
func (t *Track) Prediction() (lon, lat, mos float64, lonVar, latVar, mosVar float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.predictedLon, t.predictedLat, t.predictedMos, t.lonPredVar, t.latPredVar, t.mosPredVar
}

// RefreshTime returns the absolute time of the most recently applied
// measurement.
func (t *Track) RefreshTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshTime
}

// Healthy reports whether the track's filter is still accepting
// measurements. A track becomes unhealthy on filter degeneracy
// (spec.md §7) and is expired at the next TTL pass rather than
// immediately removed, so consumers can still observe its last valid
// state in the interim.
func (t *Track) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

// Features returns a snapshot copy of the track's inferred features.
func (t *Track) Features() []report.Feature {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]report.Feature, 0, len(t.features))
	for _, fs := range t.features {
		out = append(out, fs.feature)
	}
	return out
}

// Feature returns the named feature and true if the track currently
// carries it.
func (t *Track) Feature(name string) (report.Feature, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.features[name]
	if !ok {
		return report.Feature{}, false
	}
	return fs.feature, true
}

// learnFeatures merges the features of an applied Detection into the
// track's inferred feature set, stamping each with the current refresh
// sequence for decay accounting.
func (t *Track) learnFeatures(features []report.Feature) {
	for _, f := range features {
		t.features[f.Name] = &featureState{feature: f, lastRefresh: t.refreshSeq}
	}
}

// PruneFeatures drops any feature not reinforced within the last
// maxAge refreshes. Called by trackmgr.Manager.Expire; see
// SPEC_FULL.md's "feature decay" supplement.
func (t *Track) PruneFeatures(maxAge uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, fs := range t.features {
		if t.refreshSeq-fs.lastRefresh > maxAge {
			delete(t.features, name)
		}
	}
}

// ApplyMeasurement folds a single Detection into the track's filter,
// per spec.md §4.5's track update contract:
//
//   - reports with SensorTime <= RefreshTime are silently ignored
//     (stale-measurement, spec.md §7);
//   - velocity is recomputed only when time_passed > 0;
//   - the filter is corrected, then advanced with predict.
//
// It returns (applied, err): applied is false for a stale measurement,
// which is not itself an error. err is ErrDegenerate-wrapped if the
// filter fails; the track is then marked unhealthy and the caller
// should stop feeding it measurements.
func (t *Track) ApplyMeasurement(dr report.Detection) (applied bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.healthy {
		return false, nil
	}
	if !dr.SensorTime.After(t.refreshTime) {
		return false, nil // stale-measurement: silently dropped
	}

	timePassed := dr.SensorTime.Sub(t.refreshTime)

	corrected, _, cErr := t.filt.Correct([filter.ObsDim]float64{dr.Longitude, dr.Latitude})
	if cErr != nil {
		t.healthy = false
		return false, cErr
	}
	t.refreshTime = dr.SensorTime
	t.refreshSeq++
	newLon, newLat := corrected[0], corrected[1]

	if timePassed > 0 {
		seconds := timePassed.Seconds()
		t.lonVel = (newLon - t.lon) / seconds
		t.latVel = (newLat - t.lat) / seconds
	}
	t.lon, t.lat = newLon, newLat
	// mos is frozen at birth and never reassigned here, matching the
	// original model's applyMeasurement, which takes an mos argument and
	// discards it.

	predState, predVar, pErr := t.filt.Predict(nil)
	if pErr != nil {
		t.healthy = false
		return true, pErr
	}
	t.storePrediction(predState, predVar)
	t.learnFeatures(dr.Features)

	return true, nil
}

// Clone returns a deep copy of the track, including an independent
// clone of its filter, suitable for snapshot publication.
func (t *Track) Clone() *Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := &Track{
		id:            t.id,
		kind:          t.kind,
		lon:           t.lon,
		lat:           t.lat,
		mos:           t.mos,
		lonVel:        t.lonVel,
		latVel:        t.latVel,
		mosVel:        t.mosVel,
		predictedLon:  t.predictedLon,
		predictedLat:  t.predictedLat,
		predictedMos:  t.predictedMos,
		lonPredVar:    t.lonPredVar,
		latPredVar:    t.latPredVar,
		mosPredVar:    t.mosPredVar,
		refreshTime:   t.refreshTime,
		refreshSeq:    t.refreshSeq,
		healthy:       t.healthy,
		filt:          t.filt.Clone(),
		features:      make(map[string]*featureState, len(t.features)),
	}
	for name, fs := range t.features {
		cp2 := *fs
		cp.features[name] = &cp2
	}
	return cp
}
