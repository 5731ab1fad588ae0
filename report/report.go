// Package report defines the detection report: the immutable,
// value-typed measurement emitted by a sensor and consumed by the rest
// of the tracking pipeline.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// ErrBadInput is returned when a report fails intake validation:
// out-of-domain coordinates or a malformed feature set.
var ErrBadInput = errors.New("report: bad input")

// SensorID identifies the sensor that produced a Detection. Opaque to
// the tracker; sensors are never compared for equality beyond this.
type SensorID string

// FeatureKind distinguishes how a Feature's value should be compared.
type FeatureKind int

const (
	// FeatureString compares feature values by exact string equality.
	FeatureString FeatureKind = iota
	// FeatureNumber compares feature values as float64, within the
	// comparator's own tolerance.
	FeatureNumber
	// FeatureDecimal compares feature values as exact-precision
	// decimals, for readings (e.g. signal strength) where float64
	// epsilon drift would make a threshold comparison flaky.
	FeatureDecimal
)

// Feature is one named, typed observation carried by a Detection, e.g.
// {Name: "color", Kind: FeatureString, String: "red"}.
type Feature struct {
	Name    string
	Kind    FeatureKind
	String  string
	Number  float64
	Decimal decimal.Decimal
}

// Detection is a single timestamped observation from one sensor. It is
// immutable and value-typed: callers must not mutate a Detection after
// construction; Copy fields as needed instead.
type Detection struct {
	SensorID      SensorID
	SensorTime    time.Time
	Longitude     float64
	Latitude      float64
	MetersOverSea float64
	Features      []Feature

	// seq disambiguates two reports sharing (SensorTime, SensorID);
	// it is assigned by New in call order and only used for a stable
	// total order, never for equality or hashing.
	seq uint64
}

var seqCounter uint64

// New constructs a Detection and assigns it the next sequence number
// used to break (SensorTime, SensorID) ties in Less. It does not
// validate; call Validate before the report enters the pipeline.
func New(sensor SensorID, at time.Time, lon, lat, mos float64, features ...Feature) Detection {
	seqCounter++
	return Detection{
		SensorID:      sensor,
		SensorTime:    at,
		Longitude:     lon,
		Latitude:      lat,
		MetersOverSea: mos,
		Features:      features,
		seq:           seqCounter,
	}
}

// SeqID returns the report's construction-order sequence number: a
// stable identity for set-subtraction and dedup, since Detection's
// slice-valued Features field makes the struct itself incomparable.
func (d Detection) SeqID() uint64 {
	return d.seq
}

// Point returns the report's position as a planar orb.Point (lon, lat).
func (d Detection) Point() orb.Point {
	return orb.Point{d.Longitude, d.Latitude}
}

// Feature returns the named feature and true if present.
func (d Detection) Feature(name string) (Feature, bool) {
	for _, f := range d.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// Less totally orders Detections by (SensorTime, SensorID, seq),
// satisfying spec's requirement that reports be insertable into
// ordered containers.
func (d Detection) Less(other Detection) bool {
	if !d.SensorTime.Equal(other.SensorTime) {
		return d.SensorTime.Before(other.SensorTime)
	}
	if d.SensorID != other.SensorID {
		return d.SensorID < other.SensorID
	}
	return d.seq < other.seq
}

// Validate rejects a Detection whose coordinates fall outside the
// declared geodetic domain. Called (through ValidateAll) at intake by
// the pipeline driver and by grouping.
func (d Detection) Validate() error {
	if d.Longitude < -180 || d.Longitude > 180 {
		return fmt.Errorf("%w: longitude %.6f out of range", ErrBadInput, d.Longitude)
	}
	if d.Latitude < -90 || d.Latitude > 90 {
		return fmt.Errorf("%w: latitude %.6f out of range", ErrBadInput, d.Latitude)
	}
	if d.MetersOverSea < -420 || d.MetersOverSea > 8850 {
		return fmt.Errorf("%w: meters_over_sea %.2f out of range", ErrBadInput, d.MetersOverSea)
	}
	seen := make(map[string]bool, len(d.Features))
	for _, f := range d.Features {
		if f.Name == "" {
			return fmt.Errorf("%w: feature with empty name", ErrBadInput)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate feature name %q", ErrBadInput, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// ValidateAll validates a batch and reports the first failure found,
// per spec.md §7: an offending batch is rejected wholesale at intake.
func ValidateAll(reports []Detection) error {
	for i := range reports {
		if err := reports[i].Validate(); err != nil {
			return fmt.Errorf("report %d: %w", i, err)
		}
	}
	return nil
}
