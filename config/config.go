// Package config loads tracker configuration from file and environment
// into a Config tree, grounded on params/config.go's grouped
// nested-struct-with-Default-vars layout.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"

	"github.com/kestrelnet/tracker/assoc"
	"github.com/kestrelnet/tracker/filter"
)

// ErrMissingRequired is returned by Load when a config key with no
// implicit default is absent or zero. Unlike every other tuning knob
// in this package, track.ttl_ms has no DefaultX constant (spec.md §9,
// Open Question 1): an operator must decide it explicitly.
var ErrMissingRequired = errors.New("config: missing required key")

// AlignmentConfig configures the Alignment Processor.
type AlignmentConfig struct {
	WindowMs int64
}

// DefaultAlignmentConfig mirrors align.DefaultWindow.
var DefaultAlignmentConfig = AlignmentConfig{WindowMs: 1000}

// AssociationConfig configures the Data Associator.
type AssociationConfig struct {
	Threshold        float64
	ResultComparator string // "or" | "and"
	ListComparator   string // "or" | "and"
}

// DefaultAssociationConfig mirrors assoc.DefaultThreshold and the
// OR/OR comparator pairing spec.md §4.4 uses as its running example.
var DefaultAssociationConfig = AssociationConfig{
	Threshold:        assoc.DefaultThreshold,
	ResultComparator: "or",
	ListComparator:   "or",
}

// TrackConfig configures the Track Manager.
type TrackConfig struct {
	// TTLMs is required; see ErrMissingRequired.
	TTLMs int64
	// FeatureTTLRefreshes is the number of refreshes a learned feature
	// survives without reinforcement before it is pruned. Zero
	// disables feature decay.
	FeatureTTLRefreshes uint64
}

// FilterConfig configures the per-track Kalman filter. DtSeconds,
// ProcessVar and MeasurementVar describe the constant-velocity
// prototype (filter.ConstantVelocityConfig) used when A/Q/R/H are left
// unset; an operator who needs a different linear Gaussian model can
// instead declare A, B, Q, R and H directly as row-major matrices of
// the declared shape (filter.StateDim x filter.StateDim for A/Q,
// filter.ObsDim x filter.ObsDim for R, filter.ObsDim x filter.StateDim
// for H, filter.StateDim x controlDim for the optional B), and those
// take precedence.
type FilterConfig struct {
	DtSeconds      float64
	ProcessVar     float64
	MeasurementVar float64

	A [][]float64
	B [][]float64
	Q [][]float64
	R [][]float64
	H [][]float64
}

// DefaultFilterConfig is a conservative constant-velocity tuning: one
// second between predictions, modest process noise, modest sensor
// noise.
var DefaultFilterConfig = FilterConfig{
	DtSeconds:      1,
	ProcessVar:     0.01,
	MeasurementVar: 1,
}

// HTTPConfig configures httpapi.Server.
type HTTPConfig struct {
	Addr string
}

// DefaultHTTPConfig binds the read-only snapshot API to localhost only;
// operators deploying behind a load balancer must opt into a wider
// bind explicitly.
var DefaultHTTPConfig = HTTPConfig{Addr: "127.0.0.1:8080"}

// Config is the full tracker configuration tree.
type Config struct {
	Alignment   AlignmentConfig
	Association AssociationConfig
	Track       TrackConfig
	Filter      FilterConfig
	HTTP        HTTPConfig
}

// Load reads configuration from path (if non-empty), then TRACKER_-
// prefixed environment variables, applying every DefaultX value above
// for keys left unset. track.ttl_ms has no default; Load returns
// ErrMissingRequired if it is absent or zero once both file and
// environment have been consulted.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKER")
	v.AutomaticEnv()

	v.SetDefault("alignment.window_ms", DefaultAlignmentConfig.WindowMs)
	v.SetDefault("association.threshold", DefaultAssociationConfig.Threshold)
	v.SetDefault("association.result_comparator", DefaultAssociationConfig.ResultComparator)
	v.SetDefault("association.list_comparator", DefaultAssociationConfig.ListComparator)
	v.SetDefault("track.feature_ttl_refreshes", 0)
	v.SetDefault("filter.dt_seconds", DefaultFilterConfig.DtSeconds)
	v.SetDefault("filter.process_var", DefaultFilterConfig.ProcessVar)
	v.SetDefault("filter.measurement_var", DefaultFilterConfig.MeasurementVar)
	v.SetDefault("http.addr", DefaultHTTPConfig.Addr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	ttlMs := v.GetInt64("track.ttl_ms")
	if ttlMs <= 0 {
		return Config{}, fmt.Errorf("%w: track.ttl_ms", ErrMissingRequired)
	}

	var a, b, q, r, h [][]float64
	for key, dst := range map[string]*[][]float64{
		"filter.a": &a, "filter.b": &b, "filter.q": &q, "filter.r": &r, "filter.h": &h,
	} {
		if err := v.UnmarshalKey(key, dst); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", key, err)
		}
	}

	return Config{
		Alignment: AlignmentConfig{
			WindowMs: v.GetInt64("alignment.window_ms"),
		},
		Association: AssociationConfig{
			Threshold:        v.GetFloat64("association.threshold"),
			ResultComparator: v.GetString("association.result_comparator"),
			ListComparator:   v.GetString("association.list_comparator"),
		},
		Track: TrackConfig{
			TTLMs:               ttlMs,
			FeatureTTLRefreshes: v.GetUint64("track.feature_ttl_refreshes"),
		},
		Filter: FilterConfig{
			DtSeconds:      v.GetFloat64("filter.dt_seconds"),
			ProcessVar:     v.GetFloat64("filter.process_var"),
			MeasurementVar: v.GetFloat64("filter.measurement_var"),
			A:              a,
			B:              b,
			Q:              q,
			R:              r,
			H:              h,
		},
		HTTP: HTTPConfig{
			Addr: v.GetString("http.addr"),
		},
	}, nil
}

// denseOf converts a row-major matrix literal into a *mat.Dense, or
// returns nil for an empty literal.
func denseOf(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	cols := len(rows[0])
	flat := make([]float64, 0, len(rows)*cols)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return mat.NewDense(len(rows), cols, flat)
}

// ResolvedFilter resolves the configured filter.Config: an operator
// who declared filter.a/q/r/h gets exactly that linear Gaussian model
// (spec.md §6); otherwise the DtSeconds/ProcessVar/MeasurementVar
// constant-velocity prototype is used.
func (c Config) ResolvedFilter() filter.Config {
	if len(c.Filter.A) == 0 && len(c.Filter.Q) == 0 && len(c.Filter.R) == 0 && len(c.Filter.H) == 0 {
		return filter.ConstantVelocityConfig(c.Filter.DtSeconds, c.Filter.ProcessVar, c.Filter.MeasurementVar)
	}
	return filter.Config{
		A: denseOf(c.Filter.A),
		B: denseOf(c.Filter.B),
		Q: denseOf(c.Filter.Q),
		R: denseOf(c.Filter.R),
		H: denseOf(c.Filter.H),
	}
}

// Window returns the alignment window as a time.Duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.Alignment.WindowMs) * time.Millisecond
}

// TTL returns the track TTL as a time.Duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.Track.TTLMs) * time.Millisecond
}

// ResultComparator resolves the configured string into an
// assoc.ResultComparator.
func (c Config) ResultComparator() (assoc.ResultComparator, error) {
	switch c.Association.ResultComparator {
	case "", "or":
		return assoc.ResultOR, nil
	case "and":
		return assoc.ResultAND, nil
	default:
		return 0, fmt.Errorf("config: unknown association.result_comparator %q", c.Association.ResultComparator)
	}
}

// ListComparator resolves the configured string into an
// assoc.ListComparator.
func (c Config) ListComparator() (assoc.ListComparator, error) {
	switch c.Association.ListComparator {
	case "", "or":
		return assoc.ListOR, nil
	case "and":
		return assoc.ListAND, nil
	default:
		return 0, fmt.Errorf("config: unknown association.list_comparator %q", c.Association.ListComparator)
	}
}
