// Package wire decodes raw sensor payloads into report.Detection
// values. Sensors disagree on shape (a flat object, an array of flat
// objects, or an array of {sensor, lon, lat, ...} maps with a nested
// feature bag), so decoding is tolerant: try each known shape in turn
// and fail only once none of them match, grounded on types/decode.go's
// shotgun-decode philosophy.
package wire

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/kestrelnet/tracker/report"
)

// ErrDecode is returned by DecodeDetections when data matches none of
// the known payload shapes.
var ErrDecode = fmt.Errorf("wire: could not decode as a detection or detection array")

// DecodeDetections decodes data into one or more report.Detection
// values. data may be a single JSON object or a JSON array of objects;
// every element is decoded independently, so one malformed element
// fails the whole call (callers wanting partial acceptance should
// split the array themselves before calling DecodeDetections).
func DecodeDetections(data []byte) ([]report.Detection, error) {
	parsed := gjson.ParseBytes(data)
	if !parsed.Exists() {
		return nil, ErrDecode
	}

	if parsed.IsArray() {
		arr := parsed.Array()
		if len(arr) == 0 {
			return nil, fmt.Errorf("%w: empty array", ErrDecode)
		}
		out := make([]report.Detection, 0, len(arr))
		for _, el := range arr {
			d, err := decodeOne(el)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	}

	if parsed.IsObject() {
		d, err := decodeOne(parsed)
		if err != nil {
			return nil, err
		}
		return []report.Detection{d}, nil
	}

	return nil, ErrDecode
}

// decodeOne decodes a single JSON object into a Detection. Expected
// fields: sensor_id (string), sensor_time (RFC3339 string or unix
// seconds number), lon, lat, meters_over_sea (numbers), and an
// optional features array of {name, kind, value}.
func decodeOne(obj gjson.Result) (report.Detection, error) {
	sensorID := obj.Get("sensor_id")
	if !sensorID.Exists() {
		return report.Detection{}, fmt.Errorf("%w: missing sensor_id", ErrDecode)
	}

	at, err := decodeTime(obj.Get("sensor_time"))
	if err != nil {
		return report.Detection{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	lon := obj.Get("lon")
	lat := obj.Get("lat")
	if !lon.Exists() || !lat.Exists() {
		return report.Detection{}, fmt.Errorf("%w: missing lon/lat", ErrDecode)
	}

	features, err := decodeFeatures(obj.Get("features"))
	if err != nil {
		return report.Detection{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return report.New(
		report.SensorID(sensorID.String()),
		at,
		lon.Float(),
		lat.Float(),
		obj.Get("meters_over_sea").Float(),
		features...,
	), nil
}

func decodeTime(v gjson.Result) (time.Time, error) {
	if !v.Exists() {
		return time.Time{}, fmt.Errorf("missing sensor_time")
	}
	if v.Type == gjson.String {
		t, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("bad sensor_time %q: %w", v.String(), err)
		}
		return t, nil
	}
	secs := v.Float()
	return time.Unix(0, int64(secs*float64(time.Second))), nil
}

func decodeFeatures(v gjson.Result) ([]report.Feature, error) {
	if !v.Exists() || !v.IsArray() {
		return nil, nil
	}
	var out []report.Feature
	var rangeErr error
	v.ForEach(func(_, el gjson.Result) bool {
		name := el.Get("name")
		if !name.Exists() {
			rangeErr = fmt.Errorf("feature missing name")
			return false
		}
		kind := el.Get("kind").String()
		val := el.Get("value")

		f := report.Feature{Name: name.String()}
		switch kind {
		case "", "string":
			f.Kind = report.FeatureString
			f.String = val.String()
		case "number":
			f.Kind = report.FeatureNumber
			f.Number = val.Float()
		case "decimal":
			f.Kind = report.FeatureDecimal
			d, err := decimal.NewFromString(val.String())
			if err != nil {
				rangeErr = fmt.Errorf("feature %q: bad decimal %q: %w", f.Name, val.String(), err)
				return false
			}
			f.Decimal = d
		default:
			rangeErr = fmt.Errorf("feature %q: unknown kind %q", f.Name, kind)
			return false
		}
		out = append(out, f)
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return out, nil
}
