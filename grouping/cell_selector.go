package grouping

import (
	"github.com/golang/geo/s2"

	"github.com/kestrelnet/tracker/report"
)

// CellLevel is an S2 cell level (0-30), mirroring the teacher's own
// s2.CellLevel: coarser levels group larger neighbourhoods.
type CellLevel int

// DefaultCellLevel buckets reports into ~75m-wide cells, a reasonable
// default pedestrian/vehicle detection neighbourhood.
const DefaultCellLevel CellLevel = 17

// CellSelector partitions a cohort by shared S2 cell membership: two
// reports fall in the same group iff their positions truncate to the
// same cell at Level. This mirrors s2/cell_indexer.go's levelled
// cell-bucketing, generalized from "index for storage dedup" to
// "group for association".
type CellSelector struct {
	Level CellLevel
}

// NewCellSelector returns a CellSelector at the given level. A
// non-positive level falls back to DefaultCellLevel.
func NewCellSelector(level CellLevel) *CellSelector {
	if level <= 0 || level > 30 {
		level = DefaultCellLevel
	}
	return &CellSelector{Level: level}
}

// Select implements Selector.
func (s *CellSelector) Select(cohort []report.Detection) ([]Group, error) {
	if err := validate(cohort); err != nil {
		return nil, err
	}
	if len(cohort) == 0 {
		return nil, nil
	}

	buckets := make(map[s2.CellID][]report.Detection)
	var order []s2.CellID
	for _, d := range cohort {
		cell := cellIDAtLevel(d.Longitude, d.Latitude, s.Level)
		if _, seen := buckets[cell]; !seen {
			order = append(order, cell)
		}
		buckets[cell] = append(buckets[cell], d)
	}

	groups := make([]Group, 0, len(order))
	for _, cell := range order {
		groups = append(groups, Group(buckets[cell]))
	}
	return groups, nil
}

// cellIDAtLevel truncates the leaf S2 cell for (lon, lat) to level,
// following s2/cell.go's CellIDWithLevel bit-truncation approach.
func cellIDAtLevel(lon, lat float64, level CellLevel) s2.CellID {
	leaf := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon))
	var lsb uint64 = 1 << (2 * (30 - uint(level)))
	truncated := (uint64(leaf) & -lsb) | lsb
	return s2.CellID(truncated)
}
