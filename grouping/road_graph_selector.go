package grouping

import (
	"github.com/paulmach/orb"

	"github.com/kestrelnet/tracker/report"
)

// NodeID identifies a node in a StaticMap's street graph.
type NodeID uint64

// Edge is a pair of connected NodeIDs.
type Edge struct {
	A, B NodeID
}

// StaticMap is the read-only external collaborator described in
// spec.md §6: a graph of street nodes (id, lon, lat, mos) and edges,
// with a normalisation origin used for planar projection.
type StaticMap interface {
	// StreetsAt returns the edges incident to node.
	StreetsAt(node NodeID) []Edge
	// NearestNode returns the graph node closest to (lon, lat) and
	// its distance in meters.
	NearestNode(lon, lat float64) (node NodeID, distanceMeters float64, ok bool)
	// NodePosition returns a node's position.
	NodePosition(node NodeID) (orb.Point, bool)
	// Origin returns the (min_lon, min_lat) planar-projection origin.
	Origin() (minLon, minLat float64)
}

// RoadGraphSelector partitions a cohort using road-graph proximity:
// two reports are candidates for the same object iff they snap to the
// same StaticMap node (within SnapRadiusMeters), or, failing that,
// lie within EuclideanFallbackMeters in a straight line of the first
// unsnapped report of their group (see euclideanCluster) — the
// fallback covers off-road detections a road graph has no node for. This satisfies spec.md §4.2's contract that a selector "may use
// sensor geometry, road-graph proximity, or Euclidean distance".
type RoadGraphSelector struct {
	Map                    StaticMap
	SnapRadiusMeters       float64
	EuclideanFallbackMeters float64
}

// DefaultSnapRadiusMeters is the default distance within which a
// report is considered to lie "at" a road-graph node.
const DefaultSnapRadiusMeters = 25.0

// DefaultEuclideanFallbackMeters is the default neighbourhood radius
// used when a report snaps to no road-graph node.
const DefaultEuclideanFallbackMeters = 50.0

// NewRoadGraphSelector returns a RoadGraphSelector over m with default
// radii.
func NewRoadGraphSelector(m StaticMap) *RoadGraphSelector {
	return &RoadGraphSelector{
		Map:                     m,
		SnapRadiusMeters:        DefaultSnapRadiusMeters,
		EuclideanFallbackMeters: DefaultEuclideanFallbackMeters,
	}
}

// Select implements Selector.
func (s *RoadGraphSelector) Select(cohort []report.Detection) ([]Group, error) {
	if err := validate(cohort); err != nil {
		return nil, err
	}
	if len(cohort) == 0 {
		return nil, nil
	}

	byNode := make(map[NodeID][]report.Detection)
	var nodeOrder []NodeID
	var unsnapped []report.Detection

	for _, d := range cohort {
		node, dist, ok := s.Map.NearestNode(d.Longitude, d.Latitude)
		if ok && dist <= s.SnapRadiusMeters {
			if _, seen := byNode[node]; !seen {
				nodeOrder = append(nodeOrder, node)
			}
			byNode[node] = append(byNode[node], d)
			continue
		}
		unsnapped = append(unsnapped, d)
	}

	groups := make([]Group, 0, len(nodeOrder)+len(unsnapped))
	for _, node := range nodeOrder {
		groups = append(groups, Group(byNode[node]))
	}
	groups = append(groups, euclideanCluster(unsnapped, s.EuclideanFallbackMeters)...)
	return groups, nil
}

// euclideanCluster greedily partitions reports with no road-graph node
// into groups whose members are all within radiusMeters of the first
// (earliest-inserted) member of the group — a single-linkage-from-seed
// clustering, deterministic given input order.
func euclideanCluster(reports []report.Detection, radiusMeters float64) []Group {
	var groups []Group
	for _, d := range reports {
		placed := false
		for i := range groups {
			seed := groups[i][0]
			if haversineMeters(seed.Point(), d.Point()) <= radiusMeters {
				groups[i] = append(groups[i], d)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, Group{d})
		}
	}
	return groups
}
