// Package roadgraph implements the read-only Static Map external
// collaborator described in spec.md §6: a graph of street nodes and
// edges consumed by grouping.RoadGraphSelector.
package roadgraph

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/kestrelnet/tracker/grouping"
)

// Node is one street-graph vertex.
type Node struct {
	ID       grouping.NodeID
	Position orb.Point // (lon, lat)
	Mos      float64
}

// Graph is a simple in-memory, read-only road graph. It is built once
// (e.g. by a config/database loader external to this package) and
// never mutated by the tracking core.
type Graph struct {
	nodes      map[grouping.NodeID]Node
	edges      map[grouping.NodeID][]grouping.Edge
	minLon, minLat float64
}

// NewGraph builds a Graph from nodes and edges, computing the
// normalisation origin as the minimum lon/lat across all nodes, per
// spec.md §6.
func NewGraph(nodes []Node, edges []grouping.Edge) *Graph {
	g := &Graph{
		nodes: make(map[grouping.NodeID]Node, len(nodes)),
		edges: make(map[grouping.NodeID][]grouping.Edge),
	}
	first := true
	for _, n := range nodes {
		g.nodes[n.ID] = n
		if first || n.Position.Lon() < g.minLon {
			g.minLon = n.Position.Lon()
		}
		if first || n.Position.Lat() < g.minLat {
			g.minLat = n.Position.Lat()
		}
		first = false
	}
	for _, e := range edges {
		g.edges[e.A] = append(g.edges[e.A], e)
		g.edges[e.B] = append(g.edges[e.B], e)
	}
	return g
}

// StreetsAt implements grouping.StaticMap.
func (g *Graph) StreetsAt(node grouping.NodeID) []grouping.Edge {
	return g.edges[node]
}

// NodePosition implements grouping.StaticMap.
func (g *Graph) NodePosition(node grouping.NodeID) (orb.Point, bool) {
	n, ok := g.nodes[node]
	return n.Position, ok
}

// Origin implements grouping.StaticMap.
func (g *Graph) Origin() (minLon, minLat float64) {
	return g.minLon, g.minLat
}

// NearestNode implements grouping.StaticMap with a linear scan. Graphs
// large enough to need better than O(n) should wrap a Graph in a
// spatial index of their own before handing it to CachedGraph; that is
// outside this package's read-only contract.
func (g *Graph) NearestNode(lon, lat float64) (node grouping.NodeID, distanceMeters float64, ok bool) {
	pt := orb.Point{lon, lat}
	best := -1.0
	for id, n := range g.nodes {
		d := geo.Distance(pt, n.Position)
		if best < 0 || d < best {
			best = d
			node = id
			ok = true
		}
	}
	return node, best, ok
}
