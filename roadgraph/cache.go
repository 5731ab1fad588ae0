package roadgraph

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/golang/groupcache"
	"github.com/paulmach/orb"

	"github.com/kestrelnet/tracker/grouping"
)

// CachedGraph wraps a StaticMap with a per-process LRU cache in front
// of a groupcache peer group, so that multiple pipeline processes
// sharing one road-graph backing store do not each pay the full
// StreetsAt/NodePosition load cost. Mirrors s2/cell_indexer.go's
// "LRU cache in front of a shared store" shape, generalized from a
// bbolt-backed cell index to a peer-shared road graph.
type CachedGraph struct {
	backing grouping.StaticMap
	hot     *lru.Cache[grouping.NodeID, Node]
	peers   *groupcache.Group
}

// NewCachedGraph wraps backing with an LRU of the given size and a
// groupcache peer group named groupName (unique per road-graph
// dataset, so multiple graphs in one process do not collide).
func NewCachedGraph(backing grouping.StaticMap, groupName string, lruSize int) (*CachedGraph, error) {
	hot, err := lru.New[grouping.NodeID, Node](lruSize)
	if err != nil {
		return nil, fmt.Errorf("roadgraph: building LRU: %w", err)
	}
	cg := &CachedGraph{backing: backing, hot: hot}
	cg.peers = groupcache.NewGroup(groupName, 64<<20, groupcache.GetterFunc(cg.load))
	return cg, nil
}

// load is the groupcache Getter: it is invoked at most once per node
// per peer group, regardless of how many local callers ask for it
// concurrently, and fills sink with a JSON-encoded Node.
func (c *CachedGraph) load(ctx groupcache.Context, key string, sink groupcache.Sink) error {
	var id grouping.NodeID
	if _, err := fmt.Sscanf(key, "%d", &id); err != nil {
		return fmt.Errorf("roadgraph: bad cache key %q: %w", key, err)
	}
	pos, ok := c.backing.NodePosition(id)
	if !ok {
		return fmt.Errorf("roadgraph: node %d not found", id)
	}
	n := Node{ID: id, Position: pos}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return sink.SetBytes(data)
}

// NodePosition implements grouping.StaticMap, consulting the LRU
// first, then the groupcache peer group, falling back to backing on a
// cold miss.
func (c *CachedGraph) NodePosition(id grouping.NodeID) (orb.Point, bool) {
	if n, ok := c.hot.Get(id); ok {
		return n.Position, true
	}
	var data []byte
	if err := c.peers.Get(nil, fmt.Sprintf("%d", id), groupcache.AllocatingByteSliceSink(&data)); err == nil {
		var n Node
		if json.Unmarshal(data, &n) == nil {
			c.hot.Add(id, n)
			return n.Position, true
		}
	}
	return c.backing.NodePosition(id)
}

// StreetsAt implements grouping.StaticMap by delegating to backing;
// edge lists are not cached.
func (c *CachedGraph) StreetsAt(id grouping.NodeID) []grouping.Edge {
	return c.backing.StreetsAt(id)
}

// NearestNode implements grouping.StaticMap by delegating to backing.
func (c *CachedGraph) NearestNode(lon, lat float64) (grouping.NodeID, float64, bool) {
	return c.backing.NearestNode(lon, lat)
}

// Origin implements grouping.StaticMap by delegating to backing.
func (c *CachedGraph) Origin() (minLon, minLat float64) {
	return c.backing.Origin()
}
