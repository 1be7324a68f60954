package topology

import (
	"math"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// UpDown orders routers by breadth-first level from a root router and
// answers distances over up*/down* paths: any number of up moves followed by
// any number of down moves. A move from a to b is up when b has a lower
// level, or the same level and a lower index, so every link has exactly one
// up direction and the paths are free of cyclic channel dependencies.
//
// Distance tables are computed lazily per destination. UpDown is not safe
// for concurrent use.
type UpDown struct {
	topo  Topology
	level []int
	// states holds node 2*r for a packet at r still allowed to go up and
	// 2*r+1 for one already descending. Edges are legal moves reversed, so a
	// search from the destination states yields distances to it.
	states *simple.DirectedGraph
	cache  map[int][]int
}

// NewUpDown computes router levels with a BFS from root.
func NewUpDown(t Topology, root int) *UpDown {
	n := t.NumRouters()
	routers := routerGraph(t)
	level := make([]int, n)
	for i := range level {
		// Routers unreachable from root get a level past every reachable one.
		level[i] = n
	}
	var bfs traverse.BreadthFirst
	bfs.Walk(routers, simple.Node(root), func(node gonumgraph.Node, depth int) bool {
		level[node.ID()] = depth
		return false
	})

	u := &UpDown{topo: t, level: level, cache: make(map[int][]int)}
	u.states = u.stateGraph()
	return u
}

// routerGraph is the undirected router-to-router graph of t.
func routerGraph(t Topology) *simple.UndirectedGraph {
	n := t.NumRouters()
	g := simple.NewUndirectedGraph()
	for r := 0; r < n; r++ {
		g.AddNode(simple.Node(r))
	}
	for r := 0; r < n; r++ {
		for p := 0; p < t.Ports(r); p++ {
			loc, _ := t.Neighbour(r, p)
			if !loc.IsRouter() || loc.Router == r || loc.Router < 0 || loc.Router >= n {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(r), simple.Node(loc.Router)))
		}
	}
	return g
}

func ascending(r int) simple.Node  { return simple.Node(2 * r) }
func descending(r int) simple.Node { return simple.Node(2*r + 1) }

func (u *UpDown) stateGraph() *simple.DirectedGraph {
	n := u.topo.NumRouters()
	g := simple.NewDirectedGraph()
	for r := 0; r < n; r++ {
		g.AddNode(ascending(r))
		g.AddNode(descending(r))
	}
	for x := 0; x < n; x++ {
		for p := 0; p < u.topo.Ports(x); p++ {
			loc, _ := u.topo.Neighbour(x, p)
			if !loc.IsRouter() || loc.Router == x {
				continue
			}
			y := loc.Router
			if u.IsUp(x, y) {
				// Only an ascending packet moves up, and stays ascending.
				g.SetEdge(g.NewEdge(ascending(y), ascending(x)))
				continue
			}
			// A down move is legal from either state and ends descending.
			g.SetEdge(g.NewEdge(descending(y), ascending(x)))
			g.SetEdge(g.NewEdge(descending(y), descending(x)))
		}
	}
	return g
}

// Level returns the BFS level of a router.
func (u *UpDown) Level(router int) int { return u.level[router] }

// IsUp reports whether moving from router a to its neighbour b goes up.
func (u *UpDown) IsUp(a, b int) bool {
	if u.level[b] != u.level[a] {
		return u.level[b] < u.level[a]
	}
	return b < a
}

// Distance is the length of the shortest legal up*/down* path from current to
// destination, given whether the packet already made a down move. It
// returns -1 when no legal path exists.
func (u *UpDown) Distance(current int, descendingState bool, destination int) int {
	table, ok := u.cache[destination]
	if !ok {
		table = u.table(destination)
		u.cache[destination] = table
	}
	idx := 2 * current
	if descendingState {
		idx++
	}
	return table[idx]
}

// table holds the distance of every state to destination, reached in
// either state.
func (u *UpDown) table(destination int) []int {
	up := path.DijkstraFrom(ascending(destination), u.states)
	down := path.DijkstraFrom(descending(destination), u.states)
	dist := make([]int, 2*u.topo.NumRouters())
	for state := range dist {
		w := math.Min(up.WeightTo(int64(state)), down.WeightTo(int64(state)))
		if math.IsInf(w, 1) {
			dist[state] = -1
			continue
		}
		dist[state] = int(w)
	}
	return dist
}
