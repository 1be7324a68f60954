package topology

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// graph holds the port tables shared by every topology implementation.
// Router ports come first in each router's table, then its server ports.
type graph struct {
	name      string
	ports     [][]Location
	servers   []Location
	distances [][]int
	diameter  int
}

func (g *graph) Name() string         { return g.name }
func (g *graph) NumRouters() int      { return len(g.ports) }
func (g *graph) NumServers() int      { return len(g.servers) }
func (g *graph) Ports(router int) int { return len(g.ports[router]) }
func (g *graph) Diameter() int        { return g.diameter }

func (g *graph) Neighbour(router, port int) (Location, int) {
	loc := g.ports[router][port]
	if loc.IsServer() {
		return loc, LinkClassServer
	}
	return loc, LinkClassRouter
}

func (g *graph) ServerNeighbour(server int) (Location, int) {
	return g.servers[server], LinkClassServer
}

func (g *graph) Degree(router int) int {
	degree := 0
	for _, loc := range g.ports[router] {
		if loc.IsRouter() {
			degree++
		}
	}
	return degree
}

func (g *graph) Distance(origin, destination int) int {
	return g.distances[origin][destination]
}

func (g *graph) Coordinates(int) []int                { return nil }
func (g *graph) RoutingRecord(int, int) []int         { return nil }
func (g *graph) IsDirectionChange(int, int, int) bool { return true }

// attachServers appends serversPerRouter server ports to every router and
// records where each server lives. Server s is attached to router s/serversPerRouter.
func (g *graph) attachServers(serversPerRouter int) {
	g.servers = make([]Location, 0, len(g.ports)*serversPerRouter)
	for r := range g.ports {
		for k := 0; k < serversPerRouter; k++ {
			server := len(g.servers)
			g.servers = append(g.servers, RouterPort(r, len(g.ports[r])))
			g.ports[r] = append(g.ports[r], ServerPort(server))
		}
	}
}

// computeDistances fills the all-pairs router distance table.
// Unreachable pairs get -1. Self links are ignored here; Check reports them.
func (g *graph) computeDistances() {
	n := len(g.ports)
	ug := simple.NewUndirectedGraph()
	for r := 0; r < n; r++ {
		ug.AddNode(simple.Node(r))
	}
	for r, ports := range g.ports {
		for _, loc := range ports {
			if !loc.IsRouter() || loc.Router == r || loc.Router < 0 || loc.Router >= n {
				continue
			}
			ug.SetEdge(ug.NewEdge(simple.Node(r), simple.Node(loc.Router)))
		}
	}
	shortest := path.DijkstraAllPaths(ug)
	g.distances = make([][]int, n)
	g.diameter = 0
	for a := 0; a < n; a++ {
		g.distances[a] = make([]int, n)
		for b := 0; b < n; b++ {
			w := shortest.Weight(int64(a), int64(b))
			if math.IsInf(w, 1) {
				g.distances[a][b] = -1
				continue
			}
			d := int(w)
			g.distances[a][b] = d
			if d > g.diameter {
				g.diameter = d
			}
		}
	}
}

// DistanceHistogram counts router pairs (a != b) by distance. Unreachable
// pairs are counted at index 0.
func DistanceHistogram(t Topology) []int {
	hist := make([]int, t.Diameter()+1)
	for a := 0; a < t.NumRouters(); a++ {
		for b := 0; b < t.NumRouters(); b++ {
			if a == b {
				continue
			}
			d := t.Distance(a, b)
			if d < 0 {
				d = 0
			}
			hist[d]++
		}
	}
	return hist
}

// Links counts router-to-router links, each direction counted once.
func Links(t Topology) int {
	total := 0
	for r := 0; r < t.NumRouters(); r++ {
		total += t.Degree(r)
	}
	return total
}

// ServerPorts returns the ports of router that lead to servers.
func ServerPorts(t Topology, router int) []int {
	var ports []int
	for p := 0; p < t.Ports(router); p++ {
		if loc, _ := t.Neighbour(router, p); loc.IsServer() {
			ports = append(ports, p)
		}
	}
	return ports
}

// Describe is a one-line summary used by the CLI.
func Describe(t Topology) string {
	return fmt.Sprintf("%s: routers=%d servers=%d links=%d diameter=%d",
		t.Name(), t.NumRouters(), t.NumServers(), Links(t), t.Diameter())
}
