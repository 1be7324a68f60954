package topology

import "fmt"

// NewIrregular builds a topology from an explicit adjacency list:
// adjacency[r][p] is the router reached through port p of router r, or -1
// for an unconnected port. Links are paired in port order, so the k-th port
// of a listing b is matched with the k-th port of b listing a.
func NewIrregular(adjacency [][]int, serversPerRouter int) (Topology, error) {
	if len(adjacency) == 0 {
		return nil, fmt.Errorf("%w: irregular topology needs an adjacency list", ErrInvalid)
	}
	n := len(adjacency)
	g := &graph{name: "irregular", ports: make([][]Location, n)}
	for r, row := range adjacency {
		g.ports[r] = make([]Location, len(row))
		for p := range row {
			g.ports[r][p] = Unconnected
		}
	}
	for r, row := range adjacency {
		for p, other := range row {
			if other < 0 {
				continue
			}
			if other >= n {
				return nil, fmt.Errorf("%w: router %d port %d links to router %d, only %d routers", ErrInvalid, r, p, other, n)
			}
			if other == r {
				return nil, fmt.Errorf("%w: router %d port %d links to itself", ErrInvalid, r, p)
			}
			if g.ports[r][p].IsRouter() {
				continue // paired from the other side
			}
			back := -1
			for q, candidate := range adjacency[other] {
				if candidate == r && !g.ports[other][q].IsRouter() {
					back = q
					break
				}
			}
			if back < 0 {
				return nil, fmt.Errorf("%w: router %d port %d links to router %d which has no matching port", ErrInvalid, r, p, other)
			}
			g.ports[r][p] = RouterPort(other, back)
			g.ports[other][back] = RouterPort(r, p)
		}
	}
	g.attachServers(serversPerRouter)
	g.computeDistances()
	return g, nil
}
