package topology

import "fmt"

// Cartesian is a topology with routers laid out on a grid. Router indices are
// mixed-radix numbers over Sides, lowest dimension first.
type Cartesian interface {
	Topology
	Sides() []int
	// PortTowards returns the port of router that moves delta positions along
	// dimension, or false when no such port exists.
	PortTowards(router, dimension, delta int) (int, bool)
}

type cartesianKind int

const (
	kindMesh cartesianKind = iota
	kindTorus
	kindHamming
)

// grid implements meshes, tori, rings and Hamming graphs.
//
// Mesh and torus routers have two ports per dimension: 2d for the negative
// direction, 2d+1 for the positive one. Mesh borders leave ports unconnected.
// Hamming routers have sides[d]-1 ports per dimension, one per other
// coordinate value in that dimension, in increasing order.
type grid struct {
	*graph
	kind  cartesianKind
	sides []int
	// offsets[d] is the first port of dimension d (Hamming only).
	offsets []int
}

// NewMesh builds a mesh with the given sides.
func NewMesh(sides []int, serversPerRouter int) (Cartesian, error) {
	g, err := newGrid("mesh", kindMesh, sides, serversPerRouter)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewTorus builds a torus with the given sides. Every side must be at least 2.
func NewTorus(sides []int, serversPerRouter int) (Cartesian, error) {
	g, err := newGrid("torus", kindTorus, sides, serversPerRouter)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewRing builds a one-dimensional torus with n routers.
func NewRing(n int, serversPerRouter int) (Cartesian, error) {
	g, err := newGrid("ring", kindTorus, []int{n}, serversPerRouter)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewHamming builds a Hamming graph: routers are connected when their
// coordinates differ in exactly one dimension. A single dimension gives a
// fully connected network.
func NewHamming(sides []int, serversPerRouter int) (Cartesian, error) {
	name := "hamming"
	if len(sides) == 1 {
		name = "fully_connected"
	}
	g, err := newGrid(name, kindHamming, sides, serversPerRouter)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func newGrid(name string, kind cartesianKind, sides []int, serversPerRouter int) (*grid, error) {
	if len(sides) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one side", ErrInvalid, name)
	}
	n := 1
	for d, side := range sides {
		minSide := 1
		if kind == kindTorus || kind == kindHamming {
			minSide = 2
		}
		if side < minSide {
			return nil, fmt.Errorf("%w: %s side %d is %d, must be >= %d", ErrInvalid, name, d, side, minSide)
		}
		n *= side
	}
	g := &grid{
		graph: &graph{name: name, ports: make([][]Location, n)},
		kind:  kind,
		sides: append([]int(nil), sides...),
	}
	if kind == kindHamming {
		g.offsets = make([]int, len(sides))
		total := 0
		for d, side := range sides {
			g.offsets[d] = total
			total += side - 1
		}
	}
	for r := 0; r < n; r++ {
		g.ports[r] = g.routerPorts(r)
	}
	g.attachServers(serversPerRouter)
	g.computeDistances()
	return g, nil
}

func (g *grid) routerPorts(r int) []Location {
	coords := g.Coordinates(r)
	switch g.kind {
	case kindHamming:
		ports := make([]Location, 0, g.offsets[len(g.offsets)-1]+g.sides[len(g.sides)-1]-1)
		for d, side := range g.sides {
			for v := 0; v < side; v++ {
				if v == coords[d] {
					continue
				}
				other := g.withCoordinate(coords, d, v)
				ports = append(ports, RouterPort(g.index(other), g.hammingPort(d, v, coords[d])))
			}
		}
		return ports
	default:
		ports := make([]Location, 2*len(g.sides))
		for d, side := range g.sides {
			for dir, step := range []int{-1, 1} {
				port := 2*d + dir
				v := coords[d] + step
				if g.kind == kindTorus {
					v = (v + side) % side
				}
				if v < 0 || v >= side {
					ports[port] = Unconnected
					continue
				}
				other := g.withCoordinate(coords, d, v)
				// The opposite direction at the neighbour leads back here.
				ports[port] = RouterPort(g.index(other), 2*d+(1-dir))
			}
		}
		return ports
	}
}

// hammingPort is the port at a router with coordinate own in dimension d
// that leads to coordinate target.
func (g *grid) hammingPort(d, own, target int) int {
	if target < own {
		return g.offsets[d] + target
	}
	return g.offsets[d] + target - 1
}

func (g *grid) withCoordinate(coords []int, d, v int) []int {
	other := append([]int(nil), coords...)
	other[d] = v
	return other
}

func (g *grid) index(coords []int) int {
	idx := 0
	for d := len(g.sides) - 1; d >= 0; d-- {
		idx = idx*g.sides[d] + coords[d]
	}
	return idx
}

func (g *grid) Sides() []int { return append([]int(nil), g.sides...) }

func (g *grid) Coordinates(router int) []int {
	coords := make([]int, len(g.sides))
	for d, side := range g.sides {
		coords[d] = router % side
		router /= side
	}
	return coords
}

// RoutingRecord returns, per dimension, the signed offset to travel. On tori
// the shorter way around is used, positive on ties.
func (g *grid) RoutingRecord(origin, destination int) []int {
	a, b := g.Coordinates(origin), g.Coordinates(destination)
	record := make([]int, len(g.sides))
	for d, side := range g.sides {
		delta := b[d] - a[d]
		if g.kind == kindTorus {
			if delta > side/2 {
				delta -= side
			} else if delta < -side/2 || (side%2 == 0 && delta == -side/2) {
				delta += side
			}
		}
		record[d] = delta
	}
	return record
}

func (g *grid) PortTowards(router, dimension, delta int) (int, bool) {
	if dimension < 0 || dimension >= len(g.sides) || delta == 0 {
		return 0, false
	}
	switch g.kind {
	case kindHamming:
		coords := g.Coordinates(router)
		target := coords[dimension] + delta
		if target < 0 || target >= g.sides[dimension] {
			return 0, false
		}
		return g.hammingPort(dimension, coords[dimension], target), true
	default:
		port := 2 * dimension
		if delta > 0 {
			port++
		}
		if !g.ports[router][port].IsRouter() {
			return 0, false
		}
		return port, true
	}
}

// dimensionOf returns the dimension a router port belongs to, or -1 for server ports.
func (g *grid) dimensionOf(router, port int) int {
	if !g.ports[router][port].IsRouter() {
		return -1
	}
	if g.kind != kindHamming {
		return port / 2
	}
	for d := len(g.offsets) - 1; d >= 0; d-- {
		if port >= g.offsets[d] {
			return d
		}
	}
	return -1
}

func (g *grid) IsDirectionChange(router, inPort, outPort int) bool {
	in := g.dimensionOf(router, inPort)
	if in < 0 {
		return true
	}
	return in != g.dimensionOf(router, outPort)
}
