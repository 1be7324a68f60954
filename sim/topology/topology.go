// Package topology describes the static connectivity of a simulated network:
// routers, the servers attached to them, and the links between ports.
//
// Routers and servers are addressed by dense integer indices. A port either
// leads to another router's port, to a server, or nowhere (irregular
// topologies may leave ports unconnected), so callers must always go through
// Neighbour instead of assuming a contiguous range of connected ports.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalid marks a malformed topology description. It is always wrapped
// with the offending detail.
var ErrInvalid = errors.New("invalid topology")

// Link classes assigned by every built-in topology.
const (
	LinkClassRouter = 0 // router to router
	LinkClassServer = 1 // router to server
)

// LocationKind tags what sits at the other side of a port.
type LocationKind int

const (
	LocationNone LocationKind = iota
	LocationRouterPort
	LocationServerPort
)

// Location is an endpoint of a link.
type Location struct {
	Kind   LocationKind
	Router int
	Port   int
	Server int
}

// RouterPort returns the location of a router's port.
func RouterPort(router, port int) Location {
	return Location{Kind: LocationRouterPort, Router: router, Port: port, Server: -1}
}

// ServerPort returns the location of a server.
func ServerPort(server int) Location {
	return Location{Kind: LocationServerPort, Router: -1, Port: -1, Server: server}
}

// Unconnected is the location of a port with nothing attached.
var Unconnected = Location{Kind: LocationNone, Router: -1, Port: -1, Server: -1}

// IsRouter reports whether the location is a router port.
func (l Location) IsRouter() bool { return l.Kind == LocationRouterPort }

// IsServer reports whether the location is a server.
func (l Location) IsServer() bool { return l.Kind == LocationServerPort }

func (l Location) String() string {
	switch l.Kind {
	case LocationRouterPort:
		return fmt.Sprintf("router %d port %d", l.Router, l.Port)
	case LocationServerPort:
		return fmt.Sprintf("server %d", l.Server)
	default:
		return "unconnected"
	}
}

// Topology is the read-only connectivity graph used by routers, routing
// algorithms and statistics. Implementations are immutable after New.
type Topology interface {
	Name() string
	NumRouters() int
	NumServers() int
	// Ports returns the number of ports of a router, connected or not.
	Ports(router int) int
	// Neighbour returns what is attached to a router port and the link class of that link.
	Neighbour(router, port int) (Location, int)
	// ServerNeighbour returns the router port a server is attached to.
	ServerNeighbour(server int) (Location, int)
	// Degree counts the router ports connected to other routers.
	Degree(router int) int
	// Distance is the minimum number of router-to-router links between two routers, or -1.
	Distance(origin, destination int) int
	Diameter() int
	// Coordinates returns the structured address of a router, or nil.
	Coordinates(router int) []int
	// RoutingRecord returns per-dimension offsets from origin to destination, or nil.
	RoutingRecord(origin, destination int) []int
	// IsDirectionChange reports whether moving from inPort to outPort enters a new
	// dimension ring, which is where bubble flow control reserves extra space.
	IsDirectionChange(router, inPort, outPort int) bool
}

// Config describes a topology. Which fields are used depends on Type.
type Config struct {
	Type             string  `yaml:"type"`
	Sides            []int   `yaml:"sides"`
	Routers          int     `yaml:"routers"`
	ServersPerRouter int     `yaml:"servers_per_router"`
	Adjacency        [][]int `yaml:"adjacency"`
	RequireConnected bool    `yaml:"require_connected"`
}

// validTopologyNames lists the accepted values of Config.Type.
var validTopologyNames = map[string]bool{
	"mesh":            true,
	"torus":           true,
	"ring":            true,
	"hamming":         true,
	"fully_connected": true,
	"irregular":       true,
}

// IsValidTopology returns true if name is a recognized topology type.
func IsValidTopology(name string) bool { return validTopologyNames[name] }

// ValidTopologyNames returns the sorted list of topology types.
func ValidTopologyNames() []string {
	names := make([]string, 0, len(validTopologyNames))
	for name := range validTopologyNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds and validates the topology described by cfg.
func New(cfg Config) (Topology, error) {
	if cfg.ServersPerRouter < 0 {
		return nil, fmt.Errorf("%w: servers_per_router must be >= 0, got %d", ErrInvalid, cfg.ServersPerRouter)
	}
	var (
		t   Topology
		err error
	)
	switch cfg.Type {
	case "mesh":
		t, err = NewMesh(cfg.Sides, cfg.ServersPerRouter)
	case "torus":
		t, err = NewTorus(cfg.Sides, cfg.ServersPerRouter)
	case "ring":
		t, err = NewRing(cfg.Routers, cfg.ServersPerRouter)
	case "hamming":
		t, err = NewHamming(cfg.Sides, cfg.ServersPerRouter)
	case "fully_connected":
		t, err = NewHamming([]int{cfg.Routers}, cfg.ServersPerRouter)
	case "irregular":
		t, err = NewIrregular(cfg.Adjacency, cfg.ServersPerRouter)
	default:
		return nil, fmt.Errorf("%w: unknown type %q; valid: %s", ErrInvalid, cfg.Type, strings.Join(ValidTopologyNames(), ", "))
	}
	if err != nil {
		return nil, err
	}
	if err := Check(t, cfg.RequireConnected); err != nil {
		return nil, err
	}
	return t, nil
}

// Check verifies the structural consistency of a topology: every link is
// symmetric, no router links to itself, and every server is attached to
// exactly one router port that points back to it. With requireConnected,
// every pair of routers must also be mutually reachable.
func Check(t Topology, requireConnected bool) error {
	if t.NumRouters() <= 0 {
		return fmt.Errorf("%w: no routers", ErrInvalid)
	}
	attached := make([]int, t.NumServers())
	for r := 0; r < t.NumRouters(); r++ {
		for p := 0; p < t.Ports(r); p++ {
			loc, _ := t.Neighbour(r, p)
			switch loc.Kind {
			case LocationRouterPort:
				if loc.Router == r {
					return fmt.Errorf("%w: router %d port %d links to itself", ErrInvalid, r, p)
				}
				if loc.Router < 0 || loc.Router >= t.NumRouters() || loc.Port < 0 || loc.Port >= t.Ports(loc.Router) {
					return fmt.Errorf("%w: router %d port %d links to out-of-range %v", ErrInvalid, r, p, loc)
				}
				back, _ := t.Neighbour(loc.Router, loc.Port)
				if back != RouterPort(r, p) {
					return fmt.Errorf("%w: link router %d port %d -> %v is not symmetric (back link is %v)", ErrInvalid, r, p, loc, back)
				}
			case LocationServerPort:
				if loc.Server < 0 || loc.Server >= t.NumServers() {
					return fmt.Errorf("%w: router %d port %d links to out-of-range server %d", ErrInvalid, r, p, loc.Server)
				}
				attached[loc.Server]++
				back, _ := t.ServerNeighbour(loc.Server)
				if back != RouterPort(r, p) {
					return fmt.Errorf("%w: server %d is attached to %v but router %d port %d points to it", ErrInvalid, loc.Server, back, r, p)
				}
			}
		}
	}
	for s, n := range attached {
		if n != 1 {
			return fmt.Errorf("%w: server %d is attached to %d router ports", ErrInvalid, s, n)
		}
	}
	if requireConnected {
		for a := 0; a < t.NumRouters(); a++ {
			for b := 0; b < t.NumRouters(); b++ {
				if t.Distance(a, b) < 0 {
					return fmt.Errorf("%w: router %d cannot reach router %d", ErrInvalid, a, b)
				}
			}
		}
	}
	return nil
}
