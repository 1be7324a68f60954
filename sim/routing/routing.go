// Package routing decides, for the head phit of a packet sitting at a router,
// which output ports and virtual channels may carry it next.
//
// Routing algorithms are pure with respect to network state: they only see the
// topology, the packet's routing Info and an RNG. Flow-control admissibility
// is left to the virtual channel policies run by the router afterwards.
package routing

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/inference-sim/netsim/sim/topology"
)

// ErrInvalid marks a routing configuration that cannot be used on the given
// topology or virtual channel count.
var ErrInvalid = errors.New("invalid routing")

// Admission is the router's verdict on a candidate, filled before the
// virtual channel policies run.
type Admission int8

const (
	AdmissionUnknown Admission = iota
	AdmissionAllowed
	AdmissionDenied
)

// Candidate is one possible egress for a packet.
type Candidate struct {
	Port           int
	VirtualChannel int
	// Label ranks candidates; lower is preferred by label-aware policies and arbiters.
	Label int
	// EstimatedRemainingHops counts router links left after taking this candidate.
	EstimatedRemainingHops int
	RouterAllows           Admission
}

// Candidates is the result of a routing decision.
//
// Idempotent means repeating the call from the same packet state yields an
// equivalent set, so the router may memoize the list. It is never a reason
// to skip re-checking flow control.
type Candidates struct {
	List       []Candidate
	Idempotent bool
}

// Len returns the number of candidates.
func (c Candidates) Len() int { return len(c.List) }

// Info is the per-packet routing state. It lives inside the packet and is
// only touched by the routing algorithm and the hop counter.
type Info struct {
	// Hops counts router-to-router links traversed so far.
	Hops int
	// Intermediate is the router a two-phase routing passes through, or -1.
	Intermediate int
	// Phase is 0 while heading to Intermediate and 1 afterwards.
	Phase int
	// Descending is set once an up/down packet has made a down move.
	Descending bool
}

// Routing is implemented by every routing algorithm.
type Routing interface {
	// Next returns the candidate egresses for a packet at router current heading
	// to targetServer, attached to targetRouter. An empty set is not an error:
	// the packet stays queued and asks again later.
	Next(info *Info, topo topology.Topology, current, targetRouter, targetServer, numVCs int, rng *rand.Rand) (Candidates, error)
	// InitializeInfo is called when the head phit enters the first router.
	InitializeInfo(info *Info, topo topology.Topology, current, targetRouter int, rng *rand.Rand)
	// UpdateInfo is called when the head phit enters router current through entryPort
	// from another router.
	UpdateInfo(info *Info, topo topology.Topology, current, entryPort, targetRouter int, rng *rand.Rand)
}

// Config selects and parameterizes a routing algorithm.
type Config struct {
	Type string `yaml:"type"`
	// SplitVirtualChannels makes two-phase routings use the lower half of the
	// virtual channels in the first phase and the upper half in the second.
	SplitVirtualChannels bool `yaml:"split_virtual_channels"`
	// Root is the root router of up/down routing.
	Root int `yaml:"root"`
}

var validRoutingNames = map[string]bool{
	"shortest":        true,
	"dimension_order": true,
	"valiant":         true,
	"up_down":         true,
}

// IsValidRouting returns true if name is a recognized routing algorithm.
func IsValidRouting(name string) bool { return validRoutingNames[name] }

// ValidRoutingNames returns the sorted list of routing algorithms.
func ValidRoutingNames() []string {
	names := make([]string, 0, len(validRoutingNames))
	for name := range validRoutingNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the routing described by cfg for a topology and virtual channel count.
func New(cfg Config, topo topology.Topology, numVCs int) (Routing, error) {
	switch cfg.Type {
	case "shortest":
		return &Shortest{}, nil
	case "dimension_order":
		cart, ok := topo.(topology.Cartesian)
		if !ok {
			return nil, fmt.Errorf("%w: dimension_order needs a cartesian topology, got %s", ErrInvalid, topo.Name())
		}
		return &DimensionOrder{topo: cart}, nil
	case "valiant":
		if cfg.SplitVirtualChannels && numVCs < 2 {
			return nil, fmt.Errorf("%w: valiant with split_virtual_channels needs at least 2 virtual channels, got %d", ErrInvalid, numVCs)
		}
		return &Valiant{split: cfg.SplitVirtualChannels}, nil
	case "up_down":
		if cfg.Root < 0 || cfg.Root >= topo.NumRouters() {
			return nil, fmt.Errorf("%w: up_down root %d out of range", ErrInvalid, cfg.Root)
		}
		return &UpDown{table: topology.NewUpDown(topo, cfg.Root)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown routing %q; valid: %s", ErrInvalid, cfg.Type, strings.Join(ValidRoutingNames(), ", "))
	}
}

// deliver returns the candidates for a packet already at its destination
// router: every virtual channel of the port leading to the target server.
func deliver(topo topology.Topology, current, targetServer, numVCs int) (Candidates, error) {
	for p := 0; p < topo.Ports(current); p++ {
		loc, _ := topo.Neighbour(current, p)
		if loc.IsServer() && loc.Server == targetServer {
			return Candidates{List: allChannels(nil, p, 0, numVCs, 0), Idempotent: true}, nil
		}
	}
	return Candidates{}, fmt.Errorf("server %d is not attached to router %d", targetServer, current)
}

// allChannels appends one candidate per virtual channel in [from, to) of port.
func allChannels(list []Candidate, port, from, to, remaining int) []Candidate {
	for vc := from; vc < to; vc++ {
		list = append(list, Candidate{Port: port, VirtualChannel: vc, EstimatedRemainingHops: remaining})
	}
	return list
}

// minimalPorts returns the ports of current whose neighbour is one link closer to target.
func minimalPorts(topo topology.Topology, current, target int) []int {
	d := topo.Distance(current, target)
	if d <= 0 {
		return nil
	}
	var ports []int
	for p := 0; p < topo.Ports(current); p++ {
		loc, _ := topo.Neighbour(current, p)
		if loc.IsRouter() && topo.Distance(loc.Router, target) == d-1 {
			ports = append(ports, p)
		}
	}
	return ports
}
