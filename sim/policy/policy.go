// Package policy implements the virtual channel policies: an ordered chain
// of filters applied by a router to the candidates returned by routing.
//
// Each policy receives the surviving candidates and returns a subset of
// them, possibly relabelled. The router stops the chain as soon as it
// becomes empty, in which case the packet keeps waiting at the head of its
// input buffer.
package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
)

var (
	// ErrInvalid marks an unknown policy or a malformed parameter.
	ErrInvalid = errors.New("invalid virtual channel policy")
	// ErrVirtualChannelMismatch marks a policy that cannot work with the
	// configured number of virtual channels.
	ErrVirtualChannelMismatch = errors.New("virtual channel count does not match policy")
)

// RequestInfo is the router state a policy may inspect for one request.
// Slices are indexed by port and are nil unless some policy in the chain
// needs them.
type RequestInfo struct {
	Router        int
	TargetRouter  int
	EntryPort     int
	EntryVC       int
	PerformedHops int
	// PortAverageNeighbourQueueLength is the mean, over virtual channels, of
	// the phits known to be queued at the neighbour behind each port.
	PortAverageNeighbourQueueLength []float64
	// PortOccupiedOutputSpace is nil for routers without output buffers.
	PortOccupiedOutputSpace []int
	TimeAtFront             int64
	Cycle                   int64
}

// Policy filters candidate egresses.
type Policy interface {
	Name() string
	Filter(candidates []routing.Candidate, info *RequestInfo, topo topology.Topology, rng *rand.Rand) []routing.Candidate
}

// Needs lets the router compute optional RequestInfo fields only when some
// policy uses them.
type Needs interface {
	NeedsQueueLength() bool
}

// NeedsQueueLength reports whether any policy of the chain implements Needs
// and asks for queue lengths.
func NeedsQueueLength(chain []Policy) bool {
	for _, p := range chain {
		if n, ok := p.(Needs); ok && n.NeedsQueueLength() {
			return true
		}
	}
	return false
}

// Config describes one entry of the chain. Which parameters are read
// depends on Name.
type Config struct {
	Name string `yaml:"name"`
	// Width is the number of virtual channels per hop of wide_hops.
	Width int `yaml:"width"`
	// Value and Bottom parameterize label_saturate.
	Value  int  `yaml:"value"`
	Bottom bool `yaml:"bottom"`
	// ExtraCongestion, ExtraDistance and UseInternalSpace parameterize lowest_singh_weight.
	ExtraCongestion  float64 `yaml:"extra_congestion"`
	ExtraDistance    float64 `yaml:"extra_distance"`
	UseInternalSpace bool    `yaml:"use_internal_space"`
}

// validPolicyNames maps policy names to validity. Unexported to prevent mutation.
var validPolicyNames = map[string]bool{
	"enforce_flow_control": true,
	"random":               true,
	"shortest":             true,
	"lowest_label":         true,
	"label_saturate":       true,
	"hops":                 true,
	"wide_hops":            true,
	"occupancy":            true,
	"lowest_singh_weight":  true,
}

// IsValidPolicy returns true if name is a recognized policy.
func IsValidPolicy(name string) bool { return validPolicyNames[name] }

// ValidPolicyNames returns sorted valid policy names.
func ValidPolicyNames() []string {
	names := make([]string, 0, len(validPolicyNames))
	for name := range validPolicyNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultConfigs is the chain used when a router declares none:
// flow control followed by a random pick.
func DefaultConfigs() []Config {
	return []Config{{Name: "enforce_flow_control"}, {Name: "random"}}
}

// New builds a single policy, validating it against the number of virtual
// channels and the topology diameter.
func New(cfg Config, numVCs int, topo topology.Topology) (Policy, error) {
	switch cfg.Name {
	case "enforce_flow_control":
		return &EnforceFlowControl{}, nil
	case "random":
		return &Random{}, nil
	case "shortest":
		return &Shortest{}, nil
	case "lowest_label":
		return &LowestLabel{}, nil
	case "label_saturate":
		return &LabelSaturate{value: cfg.Value, bottom: cfg.Bottom}, nil
	case "hops":
		if numVCs <= topo.Diameter() {
			return nil, fmt.Errorf("%w: hops needs more than %d virtual channels (diameter %d), got %d",
				ErrVirtualChannelMismatch, topo.Diameter(), topo.Diameter(), numVCs)
		}
		return &Hops{}, nil
	case "wide_hops":
		if cfg.Width <= 0 {
			return nil, fmt.Errorf("%w: wide_hops width must be positive, got %d", ErrInvalid, cfg.Width)
		}
		if need := (topo.Diameter() + 1) * cfg.Width; numVCs < need {
			return nil, fmt.Errorf("%w: wide_hops with width %d needs %d virtual channels, got %d",
				ErrVirtualChannelMismatch, cfg.Width, need, numVCs)
		}
		return &WideHops{width: cfg.Width}, nil
	case "occupancy":
		return &Occupancy{}, nil
	case "lowest_singh_weight":
		if cfg.ExtraCongestion < 0 || cfg.ExtraDistance < 0 || math.IsNaN(cfg.ExtraCongestion) || math.IsNaN(cfg.ExtraDistance) {
			return nil, fmt.Errorf("%w: lowest_singh_weight extras must be non-negative", ErrInvalid)
		}
		return &LowestSinghWeight{
			extraCongestion:  cfg.ExtraCongestion,
			extraDistance:    cfg.ExtraDistance,
			useInternalSpace: cfg.UseInternalSpace,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q; valid: %s", ErrInvalid, cfg.Name, strings.Join(ValidPolicyNames(), ", "))
	}
}

// NewChain builds every policy of cfgs in order.
func NewChain(cfgs []Config, numVCs int, topo topology.Topology) ([]Policy, error) {
	chain := make([]Policy, 0, len(cfgs))
	for i, cfg := range cfgs {
		p, err := New(cfg, numVCs, topo)
		if err != nil {
			return nil, fmt.Errorf("virtual channel policy %d: %w", i, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// Apply runs the chain over candidates, stopping when nothing is left.
func Apply(chain []Policy, candidates []routing.Candidate, info *RequestInfo, topo topology.Topology, rng *rand.Rand) []routing.Candidate {
	for _, p := range chain {
		candidates = p.Filter(candidates, info, topo, rng)
		if len(candidates) == 0 {
			return nil
		}
	}
	return candidates
}
