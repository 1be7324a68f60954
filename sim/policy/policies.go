package policy

import (
	"math"
	"math/rand"

	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
)

// EnforceFlowControl keeps only the candidates the router marked as allowed:
// enough credits downstream and a free output virtual channel.
type EnforceFlowControl struct{}

func (p *EnforceFlowControl) Name() string { return "enforce_flow_control" }

func (p *EnforceFlowControl) Filter(candidates []routing.Candidate, _ *RequestInfo, _ topology.Topology, _ *rand.Rand) []routing.Candidate {
	return keep(candidates, func(c routing.Candidate) bool { return c.RouterAllows == routing.AdmissionAllowed })
}

// Random picks one candidate uniformly.
type Random struct{}

func (p *Random) Name() string { return "random" }

func (p *Random) Filter(candidates []routing.Candidate, _ *RequestInfo, _ topology.Topology, rng *rand.Rand) []routing.Candidate {
	if len(candidates) <= 1 {
		return candidates
	}
	return []routing.Candidate{candidates[rng.Intn(len(candidates))]}
}

// Shortest keeps the candidates with the fewest estimated remaining hops.
type Shortest struct{}

func (p *Shortest) Name() string { return "shortest" }

func (p *Shortest) Filter(candidates []routing.Candidate, _ *RequestInfo, _ topology.Topology, _ *rand.Rand) []routing.Candidate {
	return keepMinimum(candidates, func(c routing.Candidate) float64 { return float64(c.EstimatedRemainingHops) })
}

// LowestLabel keeps the candidates with the lowest label.
type LowestLabel struct{}

func (p *LowestLabel) Name() string { return "lowest_label" }

func (p *LowestLabel) Filter(candidates []routing.Candidate, _ *RequestInfo, _ topology.Topology, _ *rand.Rand) []routing.Candidate {
	return keepMinimum(candidates, func(c routing.Candidate) float64 { return float64(c.Label) })
}

// LabelSaturate clamps labels to value: from below when bottom is set,
// from above otherwise.
type LabelSaturate struct {
	value  int
	bottom bool
}

func (p *LabelSaturate) Name() string { return "label_saturate" }

func (p *LabelSaturate) Filter(candidates []routing.Candidate, _ *RequestInfo, _ topology.Topology, _ *rand.Rand) []routing.Candidate {
	out := make([]routing.Candidate, len(candidates))
	for i, c := range candidates {
		if p.bottom {
			c.Label = max(c.Label, p.value)
		} else {
			c.Label = min(c.Label, p.value)
		}
		out[i] = c
	}
	return out
}

// Hops keeps the candidates whose virtual channel equals the number of hops
// already performed, the classic distance-class deadlock avoidance. Server
// ports are exempt.
type Hops struct{}

func (p *Hops) Name() string { return "hops" }

func (p *Hops) Filter(candidates []routing.Candidate, info *RequestInfo, topo topology.Topology, _ *rand.Rand) []routing.Candidate {
	return keep(candidates, func(c routing.Candidate) bool {
		return towardsServer(c, info, topo) || c.VirtualChannel == info.PerformedHops
	})
}

// WideHops generalizes Hops to width virtual channels per hop.
type WideHops struct {
	width int
}

func (p *WideHops) Name() string { return "wide_hops" }

func (p *WideHops) Filter(candidates []routing.Candidate, info *RequestInfo, topo topology.Topology, _ *rand.Rand) []routing.Candidate {
	lo := info.PerformedHops * p.width
	return keep(candidates, func(c routing.Candidate) bool {
		return towardsServer(c, info, topo) || (c.VirtualChannel >= lo && c.VirtualChannel < lo+p.width)
	})
}

// Occupancy keeps the candidates whose port leads to the least occupied neighbour.
type Occupancy struct{}

func (p *Occupancy) Name() string           { return "occupancy" }
func (p *Occupancy) NeedsQueueLength() bool { return true }

func (p *Occupancy) Filter(candidates []routing.Candidate, info *RequestInfo, _ topology.Topology, _ *rand.Rand) []routing.Candidate {
	return keepMinimum(candidates, func(c routing.Candidate) float64 { return info.PortAverageNeighbourQueueLength[c.Port] })
}

// LowestSinghWeight weighs each candidate by congestion times distance,
// (q + extraCongestion) * (hops + extraDistance), and keeps the lightest.
type LowestSinghWeight struct {
	extraCongestion  float64
	extraDistance    float64
	useInternalSpace bool
}

func (p *LowestSinghWeight) Name() string           { return "lowest_singh_weight" }
func (p *LowestSinghWeight) NeedsQueueLength() bool { return true }

func (p *LowestSinghWeight) Filter(candidates []routing.Candidate, info *RequestInfo, _ topology.Topology, _ *rand.Rand) []routing.Candidate {
	return keepMinimum(candidates, func(c routing.Candidate) float64 {
		q := info.PortAverageNeighbourQueueLength[c.Port]
		if p.useInternalSpace && info.PortOccupiedOutputSpace != nil {
			q += float64(info.PortOccupiedOutputSpace[c.Port])
		}
		return (q + p.extraCongestion) * (float64(c.EstimatedRemainingHops) + p.extraDistance)
	})
}

func towardsServer(c routing.Candidate, info *RequestInfo, topo topology.Topology) bool {
	loc, _ := topo.Neighbour(info.Router, c.Port)
	return loc.IsServer()
}

func keep(candidates []routing.Candidate, pred func(routing.Candidate) bool) []routing.Candidate {
	var out []routing.Candidate
	for _, c := range candidates {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func keepMinimum(candidates []routing.Candidate, score func(routing.Candidate) float64) []routing.Candidate {
	best := math.Inf(1)
	var out []routing.Candidate
	for _, c := range candidates {
		s := score(c)
		switch {
		case s < best:
			best = s
			out = append(out[:0], c)
		case s == best:
			out = append(out, c)
		}
	}
	return out
}
