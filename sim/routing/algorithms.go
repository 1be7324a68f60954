package routing

import (
	"math/rand"

	"github.com/inference-sim/netsim/sim/topology"
)

// Shortest offers every port on a minimal path, on every virtual channel.
type Shortest struct{}

func (s *Shortest) Next(_ *Info, topo topology.Topology, current, targetRouter, targetServer, numVCs int, _ *rand.Rand) (Candidates, error) {
	if current == targetRouter {
		return deliver(topo, current, targetServer, numVCs)
	}
	remaining := topo.Distance(current, targetRouter) - 1
	var list []Candidate
	for _, port := range minimalPorts(topo, current, targetRouter) {
		list = allChannels(list, port, 0, numVCs, remaining)
	}
	return Candidates{List: list, Idempotent: true}, nil
}

func (s *Shortest) InitializeInfo(info *Info, _ topology.Topology, _, _ int, _ *rand.Rand) {
	info.Intermediate = -1
}

func (s *Shortest) UpdateInfo(*Info, topology.Topology, int, int, int, *rand.Rand) {}

// DimensionOrder corrects the lowest dimension with a non-zero offset first.
type DimensionOrder struct {
	topo topology.Cartesian
}

func (r *DimensionOrder) Next(_ *Info, topo topology.Topology, current, targetRouter, targetServer, numVCs int, _ *rand.Rand) (Candidates, error) {
	if current == targetRouter {
		return deliver(topo, current, targetServer, numVCs)
	}
	record := r.topo.RoutingRecord(current, targetRouter)
	remaining := -1
	for _, delta := range record {
		if delta < 0 {
			delta = -delta
		}
		remaining += delta
	}
	for d, delta := range record {
		if delta == 0 {
			continue
		}
		port, ok := r.topo.PortTowards(current, d, delta)
		if !ok {
			break
		}
		return Candidates{List: allChannels(nil, port, 0, numVCs, remaining), Idempotent: true}, nil
	}
	return Candidates{Idempotent: true}, nil
}

func (r *DimensionOrder) InitializeInfo(info *Info, _ topology.Topology, _, _ int, _ *rand.Rand) {
	info.Intermediate = -1
}

func (r *DimensionOrder) UpdateInfo(*Info, topology.Topology, int, int, int, *rand.Rand) {}

// Valiant sends every packet through a random intermediate router using
// minimal paths in both phases.
type Valiant struct {
	split bool
}

func (v *Valiant) Next(info *Info, topo topology.Topology, current, targetRouter, targetServer, numVCs int, _ *rand.Rand) (Candidates, error) {
	if current == targetRouter {
		return deliver(topo, current, targetServer, numVCs)
	}
	if info.Phase == 0 && current == info.Intermediate {
		info.Phase = 1
	}
	target := targetRouter
	from, to := 0, numVCs
	if info.Phase == 0 {
		target = info.Intermediate
		if v.split {
			to = numVCs / 2
		}
	} else if v.split {
		from = numVCs / 2
	}
	remaining := topo.Distance(current, target) - 1
	if info.Phase == 0 {
		remaining += topo.Distance(target, targetRouter)
	}
	var list []Candidate
	for _, port := range minimalPorts(topo, current, target) {
		list = allChannels(list, port, from, to, remaining)
	}
	return Candidates{List: list, Idempotent: info.Phase == 1}, nil
}

// InitializeInfo draws the intermediate router, avoiding the source and the
// destination whenever the network has another router.
func (v *Valiant) InitializeInfo(info *Info, topo topology.Topology, current, targetRouter int, rng *rand.Rand) {
	n := topo.NumRouters()
	info.Phase = 0
	info.Intermediate = rng.Intn(n)
	if n > 2 {
		for info.Intermediate == current || info.Intermediate == targetRouter {
			info.Intermediate = rng.Intn(n)
		}
	}
	if info.Intermediate == current {
		info.Phase = 1
	}
}

func (v *Valiant) UpdateInfo(info *Info, _ topology.Topology, current, _, _ int, _ *rand.Rand) {
	if info.Phase == 0 && current == info.Intermediate {
		info.Phase = 1
	}
}

// UpDown routes along shortest legal up*/down* paths.
type UpDown struct {
	table *topology.UpDown
}

func (u *UpDown) Next(info *Info, topo topology.Topology, current, targetRouter, targetServer, numVCs int, _ *rand.Rand) (Candidates, error) {
	if current == targetRouter {
		return deliver(topo, current, targetServer, numVCs)
	}
	d := u.table.Distance(current, info.Descending, targetRouter)
	if d <= 0 {
		return Candidates{Idempotent: true}, nil
	}
	var list []Candidate
	for p := 0; p < topo.Ports(current); p++ {
		loc, _ := topo.Neighbour(current, p)
		if !loc.IsRouter() {
			continue
		}
		up := u.table.IsUp(current, loc.Router)
		if up && info.Descending {
			continue
		}
		if u.table.Distance(loc.Router, !up, targetRouter) == d-1 {
			list = allChannels(list, p, 0, numVCs, d-1)
		}
	}
	return Candidates{List: list, Idempotent: true}, nil
}

func (u *UpDown) InitializeInfo(info *Info, _ topology.Topology, _, _ int, _ *rand.Rand) {
	info.Intermediate = -1
	info.Descending = false
}

// UpdateInfo records a down move into current.
func (u *UpDown) UpdateInfo(info *Info, topo topology.Topology, current, entryPort, _ int, _ *rand.Rand) {
	loc, _ := topo.Neighbour(current, entryPort)
	if loc.IsRouter() && !u.table.IsUp(loc.Router, current) {
		info.Descending = true
	}
}
