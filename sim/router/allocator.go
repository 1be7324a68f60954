package router

import (
	"math/rand"
	"sort"
)

// allocator orders the requests of a cycle. The router grants them in the
// returned order, skipping any whose input or output channel is taken.
type allocator interface {
	allocate(requests []request, rng *rand.Rand) []request
}

// randomAllocator serves requests in random order, optionally by ascending
// label first and in-transit before injected within a label.
type randomAllocator struct {
	intransitPriority bool
	lowestLabelFirst  bool
}

func (a *randomAllocator) allocate(requests []request, rng *rand.Rand) []request {
	if len(requests) == 0 {
		return nil
	}
	out := append([]request(nil), requests...)
	if a.lowestLabelFirst {
		sort.SliceStable(out, func(i, j int) bool { return out[i].label < out[j].label })
	}
	for start := 0; start < len(out); {
		end := start + 1
		for a.lowestLabelFirst && end < len(out) && out[end].label == out[start].label {
			end++
		}
		if !a.lowestLabelFirst {
			end = len(out)
		}
		a.shuffleGroup(out[start:end], rng)
		start = end
	}
	return out
}

func (a *randomAllocator) shuffleGroup(group []request, rng *rand.Rand) {
	if !a.intransitPriority {
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		return
	}
	sort.SliceStable(group, func(i, j int) bool { return group[i].inTransit && !group[j].inTransit })
	split := sort.Search(len(group), func(i int) bool { return !group[i].inTransit })
	first, second := group[:split], group[split:]
	rng.Shuffle(len(first), func(i, j int) { first[i], first[j] = first[j], first[i] })
	rng.Shuffle(len(second), func(i, j int) { second[i], second[j] = second[j], second[i] })
}

// islip is the iterative round-robin matcher of McKeown. Clients are input
// channels and resources are output channels, both numbered port*vcs+vc.
type islip struct {
	vcs        int
	iterations int
	grantPtr   []int // per resource
	acceptPtr  []int // per client
}

func newISLIP(clients, resources, vcs, iterations int) *islip {
	return &islip{
		vcs:        vcs,
		iterations: iterations,
		grantPtr:   make([]int, resources),
		acceptPtr:  make([]int, clients),
	}
}

func (s *islip) allocate(requests []request, _ *rand.Rand) []request {
	if len(requests) == 0 {
		return nil
	}
	clients, resources := len(s.acceptPtr), len(s.grantPtr)
	// byPair keeps the first request of each (client, resource).
	byPair := make(map[[2]int]int, len(requests))
	wanted := make([][]int, resources)
	for i, q := range requests {
		c := q.entryPort*s.vcs + q.entryVC
		res := q.exitPort*s.vcs + q.exitVC
		key := [2]int{c, res}
		if _, ok := byPair[key]; ok {
			continue
		}
		byPair[key] = i
		wanted[res] = append(wanted[res], c)
	}

	matchedClient := make([]bool, clients)
	matchedResource := make([]bool, resources)
	var out []request
	for it := 0; it < s.iterations; it++ {
		// grant: each free resource picks the first free requesting client
		// at or after its pointer.
		grants := make([][]int, clients)
		for res := 0; res < resources; res++ {
			if matchedResource[res] || len(wanted[res]) == 0 {
				continue
			}
			best, bestd := -1, clients
			for _, c := range wanted[res] {
				if matchedClient[c] {
					continue
				}
				if d := (c - s.grantPtr[res] + clients) % clients; d < bestd {
					best, bestd = c, d
				}
			}
			if best >= 0 {
				grants[best] = append(grants[best], res)
			}
		}
		// accept: each client picks the first granting resource at or after its pointer.
		progress := false
		for c := 0; c < clients; c++ {
			if len(grants[c]) == 0 {
				continue
			}
			best, bestd := -1, resources
			for _, res := range grants[c] {
				if d := (res - s.acceptPtr[c] + resources) % resources; d < bestd {
					best, bestd = res, d
				}
			}
			matchedClient[c] = true
			matchedResource[best] = true
			progress = true
			if it == 0 {
				s.grantPtr[best] = (c + 1) % clients
				s.acceptPtr[c] = (best + 1) % resources
			}
			out = append(out, requests[byPair[[2]int{c, best}]])
		}
		if !progress {
			break
		}
	}
	return out
}
