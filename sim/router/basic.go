package router

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/netsim/sim/packet"
	"github.com/inference-sim/netsim/sim/policy"
	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
)

// grant links an input virtual channel with an output virtual channel for
// the packet at the head of the input. The same grant is stored at both ends.
type grant struct {
	valid  bool
	port   int
	vc     int
	label  int
	packet *packet.Packet
}

// memo keeps the idempotent candidates of the packet at the head of an input.
type memo struct {
	packet *packet.Packet
	list   []routing.Candidate
}

// outputBuffer is an output queue that remembers the entry port of each phit.
type outputBuffer struct {
	phits   *packet.Buffer
	entries []int
}

func (o *outputBuffer) push(p *packet.Phit, entry int) {
	o.phits.Push(p)
	o.entries = append(o.entries, entry)
}

func (o *outputBuffer) pop() (*packet.Phit, int) {
	entry := o.entries[0]
	o.entries = o.entries[1:]
	return o.phits.Pop(), entry
}

// Basic is an input-queued router with optional output buffers.
//
// Per virtual channel the life cycle is Free, Allocated once a head phit
// wins a request, Transmitting while the packet flows and Free again after
// the tail leaves. Allocations whose head did not move in a cycle are undone
// so the packet routes again next cycle.
type Basic struct {
	index int
	cfg   Config
	env   Environment
	ports int

	serverPort []bool
	inputs     [][]*packet.Buffer
	// outputs is nil without output buffers.
	outputs [][]*outputBuffer
	// credits counts known free slots downstream. Behind a server port they
	// are the free space of the server's reception.
	credits [][]int

	selectedInput  [][]grant // by exit port and vc
	selectedOutput [][]grant // by entry port and vc
	timeAtHead     [][]int64
	memos          [][]memo
	tokens         []int

	allocator        allocator
	needsQueueLength bool
	lastStep         int64
	warnedEmpty      bool
	stats            Measurement
}

// NewBasic creates router index of the network described by env.
func NewBasic(index int, cfg Config, env Environment) (*Basic, error) {
	if err := cfg.Validate(env.MaximumPacketSize); err != nil {
		return nil, err
	}
	topo := env.Topology
	if index < 0 || index >= topo.NumRouters() {
		return nil, fmt.Errorf("%w: router index %d out of range", ErrInvalid, index)
	}
	nvc := cfg.VirtualChannels
	ports := topo.Ports(index)
	r := &Basic{
		index:            index,
		cfg:              cfg,
		env:              env,
		ports:            ports,
		serverPort:       make([]bool, ports),
		inputs:           make([][]*packet.Buffer, ports),
		credits:          make([][]int, ports),
		selectedInput:    make([][]grant, ports),
		selectedOutput:   make([][]grant, ports),
		timeAtHead:       make([][]int64, ports),
		memos:            make([][]memo, ports),
		tokens:           make([]int, ports),
		needsQueueLength: policy.NeedsQueueLength(env.Policies),
		lastStep:         -1,
		stats:            newMeasurement(nvc),
	}
	if cfg.OutputBufferSize > 0 {
		r.outputs = make([][]*outputBuffer, ports)
	}
	for p := 0; p < ports; p++ {
		loc, class := topo.Neighbour(index, p)
		if loc.Kind != topology.LocationNone && (class < 0 || class >= len(env.LinkDelays)) {
			return nil, fmt.Errorf("%w: router %d port %d uses link class %d without a delay", ErrInvalid, index, p, class)
		}
		r.serverPort[p] = loc.IsServer()
		r.inputs[p] = make([]*packet.Buffer, nvc)
		r.credits[p] = make([]int, nvc)
		r.selectedInput[p] = make([]grant, nvc)
		r.selectedOutput[p] = make([]grant, nvc)
		r.timeAtHead[p] = make([]int64, nvc)
		r.memos[p] = make([]memo, nvc)
		if r.outputs != nil {
			r.outputs[p] = make([]*outputBuffer, nvc)
		}
		for vc := 0; vc < nvc; vc++ {
			r.inputs[p][vc] = packet.NewBuffer(cfg.BufferSize)
			r.credits[p][vc] = cfg.BufferSize
			if r.outputs != nil {
				r.outputs[p][vc] = &outputBuffer{phits: packet.NewBuffer(cfg.OutputBufferSize)}
			}
		}
	}
	switch cfg.Allocator {
	case "islip":
		r.allocator = newISLIP(ports*nvc, ports*nvc, nvc, cfg.IslipIterations)
	default:
		r.allocator = &randomAllocator{intransitPriority: cfg.IntransitPriority, lowestLabelFirst: cfg.OutputPrioritizeLowestLabel}
	}
	return r, nil
}

func (r *Basic) Index() int { return r.index }

// Insert stores a phit arriving through port. Head phits update the routing
// state of their packet: a hop when coming from another router, the
// initialization when coming from a server.
func (r *Basic) Insert(cycle int64, phit *packet.Phit, port int, rng *rand.Rand) {
	vc := phit.VirtualChannel
	if vc < 0 || vc >= r.cfg.VirtualChannels {
		panic(fmt.Sprintf("router %d: phit arrived on port %d with virtual channel %d", r.index, port, vc))
	}
	if phit.IsHead() {
		p := phit.Packet
		topo := r.env.Topology
		target := r.targetRouter(p)
		loc, _ := topo.Neighbour(r.index, port)
		if loc.IsRouter() {
			p.Routing.Hops++
			r.env.Routing.UpdateInfo(&p.Routing, topo, r.index, port, target, rng)
		} else {
			p.CycleIntoNetwork = cycle
			r.env.Routing.InitializeInfo(&p.Routing, topo, r.index, target, rng)
		}
	}
	r.inputs[port][vc].Push(phit)
}

// Acknowledge accounts a credit returned by the neighbour behind port.
func (r *Basic) Acknowledge(port, vc int) {
	r.credits[port][vc]++
	if r.credits[port][vc] > r.cfg.BufferSize {
		panic(fmt.Sprintf("router %d port %d vc %d: %d credits exceed buffer size %d", r.index, port, vc, r.credits[port][vc], r.cfg.BufferSize))
	}
}

func (r *Basic) targetRouter(p *packet.Packet) int {
	loc, _ := r.env.Topology.ServerNeighbour(p.Message.Destination)
	return loc.Router
}

// request is an input virtual channel asking for an output virtual channel.
type request struct {
	packet    *packet.Packet
	entryPort int
	entryVC   int
	exitPort  int
	exitVC    int
	label     int
	inTransit bool
}

// Step performs the work of one cycle: routing and requests for waiting
// heads, allocation, then crossbar and link traversal.
func (r *Basic) Step(cycle int64, rng *rand.Rand, out Emitter) (StepResult, error) {
	if r.lastStep >= cycle {
		panic(fmt.Sprintf("router %d stepped at cycle %d after cycle %d", r.index, cycle, r.lastStep))
	}
	r.lastStep = cycle
	r.gatherStatistics()

	requests, err := r.collectRequests(cycle, rng)
	if err != nil {
		return StepResult{}, err
	}
	r.stats.Requests += int64(len(requests))
	for _, q := range r.allocator.allocate(requests, rng) {
		if r.selectedInput[q.exitPort][q.exitVC].valid || r.selectedOutput[q.entryPort][q.entryVC].valid {
			continue
		}
		r.selectedInput[q.exitPort][q.exitVC] = grant{valid: true, port: q.entryPort, vc: q.entryVC, label: q.label, packet: q.packet}
		r.selectedOutput[q.entryPort][q.entryVC] = grant{valid: true, port: q.exitPort, vc: q.exitVC, label: q.label, packet: q.packet}
	}

	var res StepResult
	if r.outputs == nil {
		r.traverseDirect(rng, out, &res)
	} else {
		r.traverseCrossbar(out, &res)
		r.traverseLinks(rng, out, &res)
	}
	r.stats.Moved += int64(res.Moved)
	return res, nil
}

func (r *Basic) collectRequests(cycle int64, rng *rand.Rand) ([]request, error) {
	topo := r.env.Topology
	nvc := r.cfg.VirtualChannels
	var busy []bool
	if !r.cfg.AllowRequestBusyPort {
		busy = r.busyPorts()
	}
	info := policy.RequestInfo{Router: r.index, Cycle: cycle}
	if r.needsQueueLength {
		info.PortAverageNeighbourQueueLength = r.neighbourQueueLength()
	}
	if r.outputs != nil {
		info.PortOccupiedOutputSpace = r.occupiedOutputSpace()
	}

	var requests []request
	for entry := 0; entry < r.ports; entry++ {
		for vc := 0; vc < nvc; vc++ {
			phit := r.inputs[entry][vc].Front()
			if phit == nil {
				continue
			}
			r.timeAtHead[entry][vc]++
			if r.selectedOutput[entry][vc].valid {
				continue
			}
			if !phit.IsHead() {
				panic(fmt.Sprintf("router %d port %d vc %d: phit %d of %v waits without an allocation", r.index, entry, vc, phit.Index, phit.Packet))
			}
			candidates, err := r.route(phit, entry, rng)
			if err != nil {
				return nil, err
			}
			candidates = r.admit(candidates, phit, entry, busy)
			if len(candidates) == 0 {
				continue
			}
			info.TargetRouter = r.targetRouter(phit.Packet)
			info.EntryPort = entry
			info.EntryVC = vc
			info.PerformedHops = phit.Packet.Routing.Hops
			info.TimeAtFront = r.timeAtHead[entry][vc]
			loc, _ := topo.Neighbour(r.index, entry)
			for _, c := range policy.Apply(r.env.Policies, candidates, &info, topo, rng) {
				if r.selectedInput[c.Port][c.VirtualChannel].valid {
					continue
				}
				requests = append(requests, request{
					packet:    phit.Packet,
					entryPort: entry,
					entryVC:   vc,
					exitPort:  c.Port,
					exitVC:    c.VirtualChannel,
					label:     c.Label,
					inTransit: loc.IsRouter(),
				})
			}
		}
	}
	return requests, nil
}

// route returns a private copy of the routing candidates of the head phit,
// reusing the memo when routing declared them idempotent.
func (r *Basic) route(phit *packet.Phit, entry int, rng *rand.Rand) ([]routing.Candidate, error) {
	p := phit.Packet
	m := &r.memos[entry][phit.VirtualChannel]
	if m.packet == p {
		return append([]routing.Candidate(nil), m.list...), nil
	}
	targetServer := p.Message.Destination
	c, err := r.env.Routing.Next(&p.Routing, r.env.Topology, r.index, r.targetRouter(p), targetServer, r.cfg.VirtualChannels, rng)
	if err != nil {
		return nil, fmt.Errorf("routing at router %d towards server %d: %w", r.index, targetServer, err)
	}
	for _, cand := range c.List {
		if cand.Port < 0 || cand.Port >= r.ports || cand.VirtualChannel < 0 || cand.VirtualChannel >= r.cfg.VirtualChannels {
			return nil, fmt.Errorf("routing at router %d returned port %d vc %d out of range", r.index, cand.Port, cand.VirtualChannel)
		}
	}
	if c.Idempotent {
		*m = memo{packet: p, list: c.List}
		if len(c.List) == 0 && !r.warnedEmpty {
			r.warnedEmpty = true
			logrus.Warnf("router %d: no route for %v towards server %d; it will wait", r.index, p, targetServer)
		}
	}
	return append([]routing.Candidate(nil), c.List...), nil
}

// admit marks each candidate as allowed or denied by the router.
func (r *Basic) admit(candidates []routing.Candidate, phit *packet.Phit, entry int, busy []bool) []routing.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if r.selectedInput[c.Port][c.VirtualChannel].valid {
			if r.cfg.NeglectBusyOutput {
				continue
			}
			c.RouterAllows = routing.AdmissionDenied
			out = append(out, c)
			continue
		}
		bubble := r.cfg.Bubble && r.env.Topology.IsDirectionChange(r.index, entry, c.Port)
		allowed := r.canAdvance(phit, c.Port, c.VirtualChannel, bubble)
		if allowed && busy != nil && busy[c.Port] {
			allowed = false
		}
		if allowed {
			c.RouterAllows = routing.AdmissionAllowed
		} else {
			c.RouterAllows = routing.AdmissionDenied
		}
		out = append(out, c)
	}
	return out
}

// canTransmit reports whether phit may cross the link of exit on vc.
// A head needs flit_size credits, and with bubble room for itself plus a
// maximum packet. Leaving towards a server never needs the bubble.
func (r *Basic) canTransmit(phit *packet.Phit, exit, vc int, bubble bool) bool {
	bubble = bubble && !r.serverPort[exit]
	credits := r.credits[exit][vc]
	if !phit.IsHead() {
		return credits >= 1
	}
	if bubble && credits < phit.Packet.Size+r.env.MaximumPacketSize {
		return false
	}
	return credits >= r.cfg.FlitSize
}

// canAdvance reports whether phit may leave its input buffer towards exit:
// over the link without output buffers, into the output buffer otherwise.
func (r *Basic) canAdvance(phit *packet.Phit, exit, vc int, bubble bool) bool {
	if r.outputs == nil {
		return r.canTransmit(phit, exit, vc, bubble)
	}
	bubble = bubble && !r.serverPort[exit]
	need := 1
	if phit.IsHead() {
		need = r.cfg.FlitSize
		if bubble {
			need = phit.Packet.Size + r.env.MaximumPacketSize
		}
	}
	return r.outputs[exit][vc].phits.Free() >= need
}

// busyPorts marks output ports with an allocated channel able to advance.
func (r *Basic) busyPorts() []bool {
	busy := make([]bool, r.ports)
	for exit := 0; exit < r.ports; exit++ {
		for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
			g := r.selectedInput[exit][vc]
			if !g.valid {
				continue
			}
			if phit := r.inputs[g.port][g.vc].Front(); phit != nil && r.canAdvance(phit, exit, vc, false) {
				busy[exit] = true
				break
			}
		}
	}
	return busy
}

func (r *Basic) neighbourQueueLength() []float64 {
	q := make([]float64, r.ports)
	for p := 0; p < r.ports; p++ {
		if r.serverPort[p] {
			continue
		}
		total := 0
		for _, c := range r.credits[p] {
			total += r.cfg.BufferSize - c
		}
		q[p] = float64(total) / float64(r.cfg.VirtualChannels)
	}
	return q
}

func (r *Basic) occupiedOutputSpace() []int {
	occ := make([]int, r.ports)
	for p, port := range r.outputs {
		for _, o := range port {
			occ[p] += o.phits.Len()
		}
	}
	return occ
}

// inTransitFirst adds vc to the output arbiter candidates. Once a phit in
// the middle of a packet is a candidate, new heads are no longer considered.
func inTransitFirst(cand []int, inTransit bool, vc int, body bool) ([]int, bool) {
	switch {
	case inTransit && body:
		return append(cand, vc), true
	case inTransit:
		return cand, true
	case body:
		return append(cand[:0], vc), true
	default:
		return append(cand, vc), false
	}
}

// traverseDirect moves phits from input buffers straight onto the links,
// one per output port.
func (r *Basic) traverseDirect(rng *rand.Rand, out Emitter, res *StepResult) {
	topo := r.env.Topology
	for exit := 0; exit < r.ports; exit++ {
		var cand, undo []int
		inTransit := false
		for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
			g := r.selectedInput[exit][vc]
			if !g.valid {
				continue
			}
			phit := r.inputs[g.port][g.vc].Front()
			if phit == nil {
				continue
			}
			if phit.IsHead() {
				undo = append(undo, vc)
			}
			bubble := r.cfg.Bubble && phit.IsHead() && topo.IsDirectionChange(r.index, g.port, exit)
			if r.canTransmit(phit, exit, vc, bubble) {
				cand, inTransit = inTransitFirst(cand, inTransit, vc, !phit.IsHead())
			}
		}
		selected := -1
		if len(cand) > 0 {
			selected = r.arbitrate(exit, cand, rng)
			g := r.selectedInput[exit][selected]
			phit := r.inputs[g.port][g.vc].Pop()
			r.release(g.port, g.vc, phit, out)
			res.Moved++
			if phit.IsTail() {
				r.selectedInput[exit][selected] = grant{}
				r.selectedOutput[g.port][g.vc] = grant{}
			}
			r.send(exit, selected, phit, out)
			res.Sent++
		}
		for _, vc := range undo {
			if vc == selected {
				continue
			}
			g := r.selectedInput[exit][vc]
			r.selectedOutput[g.port][g.vc] = grant{}
			r.selectedInput[exit][vc] = grant{}
		}
	}
}

// traverseCrossbar moves at most one phit per allocated output channel
// from the input buffer into the output buffer.
func (r *Basic) traverseCrossbar(out Emitter, res *StepResult) {
	topo := r.env.Topology
	for exit := 0; exit < r.ports; exit++ {
		for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
			g := r.selectedInput[exit][vc]
			if !g.valid {
				continue
			}
			phit := r.inputs[g.port][g.vc].Front()
			if phit == nil {
				continue
			}
			bubble := r.cfg.Bubble && phit.IsHead() && topo.IsDirectionChange(r.index, g.port, exit)
			if !r.canAdvance(phit, exit, vc, bubble) {
				if phit.IsHead() {
					r.selectedOutput[g.port][g.vc] = grant{}
					r.selectedInput[exit][vc] = grant{}
				}
				continue
			}
			r.inputs[g.port][g.vc].Pop()
			r.release(g.port, g.vc, phit, out)
			res.Moved++
			phit.VirtualChannel = vc
			r.outputs[exit][vc].push(phit, g.port)
			if phit.IsTail() {
				r.selectedInput[exit][vc] = grant{}
				r.selectedOutput[g.port][g.vc] = grant{}
			}
		}
	}
}

// traverseLinks sends at most one phit per port from the output buffers.
func (r *Basic) traverseLinks(rng *rand.Rand, out Emitter, res *StepResult) {
	topo := r.env.Topology
	for exit := 0; exit < r.ports; exit++ {
		var cand []int
		inTransit := false
		for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
			o := r.outputs[exit][vc]
			phit := o.phits.Front()
			if phit == nil {
				continue
			}
			bubble := r.cfg.Bubble && phit.IsHead() && topo.IsDirectionChange(r.index, o.entries[0], exit)
			if r.canTransmit(phit, exit, vc, bubble) {
				cand, inTransit = inTransitFirst(cand, inTransit, vc, !phit.IsHead())
			}
		}
		if len(cand) == 0 {
			continue
		}
		selected := r.arbitrate(exit, cand, rng)
		phit, _ := r.outputs[exit][selected].pop()
		r.send(exit, selected, phit, out)
		res.Sent++
	}
}

// arbitrate picks the virtual channel that uses port exit this cycle.
func (r *Basic) arbitrate(exit int, cand []int, rng *rand.Rand) int {
	switch r.cfg.OutputArbiter {
	case "random":
		return cand[rng.Intn(len(cand))]
	case "lowest_label":
		best := cand[0]
		for _, vc := range cand[1:] {
			if r.label(exit, vc) < r.label(exit, best) {
				best = vc
			}
		}
		return best
	default:
		nvc := r.cfg.VirtualChannels
		token := r.tokens[exit]
		best, bestd := cand[0], nvc
		for _, vc := range cand {
			d := (vc - token + nvc) % nvc
			if d < bestd {
				best, bestd = vc, d
			}
		}
		r.tokens[exit] = best
		return best
	}
}

// label is the label of the packet holding output channel (exit, vc), 0
// when the phit already sits in an output buffer.
func (r *Basic) label(exit, vc int) int {
	if g := r.selectedInput[exit][vc]; g.valid {
		return g.label
	}
	return 0
}

// release frees the input slot of a departing phit and returns its credit upstream.
func (r *Basic) release(entry, vc int, phit *packet.Phit, out Emitter) {
	r.timeAtHead[entry][vc] = 0
	if phit.IsHead() {
		r.memos[entry][vc] = memo{}
	}
	loc, class := r.env.Topology.Neighbour(r.index, entry)
	out.ReturnCredit(loc, vc, r.env.LinkDelays[class])
}

// send puts phit on the link of exit using virtual channel vc.
func (r *Basic) send(exit, vc int, phit *packet.Phit, out Emitter) {
	loc, class := r.env.Topology.Neighbour(r.index, exit)
	if loc.Kind == topology.LocationNone {
		panic(fmt.Sprintf("router %d: sending through unconnected port %d", r.index, exit))
	}
	phit.VirtualChannel = vc
	r.credits[exit][vc]--
	if r.credits[exit][vc] < 0 {
		panic(fmt.Sprintf("router %d port %d vc %d: negative credits", r.index, exit, vc))
	}
	if phit.IsTail() && r.cfg.OutputArbiter == "token" {
		r.tokens[exit] = (r.tokens[exit] + 1) % r.cfg.VirtualChannels
	}
	out.SendPhit(topology.RouterPort(r.index, exit), loc, phit, r.env.LinkDelays[class])
}

// Phits counts the phits stored in the router.
func (r *Basic) Phits() int {
	n := 0
	for p := 0; p < r.ports; p++ {
		for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
			n += r.inputs[p][vc].Len()
			if r.outputs != nil {
				n += r.outputs[p][vc].phits.Len()
			}
		}
	}
	return n
}

// InputOccupancy returns the phits stored in the input buffer of (port, vc).
func (r *Basic) InputOccupancy(port, vc int) int { return r.inputs[port][vc].Len() }

// Credits returns the known free slots downstream of (port, vc).
func (r *Basic) Credits(port, vc int) int { return r.credits[port][vc] }

// CheckInvariants verifies buffer bounds, credit bounds and the consistency
// of allocations. It is meant for tests and debugging.
func (r *Basic) CheckInvariants() error {
	for p := 0; p < r.ports; p++ {
		for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
			if n := r.inputs[p][vc].Len(); n < 0 || n > r.cfg.BufferSize {
				return fmt.Errorf("router %d port %d vc %d: input occupancy %d outside [0, %d]", r.index, p, vc, n, r.cfg.BufferSize)
			}
			if r.outputs != nil {
				if n := r.outputs[p][vc].phits.Len(); n > r.cfg.OutputBufferSize {
					return fmt.Errorf("router %d port %d vc %d: output occupancy %d above %d", r.index, p, vc, n, r.cfg.OutputBufferSize)
				}
			}
			if c := r.credits[p][vc]; c < 0 || c > r.cfg.BufferSize {
				return fmt.Errorf("router %d port %d vc %d: credits %d outside [0, %d]", r.index, p, vc, c, r.cfg.BufferSize)
			}
			if g := r.selectedInput[p][vc]; g.valid {
				back := r.selectedOutput[g.port][g.vc]
				if !back.valid || back.port != p || back.vc != vc || back.packet != g.packet {
					return fmt.Errorf("router %d: output (%d,%d) granted to input (%d,%d) which does not point back", r.index, p, vc, g.port, g.vc)
				}
			}
		}
	}
	return nil
}
