package sim

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/netsim/sim/packet"
	"github.com/inference-sim/netsim/sim/policy"
	"github.com/inference-sim/netsim/sim/router"
	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
	"github.com/inference-sim/netsim/sim/traffic"
)

// Simulation owns every piece of mutable state of one run. It is not safe
// for concurrent use; independent runs use independent Simulations.
type Simulation struct {
	cfg       *Config
	topo      topology.Topology
	traffic   traffic.Traffic
	routers   []*router.Basic
	servers   []*server
	scheduler *Scheduler
	rng       *PartitionedRNG
	routerRNG []*rand.Rand
	stats     *collector

	// creditExtra delays every credit return, see CreditNextCycle.
	creditExtra int64
	// routerScheduled is the cycle of the latest RouterStep of each router.
	routerScheduled []int64
	// inNetwork counts phits injected by servers and not yet received by one.
	inNetwork    int64
	lastProgress int64
	measuring    bool
	end          int64
	err          error
	warnedMissed bool

	// AfterCycle, when set, runs after every cycle. A non-nil error aborts
	// the run with that error.
	AfterCycle func(s *Simulation, cycle int64) error
}

// NewSimulation builds the network described by cfg, validating everything
// that can make the run fail before it starts.
func NewSimulation(cfg *Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topo, err := topology.New(cfg.Topology)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	if topo.NumServers() == 0 {
		return nil, fmt.Errorf("%w: no servers attached", ErrInvalidTopology)
	}
	vcs := cfg.Router.VirtualChannels
	rt, err := routing.New(cfg.Routing, topo, vcs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	chain, err := policy.NewChain(cfg.Router.VirtualChannelPolicies, vcs, topo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	rng := NewPartitionedRNG(NewSimulationKey(cfg.RandomSeed))
	tr, err := traffic.New(cfg.Traffic, topo.NumServers(), rng.ForSubsystem(SubsystemSetup))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s := &Simulation{
		cfg:             cfg,
		topo:            topo,
		traffic:         tr,
		scheduler:       NewScheduler(),
		rng:             rng,
		routerScheduled: make([]int64, topo.NumRouters()),
		end:             cfg.Warmup + cfg.Measured,
	}
	if cfg.CreditVisibility == CreditNextCycle {
		s.creditExtra = 1
	}

	delays := cfg.linkDelays()
	env := router.Environment{
		Topology:          topo,
		Routing:           rt,
		Policies:          chain,
		LinkDelays:        delays,
		MaximumPacketSize: cfg.MaximumPacketSize,
	}
	ports := make([]int, topo.NumRouters())
	for r := 0; r < topo.NumRouters(); r++ {
		b, err := router.NewBasic(r, cfg.Router, env)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		s.routers = append(s.routers, b)
		s.routerRNG = append(s.routerRNG, rng.ForSubsystem(SubsystemRouter(r)))
		s.routerScheduled[r] = -1
		ports[r] = topo.Ports(r)
	}
	for i := 0; i < topo.NumServers(); i++ {
		loc, class := topo.ServerNeighbour(i)
		if class < 0 || class >= len(delays) {
			return nil, fmt.Errorf("%w: server %d uses link class %d without a delay", ErrInvalidConfig, i, class)
		}
		s.servers = append(s.servers, newServer(i, loc, delays[class], cfg.ServerQueueSize, cfg.ServerReceptionSize, vcs, cfg.Router.BufferSize))
	}
	s.stats = newCollector(topo.NumServers(), ports, vcs, cfg.StatisticsTemporalStep)
	return s, nil
}

// Topology returns the network topology.
func (s *Simulation) Topology() topology.Topology { return s.topo }

// Now is the cycle being simulated.
func (s *Simulation) Now() int64 { return s.scheduler.Now() }

// Router returns router r.
func (s *Simulation) Router(r int) *router.Basic { return s.routers[r] }

// PhitsInNetwork counts phits between their injection and their arrival at
// the destination server.
func (s *Simulation) PhitsInNetwork() int64 { return s.inNetwork }

// Run simulates warmup+measured cycles, or fewer when the traffic finishes
// and the network drains, and returns the measurement.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	total := s.cfg.Warmup + s.cfg.Measured
	logrus.Infof("run start: %s, traffic %s, %d warm-up + %d measured cycles", topology.Describe(s.topo), s.traffic.Name(), s.cfg.Warmup, s.cfg.Measured)
	s.scheduler.Schedule(&ServerStepEvent{}, 0)
	for {
		next, ok := s.scheduler.NextCycle()
		if !ok || next >= total {
			break
		}
		if !s.measuring && next >= s.cfg.Warmup {
			s.resetStatistics(next)
		}
		cycle := s.scheduler.Advance(s.dispatch)
		if s.err != nil {
			return nil, s.err
		}
		if s.AfterCycle != nil {
			if err := s.AfterCycle(s, cycle); err != nil {
				return nil, err
			}
		}
		if s.cfg.StallCycles > 0 && s.inNetwork > 0 && cycle-s.lastProgress >= s.cfg.StallCycles {
			return nil, fmt.Errorf("%w at cycle %d: %d phits in the network, none moved since cycle %d", ErrStalled, cycle, s.inNetwork, s.lastProgress)
		}
		if s.measuring && s.traffic.IsFinished() && s.drained() {
			s.end = cycle + 1
			logrus.Infof("traffic finished and network drained at cycle %d", cycle)
			break
		}
		if cycle%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("run interrupted at cycle %d: %w", cycle, err)
			}
		}
	}
	if !s.measuring {
		// Nothing happened after warm-up; measure the empty window.
		s.resetStatistics(s.end)
	}
	res := s.result()
	logrus.Infof("run end: cycle %d, injected %.4f, accepted %.4f", res.Cycle, res.InjectedLoad, res.AcceptedLoad)
	return res, nil
}

func (s *Simulation) dispatch(ev Event) {
	if s.err != nil {
		return
	}
	ev.Execute(s)
}

func (s *Simulation) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *Simulation) progress() { s.lastProgress = s.Now() }

func (s *Simulation) drained() bool {
	if s.inNetwork > 0 {
		return false
	}
	for _, sv := range s.servers {
		if !sv.queue.Empty() || len(sv.pending) > 0 {
			return false
		}
	}
	return true
}

func (s *Simulation) resetStatistics(cycle int64) {
	s.measuring = true
	s.stats.reset(cycle)
	for _, r := range s.routers {
		r.ResetStatistics()
	}
}

func (s *Simulation) stepServers() {
	cycle := s.Now()
	trafficRNG := s.rng.ForSubsystem(SubsystemTraffic)
	serverRNG := s.rng.ForSubsystem(SubsystemServer)
	for _, sv := range s.servers {
		s.consumePending(sv, cycle)

		if s.traffic.ServerState(sv.index, cycle) == traffic.StateGenerating && s.traffic.ShouldGenerate(sv.index, cycle, trafficRNG) {
			m, err := s.traffic.Generate(sv.index, cycle, trafficRNG)
			if err != nil {
				s.fail(fmt.Errorf("server %d generating at cycle %d: %w", sv.index, cycle, err))
				return
			}
			if sv.enqueue(m, s.cfg.MaximumPacketSize) {
				s.stats.generated(sv.index, m.Size)
			} else {
				s.stats.missed(sv.index, m.Size)
				if d, ok := s.traffic.(traffic.Discarder); ok {
					d.Discard(m)
				}
				if !s.warnedMissed {
					s.warnedMissed = true
					logrus.Warnf("server %d missed a generation at cycle %d: injection queue full", sv.index, cycle)
				}
			}
		}

		if phit, vc := sv.nextPhit(s.cfg.Router.FlitSize, serverRNG); phit != nil {
			sv.inject(vc)
			s.stats.created(sv.index, cycle)
			s.inNetwork++
			s.progress()
			s.scheduler.Schedule(&PhitArrivalEvent{To: sv.attached, Phit: phit}, sv.delay)
		}
	}
}

// consumePending offers the pending messages of sv to the traffic in
// arrival order, stopping at the first refusal. Credits withheld while the
// reception was full go back to the router once it has room again.
func (s *Simulation) consumePending(sv *server, cycle int64) {
	for len(sv.pending) > 0 {
		m := sv.pending[0]
		if !s.traffic.TryConsume(sv.index, m, cycle) {
			break
		}
		sv.release()
		s.stats.consumedMessage(sv.index, cycle, cycle-m.CreationCycle, m.Size)
		s.progress()
	}
	if sv.receptionFull() {
		return
	}
	for vc, n := range sv.withheld {
		for ; n > 0; n-- {
			s.scheduler.Schedule(&CreditReturnEvent{To: sv.attached, VirtualChannel: vc}, sv.delay+s.creditExtra)
		}
		sv.withheld[vc] = 0
	}
}

// insert stores a phit arriving at a router and makes sure it steps this cycle.
func (s *Simulation) insert(r, port int, phit *packet.Phit) {
	s.routers[r].Insert(s.Now(), phit, port, s.routerRNG[r])
	if s.routerScheduled[r] < s.Now() {
		s.routerScheduled[r] = s.Now()
		s.scheduler.Schedule(&RouterStepEvent{Router: r}, 0)
	}
}

func (s *Simulation) stepRouter(r int) {
	cycle := s.Now()
	res, err := s.routers[r].Step(cycle, s.routerRNG[r], emitter{s})
	if err != nil {
		s.fail(fmt.Errorf("cycle %d: %w", cycle, err))
		return
	}
	if res.Moved > 0 || res.Sent > 0 {
		s.progress()
	}
	if s.routers[r].Phits() > 0 {
		s.routerScheduled[r] = cycle + 1
		s.scheduler.Schedule(&RouterStepEvent{Router: r}, 1)
	}
}

// receive hands a phit to its destination server.
func (s *Simulation) receive(idx int, phit *packet.Phit) {
	cycle := s.Now()
	m := phit.Packet.Message
	if m.Destination != idx {
		panic(fmt.Sprintf("server %d received a phit of %v", idx, phit.Packet))
	}
	s.inNetwork--
	s.progress()
	sv := s.servers[idx]
	m.Consumed++
	if phit.IsTail() {
		p := phit.Packet
		s.stats.consumedPacket(p.Routing.Hops, cycle-p.CycleIntoNetwork)
	}
	if m.Complete() {
		// Older refused messages go first.
		if len(sv.pending) == 0 && s.traffic.TryConsume(idx, m, cycle) {
			s.stats.consumedMessage(idx, cycle, cycle-m.CreationCycle, m.Size)
		} else {
			sv.hold(m)
		}
	}
	if sv.receptionFull() {
		sv.withheld[phit.VirtualChannel]++
		return
	}
	s.scheduler.Schedule(&CreditReturnEvent{To: sv.attached, VirtualChannel: phit.VirtualChannel}, sv.delay+s.creditExtra)
}

// CheckInvariants verifies every router and the server credit counters.
func (s *Simulation) CheckInvariants() error {
	for _, r := range s.routers {
		if err := r.CheckInvariants(); err != nil {
			return err
		}
	}
	for _, sv := range s.servers {
		for vc, c := range sv.credits {
			if c < 0 || c > s.cfg.Router.BufferSize {
				return fmt.Errorf("server %d vc %d: credits %d outside [0, %d]", sv.index, vc, c, s.cfg.Router.BufferSize)
			}
		}
		if sv.pendingPhits < 0 {
			return fmt.Errorf("server %d: %d pending phits", sv.index, sv.pendingPhits)
		}
		if !sv.receptionFull() {
			for vc, n := range sv.withheld {
				if n > 0 {
					return fmt.Errorf("server %d vc %d: %d credits withheld with room in the reception", sv.index, vc, n)
				}
			}
		}
	}
	return nil
}

// emitter turns what routers send into scheduled events.
type emitter struct{ s *Simulation }

func (e emitter) SendPhit(from, to topology.Location, phit *packet.Phit, delay int64) {
	if from.IsRouter() && to.IsRouter() {
		e.s.stats.linkPhit(from.Router, from.Port, phit.VirtualChannel)
	}
	e.s.scheduler.Schedule(&PhitArrivalEvent{To: to, Phit: phit}, delay)
}

func (e emitter) ReturnCredit(to topology.Location, vc int, delay int64) {
	e.s.scheduler.Schedule(&CreditReturnEvent{To: to, VirtualChannel: vc}, delay+e.s.creditExtra)
}
