package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/netsim/sim/packet"
	"github.com/inference-sim/netsim/sim/topology"
)

// EventPriority orders the events of one cycle; lower runs first.
type EventPriority int

const (
	PriorityCreditReturn EventPriority = iota
	PriorityPhitArrival
	PriorityServerStep
	PriorityRouterStep
)

// Event defines the interface for all simulation events.
// The scheduler decides when an event runs; Execute advances simulation
// state at the scheduler's current cycle.
type Event interface {
	Priority() EventPriority
	Execute(*Simulation)
}

// PhitArrivalEvent delivers a phit at the far end of a link.
type PhitArrivalEvent struct {
	To   topology.Location
	Phit *packet.Phit
}

func (e *PhitArrivalEvent) Priority() EventPriority { return PriorityPhitArrival }

// Execute stores the phit in a router input buffer or hands it to a server.
func (e *PhitArrivalEvent) Execute(s *Simulation) {
	logrus.Tracef("<< PhitArrival: %v phit %d at %v, cycle %d", e.Phit.Packet, e.Phit.Index, e.To, s.Now())
	if e.To.IsServer() {
		s.receive(e.To.Server, e.Phit)
		return
	}
	s.insert(e.To.Router, e.To.Port, e.Phit)
}

// CreditReturnEvent frees one slot of a virtual channel as seen by the sender.
type CreditReturnEvent struct {
	To             topology.Location
	VirtualChannel int
}

func (e *CreditReturnEvent) Priority() EventPriority { return PriorityCreditReturn }

// Execute hands the credit to the router port or server at To.
func (e *CreditReturnEvent) Execute(s *Simulation) {
	logrus.Tracef("<< CreditReturn: %v vc %d, cycle %d", e.To, e.VirtualChannel, s.Now())
	if e.To.IsServer() {
		s.servers[e.To.Server].acknowledge(e.VirtualChannel)
		return
	}
	s.routers[e.To.Router].Acknowledge(e.To.Port, e.VirtualChannel)
}

// ServerStepEvent runs every server for one cycle: generation, injection
// and retried consumption. It reschedules itself for the next cycle.
type ServerStepEvent struct{}

func (e *ServerStepEvent) Priority() EventPriority { return PriorityServerStep }

func (e *ServerStepEvent) Execute(s *Simulation) {
	s.stepServers()
	s.scheduler.Schedule(e, 1)
}

// RouterStepEvent runs one router for one cycle.
type RouterStepEvent struct {
	Router int
}

func (e *RouterStepEvent) Priority() EventPriority { return PriorityRouterStep }

func (e *RouterStepEvent) Execute(s *Simulation) {
	logrus.Tracef("<< RouterStep: router %d, cycle %d", e.Router, s.Now())
	s.stepRouter(e.Router)
}
