package sim

import (
	"math/rand"

	"github.com/inference-sim/netsim/sim/packet"
	"github.com/inference-sim/netsim/sim/topology"
)

// server is a traffic endpoint attached to one router port.
type server struct {
	index int
	// attached is the router port the server sends into.
	attached topology.Location
	delay    int64
	queue    *packet.Buffer
	// credits counts free slots of each virtual channel of the router input.
	credits []int
	// injectionVC is the channel of the packet being injected, or -1.
	injectionVC int
	// pending holds complete messages the traffic has not consumed yet, in
	// arrival order.
	pending []*packet.Message
	// pendingPhits counts the phits of pending messages. Once it reaches
	// reception, credits of arriving phits are withheld from the router.
	pendingPhits int
	reception    int
	withheld     []int
}

func newServer(index int, attached topology.Location, delay int64, queueSize, receptionSize, vcs, bufferSize int) *server {
	s := &server{
		index:       index,
		attached:    attached,
		delay:       delay,
		queue:       packet.NewBuffer(queueSize),
		credits:     make([]int, vcs),
		injectionVC: -1,
		reception:   receptionSize,
		withheld:    make([]int, vcs),
	}
	for vc := range s.credits {
		s.credits[vc] = bufferSize
	}
	return s
}

func (s *server) acknowledge(vc int) { s.credits[vc]++ }

// receptionFull reports whether arriving phits must keep their credits.
func (s *server) receptionFull() bool { return s.pendingPhits >= s.reception }

// hold queues a complete message the traffic refused.
func (s *server) hold(m *packet.Message) {
	s.pending = append(s.pending, m)
	s.pendingPhits += m.Size
}

// release pops the oldest pending message.
func (s *server) release() {
	s.pendingPhits -= s.pending[0].Size
	s.pending[0] = nil
	s.pending = s.pending[1:]
}

// enqueue segments m into the injection queue. It reports false, storing
// nothing, when the queue cannot hold the whole message.
func (s *server) enqueue(m *packet.Message, maximumPacketSize int) bool {
	if s.queue.Free() < m.Size {
		return false
	}
	for _, p := range packet.Segment(m, maximumPacketSize) {
		s.queue.Push(p)
	}
	return true
}

// nextPhit returns the phit to inject this cycle and its virtual channel,
// or nil when the queue is empty or the router has no room.
func (s *server) nextPhit(flitSize int, rng *rand.Rand) (*packet.Phit, int) {
	phit := s.queue.Front()
	if phit == nil {
		return nil, -1
	}
	if !phit.IsHead() {
		if s.credits[s.injectionVC] < 1 {
			return nil, -1
		}
		return phit, s.injectionVC
	}
	var ready []int
	for vc, c := range s.credits {
		if c >= flitSize {
			ready = append(ready, vc)
		}
	}
	if len(ready) == 0 {
		return nil, -1
	}
	return phit, ready[rng.Intn(len(ready))]
}

// inject removes the front phit, sent on vc.
func (s *server) inject(vc int) *packet.Phit {
	phit := s.queue.Pop()
	phit.VirtualChannel = vc
	s.credits[vc]--
	s.injectionVC = vc
	if phit.IsTail() {
		s.injectionVC = -1
	}
	return phit
}
