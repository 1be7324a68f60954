package sim

import "fmt"

// Scheduler is the time-ordered event queue of a simulation.
//
// Events of one cycle run in priority order. While an event of priority p
// runs, new events may be scheduled for the same cycle only with a priority
// greater than p; everything else must lie in the future.
type Scheduler struct {
	heap *eventHeap
	now  int64
	seq  uint64
	// running is the priority being dispatched, or -1 between cycles.
	running EventPriority
}

// NewScheduler returns an empty scheduler at cycle 0.
func NewScheduler() *Scheduler {
	return &Scheduler{heap: newEventHeap(), running: -1}
}

// Now is the current cycle.
func (s *Scheduler) Now() int64 { return s.now }

// Pending counts the events not yet dispatched.
func (s *Scheduler) Pending() int { return s.heap.Len() }

// Schedule inserts ev delay cycles after now.
func (s *Scheduler) Schedule(ev Event, delay int64) {
	if delay < 0 {
		panic(fmt.Sprintf("scheduling %T at negative delay %d", ev, delay))
	}
	if delay == 0 && s.running >= 0 && ev.Priority() <= s.running {
		panic(fmt.Sprintf("scheduling %T (priority %d) in cycle %d while dispatching priority %d", ev, ev.Priority(), s.now, s.running))
	}
	s.seq++
	s.heap.schedule(scheduled{cycle: s.now + delay, seq: s.seq, event: ev})
}

// NextCycle returns the cycle of the earliest pending event.
func (s *Scheduler) NextCycle() (int64, bool) {
	next, ok := s.heap.peek()
	return next.cycle, ok
}

// Advance moves to the cycle of the earliest pending event and dispatches,
// in order, every event of that cycle, including those scheduled for it
// while dispatching. It returns the dispatched cycle.
func (s *Scheduler) Advance(dispatch func(Event)) int64 {
	next, ok := s.heap.peek()
	if !ok {
		return s.now
	}
	if next.cycle < s.now {
		panic(fmt.Sprintf("time rewinds from %d to %d", s.now, next.cycle))
	}
	s.now = next.cycle
	for {
		head, ok := s.heap.peek()
		if !ok || head.cycle != s.now {
			break
		}
		s.heap.popNext()
		s.running = head.event.Priority()
		dispatch(head.event)
	}
	s.running = -1
	return s.now
}
