package sim

import "container/heap"

// scheduled is an event placed at a cycle. seq breaks ties in insertion order.
type scheduled struct {
	cycle int64
	seq   uint64
	event Event
}

// eventHeap implements a priority queue with deterministic ordering
// Ordering: cycle → priority → insertion sequence
type eventHeap struct {
	events []scheduled
}

func newEventHeap() *eventHeap {
	h := &eventHeap{}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *eventHeap) Len() int { return len(h.events) }

// Less implements heap.Interface with deterministic ordering
func (h *eventHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]
	if ei.cycle != ej.cycle {
		return ei.cycle < ej.cycle
	}
	if pi, pj := ei.event.Priority(), ej.event.Priority(); pi != pj {
		return pi < pj
	}
	return ei.seq < ej.seq
}

// Swap implements heap.Interface
func (h *eventHeap) Swap(i, j int) {
	h.events[i], h.events[j] = h.events[j], h.events[i]
}

// Push implements heap.Interface
func (h *eventHeap) Push(x any) {
	h.events = append(h.events, x.(scheduled))
}

// Pop implements heap.Interface
func (h *eventHeap) Pop() any {
	old := h.events
	n := len(old)
	item := old[n-1]
	old[n-1] = scheduled{}
	h.events = old[:n-1]
	return item
}

func (h *eventHeap) schedule(s scheduled) { heap.Push(h, s) }

func (h *eventHeap) popNext() scheduled { return heap.Pop(h).(scheduled) }

func (h *eventHeap) peek() (scheduled, bool) {
	if len(h.events) == 0 {
		return scheduled{}, false
	}
	return h.events[0], true
}
