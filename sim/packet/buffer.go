package packet

import "fmt"

// Buffer is a bounded FIFO of phits backed by a ring.
//
// Pushing into a full buffer panics: callers must have checked credits or
// free space first, so an overflow is a flow-control bug.
type Buffer struct {
	slots []*Phit
	head  int
	size  int
}

// NewBuffer returns an empty buffer holding up to capacity phits.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{slots: make([]*Phit, capacity)}
}

func (b *Buffer) Len() int      { return b.size }
func (b *Buffer) Capacity() int { return len(b.slots) }
func (b *Buffer) Free() int     { return len(b.slots) - b.size }
func (b *Buffer) Empty() bool   { return b.size == 0 }

// Push appends a phit at the back.
func (b *Buffer) Push(p *Phit) {
	if b.size == len(b.slots) {
		panic(fmt.Sprintf("push into full buffer of capacity %d", len(b.slots)))
	}
	b.slots[(b.head+b.size)%len(b.slots)] = p
	b.size++
}

// Front returns the oldest phit, or nil.
func (b *Buffer) Front() *Phit {
	if b.size == 0 {
		return nil
	}
	return b.slots[b.head]
}

// Pop removes and returns the oldest phit, or nil.
func (b *Buffer) Pop() *Phit {
	if b.size == 0 {
		return nil
	}
	p := b.slots[b.head]
	b.slots[b.head] = nil
	b.head = (b.head + 1) % len(b.slots)
	b.size--
	return p
}

// At returns the i-th phit from the front.
func (b *Buffer) At(i int) *Phit {
	if i < 0 || i >= b.size {
		return nil
	}
	return b.slots[(b.head+i)%len(b.slots)]
}
