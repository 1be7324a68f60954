// Package packet defines the units that travel through the network:
// messages, the packets they are segmented into, and the phits that make up
// a packet. It also provides the bounded FIFO used for every buffer.
package packet

import (
	"fmt"

	"github.com/inference-sim/netsim/sim/routing"
)

// Message is the application-level unit generated by a traffic.
type Message struct {
	Origin        int
	Destination   int
	Size          int
	CreationCycle int64
	// Consumed counts the phits of the message that reached the destination.
	Consumed int
}

// Complete reports whether every phit of the message has been received.
func (m *Message) Complete() bool { return m.Consumed >= m.Size }

// Packet is a contiguous sequence of phits sharing one routing decision.
type Packet struct {
	Message *Message
	// Index of the packet within its message.
	Index int
	Size  int
	// Routing is the per-packet state kept by the routing algorithm.
	Routing routing.Info
	// CycleIntoNetwork is the cycle the head phit entered its first router, or -1.
	CycleIntoNetwork int64
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet %d/%d of message %d->%d", p.Index, p.Size, p.Message.Origin, p.Message.Destination)
}

// Phit is the atomic flow-control unit. It occupies exactly one buffer slot.
type Phit struct {
	Packet *Packet
	Index  int
	// VirtualChannel is the channel of the buffer the phit is stored in or
	// travelling towards; -1 before injection.
	VirtualChannel int
}

// IsHead reports whether the phit is the first of its packet.
func (p *Phit) IsHead() bool { return p.Index == 0 }

// IsTail reports whether the phit is the last of its packet.
func (p *Phit) IsTail() bool { return p.Index == p.Packet.Size-1 }

// Segment splits a message into packets of at most maximumPacketSize phits
// and returns all their phits in transmission order.
func Segment(m *Message, maximumPacketSize int) []*Phit {
	phits := make([]*Phit, 0, m.Size)
	for index, offset := 0, 0; offset < m.Size; index++ {
		size := m.Size - offset
		if size > maximumPacketSize {
			size = maximumPacketSize
		}
		p := &Packet{
			Message:          m,
			Index:            index,
			Size:             size,
			Routing:          routing.Info{Intermediate: -1},
			CycleIntoNetwork: -1,
		}
		for i := 0; i < size; i++ {
			phits = append(phits, &Phit{Packet: p, Index: i, VirtualChannel: -1})
		}
		offset += size
	}
	return phits
}
