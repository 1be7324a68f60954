package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_SplitsIntoMaximumSizedPackets(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		maxPacket int
		want      []int
	}{
		{"single packet", 8, 16, []int{8}},
		{"exact multiple", 32, 16, []int{16, 16}},
		{"remainder", 20, 16, []int{16, 4}},
		{"one phit packets", 3, 1, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Origin: 0, Destination: 1, Size: tt.size}
			phits := Segment(m, tt.maxPacket)
			require.Len(t, phits, tt.size)

			var sizes []int
			for _, p := range phits {
				if p.IsHead() {
					sizes = append(sizes, p.Packet.Size)
					assert.Equal(t, len(sizes)-1, p.Packet.Index)
					assert.Equal(t, -1, p.Packet.Routing.Intermediate)
				}
				assert.Same(t, m, p.Packet.Message)
				assert.Equal(t, -1, p.VirtualChannel)
			}
			assert.Equal(t, tt.want, sizes)
			assert.True(t, phits[len(phits)-1].IsTail())
		})
	}
}

func TestMessage_Complete(t *testing.T) {
	m := &Message{Size: 2}
	assert.False(t, m.Complete())
	m.Consumed = 2
	assert.True(t, m.Complete())
}

func TestBuffer_FIFOAndWrapAround(t *testing.T) {
	b := NewBuffer(3)
	phits := Segment(&Message{Size: 5}, 5)

	b.Push(phits[0])
	b.Push(phits[1])
	assert.Same(t, phits[0], b.Pop())
	b.Push(phits[2])
	b.Push(phits[3])
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 0, b.Free())
	assert.Same(t, phits[2], b.At(1))
	assert.Nil(t, b.At(3))

	assert.Panics(t, func() { b.Push(phits[4]) }, "overflow is a flow-control bug")

	for _, want := range phits[1:4] {
		assert.Same(t, want, b.Front())
		assert.Same(t, want, b.Pop())
	}
	assert.True(t, b.Empty())
	assert.Nil(t, b.Pop())
	assert.Nil(t, b.Front())
}
