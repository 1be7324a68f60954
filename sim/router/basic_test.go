package router

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/inference-sim/netsim/sim/packet"
	"github.com/inference-sim/netsim/sim/policy"
	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
)

type sentPhit struct {
	from, to topology.Location
	phit     *packet.Phit
	delay    int64
}

type sentCredit struct {
	to    topology.Location
	vc    int
	delay int64
}

// recorder is an Emitter that keeps everything a router sends.
type recorder struct {
	phits   []sentPhit
	credits []sentCredit
}

func (r *recorder) SendPhit(from, to topology.Location, phit *packet.Phit, delay int64) {
	r.phits = append(r.phits, sentPhit{from, to, phit, delay})
}

func (r *recorder) ReturnCredit(to topology.Location, vc int, delay int64) {
	r.credits = append(r.credits, sentCredit{to, vc, delay})
}

func newEnvironment(t *testing.T, topo topology.Topology, vcs int) Environment {
	t.Helper()
	rt, err := routing.New(routing.Config{Type: "shortest"}, topo, vcs)
	require.NoError(t, err)
	chain, err := policy.NewChain(policy.DefaultConfigs(), vcs, topo)
	require.NoError(t, err)
	return Environment{
		Topology:          topo,
		Routing:           rt,
		Policies:          chain,
		LinkDelays:        []int64{1, 2},
		MaximumPacketSize: 4,
	}
}

func message(origin, destination, size int) []*packet.Phit {
	phits := packet.Segment(&packet.Message{Origin: origin, Destination: destination, Size: size}, 4)
	for _, p := range phits {
		p.VirtualChannel = 0
	}
	return phits
}

func TestNewBasic_RejectsInvalidConfigs(t *testing.T) {
	topo, err := topology.NewMesh([]int{1}, 2)
	require.NoError(t, err)
	env := newEnvironment(t, topo, 1)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown type", func(c *Config) { c.Type = "virtual-cut-through" }},
		{"no virtual channels", func(c *Config) { c.VirtualChannels = 0 }},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }},
		{"flit above buffer", func(c *Config) { c.FlitSize = 5 }},
		{"bubble without room", func(c *Config) { c.Bubble = true }},
		{"unknown arbiter", func(c *Config) { c.OutputArbiter = "oldest" }},
		{"unknown allocator", func(c *Config) { c.Allocator = "wavefront" }},
		{"islip without iterations", func(c *Config) { c.Allocator = "islip"; c.IslipIterations = 0 }},
		{"no policies", func(c *Config) { c.VirtualChannelPolicies = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewBasic(0, cfg, env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}

	_, err = NewBasic(3, DefaultConfig(), env)
	assert.True(t, errors.Is(err, ErrInvalid), "router index out of range")
}

func TestBasic_SingleRouterDeliversPhitByPhit(t *testing.T) {
	// GIVEN a single router with servers 0 and 1 on ports 2 and 3
	topo, err := topology.NewMesh([]int{1}, 2)
	require.NoError(t, err)
	r, err := NewBasic(0, DefaultConfig(), newEnvironment(t, topo, 1))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	out := &recorder{}

	// WHEN a 2-phit packet from server 0 to server 1 is inserted at cycle 0
	phits := message(0, 1, 2)
	for _, p := range phits {
		r.Insert(0, p, 2, rng)
	}
	assert.Equal(t, int64(0), phits[0].Packet.CycleIntoNetwork)
	assert.Equal(t, 0, phits[0].Packet.Routing.Hops)

	// THEN one phit leaves per cycle towards server 1, in order
	res, err := r.Step(1, rng, out)
	require.NoError(t, err)
	assert.Equal(t, StepResult{Moved: 1, Sent: 1}, res)
	res, err = r.Step(2, rng, out)
	require.NoError(t, err)
	assert.Equal(t, StepResult{Moved: 1, Sent: 1}, res)

	require.Len(t, out.phits, 2)
	for i, s := range out.phits {
		assert.Same(t, phits[i], s.phit)
		assert.Equal(t, topology.ServerPort(1), s.to)
		assert.Equal(t, topology.RouterPort(0, 3), s.from)
		assert.Equal(t, int64(2), s.delay, "server links use class 1")
	}
	// AND each departure frees a slot of server 0's injection channel
	require.Len(t, out.credits, 2)
	assert.Equal(t, sentCredit{topology.ServerPort(0), 0, 2}, out.credits[0])
	assert.Equal(t, 0, r.Phits())
	assert.NoError(t, r.CheckInvariants())

	stats := r.Statistics()
	assert.Equal(t, int64(2), stats.Steps)
	assert.Equal(t, int64(2), stats.Moved)
	assert.InDelta(t, (2.0+1.0)/4, floats.Sum(stats.InputOccupancy), 1e-9)
	// AND both phits used a credit of the reception of server 1
	assert.Equal(t, DefaultConfig().BufferSize-2, r.Credits(3, 0))
	r.ResetStatistics()
	assert.Equal(t, int64(0), r.Statistics().Steps)
}

func TestBasic_StopsWithoutCreditsAndResumesOnAcknowledge(t *testing.T) {
	// GIVEN two routers in a line with 2-slot buffers
	topo, err := topology.NewMesh([]int{2}, 1)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	r, err := NewBasic(0, cfg, newEnvironment(t, topo, 1))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(2))
	out := &recorder{}
	phits := message(0, 1, 3)

	// WHEN the packet streams towards router 1, which never returns a credit
	r.Insert(0, phits[0], 2, rng)
	r.Insert(0, phits[1], 2, rng)
	_, err = r.Step(1, rng, out)
	require.NoError(t, err)
	r.Insert(1, phits[2], 2, rng)
	_, err = r.Step(2, rng, out)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Credits(1, 0))

	// THEN the tail waits
	res, err := r.Step(3, rng, out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, r.InputOccupancy(2, 0))
	assert.NoError(t, r.CheckInvariants())

	// AND a returned credit lets it go
	r.Acknowledge(1, 0)
	res, err = r.Step(4, rng, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, out.phits, 3)
	for _, s := range out.phits {
		assert.Equal(t, topology.RouterPort(1, 0), s.to)
		assert.Equal(t, int64(1), s.delay)
	}
	assert.NoError(t, r.CheckInvariants())
}

func TestBasic_ServerPortWaitsForReceptionCredits(t *testing.T) {
	// GIVEN a single router with 2-slot buffers and servers on ports 2 and 3
	topo, err := topology.NewMesh([]int{1}, 2)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	r, err := NewBasic(0, cfg, newEnvironment(t, topo, 1))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(5))
	out := &recorder{}
	phits := message(0, 1, 3)

	// WHEN server 1 keeps every credit of the first two phits
	r.Insert(0, phits[0], 2, rng)
	r.Insert(0, phits[1], 2, rng)
	_, err = r.Step(1, rng, out)
	require.NoError(t, err)
	r.Insert(1, phits[2], 2, rng)
	_, err = r.Step(2, rng, out)
	require.NoError(t, err)
	require.Len(t, out.phits, 2)
	assert.Equal(t, 0, r.Credits(3, 0))

	// THEN the tail stays in the router
	res, err := r.Step(3, rng, out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, r.Phits())
	assert.NoError(t, r.CheckInvariants())

	// AND it leaves once the server frees a slot
	r.Acknowledge(3, 0)
	res, err = r.Step(4, rng, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, out.phits, 3)
	assert.Equal(t, topology.ServerPort(1), out.phits[2].to)
	assert.Equal(t, 0, r.Phits())
}

func TestBasic_InsertCountsRouterHops(t *testing.T) {
	topo, err := topology.NewMesh([]int{2}, 1)
	require.NoError(t, err)
	r, err := NewBasic(1, DefaultConfig(), newEnvironment(t, topo, 1))
	require.NoError(t, err)
	phits := message(0, 1, 1)
	phits[0].Packet.CycleIntoNetwork = 7

	r.Insert(9, phits[0], 0, rand.New(rand.NewSource(1)))

	assert.Equal(t, 1, phits[0].Packet.Routing.Hops)
	assert.Equal(t, int64(7), phits[0].Packet.CycleIntoNetwork, "entering from a router keeps the injection cycle")
}

func TestBasic_MisuseIsFatal(t *testing.T) {
	topo, err := topology.NewMesh([]int{2}, 1)
	require.NoError(t, err)
	r, err := NewBasic(0, DefaultConfig(), newEnvironment(t, topo, 1))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	assert.Panics(t, func() { r.Acknowledge(1, 0) }, "credits above buffer size")

	_, err = r.Step(5, rng, &recorder{})
	require.NoError(t, err)
	assert.Panics(t, func() { _, _ = r.Step(5, rng, &recorder{}) }, "stepped twice in one cycle")

	bad := message(0, 1, 1)[0]
	bad.VirtualChannel = 3
	assert.Panics(t, func() { r.Insert(6, bad, 2, rng) })
}

func TestBasic_OutputBuffersAddACrossbarStage(t *testing.T) {
	// GIVEN a single router with output buffers
	topo, err := topology.NewMesh([]int{1}, 2)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.OutputBufferSize = 2
	r, err := NewBasic(0, cfg, newEnvironment(t, topo, 1))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	out := &recorder{}

	// WHEN a single-phit packet crosses the router
	r.Insert(0, message(0, 1, 1)[0], 2, rng)
	res, err := r.Step(1, rng, out)
	require.NoError(t, err)

	// THEN it moves through the crossbar and the link in the same step
	assert.Equal(t, StepResult{Moved: 1, Sent: 1}, res)
	require.Len(t, out.phits, 1)
	assert.Equal(t, 0, r.Phits())
	assert.NoError(t, r.CheckInvariants())
}

func TestBasic_UnreachableDestinationWaits(t *testing.T) {
	// GIVEN two disconnected routers
	topo, err := topology.NewIrregular([][]int{{}, {}}, 1)
	require.NoError(t, err)
	r, err := NewBasic(0, DefaultConfig(), newEnvironment(t, topo, 1))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(4))

	r.Insert(0, message(0, 1, 1)[0], 0, rng)
	for c := int64(1); c <= 3; c++ {
		res, err := r.Step(c, rng, &recorder{})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Sent)
	}
	assert.Equal(t, 1, r.Phits())
}
