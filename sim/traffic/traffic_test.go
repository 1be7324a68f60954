package traffic

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/netsim/sim/packet"
)

func TestNew_RejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		servers int
	}{
		{"unknown type", Config{Type: "hotspot", MessageSize: 1}, 4},
		{"zero message size", Config{Type: "uniform", Load: 0.5}, 4},
		{"load above one", Config{Type: "uniform", Load: 1.5, MessageSize: 1}, 4},
		{"negative load", Config{Type: "shift", Load: -0.1, MessageSize: 1}, 4},
		{"transpose of non-square", Config{Type: "transpose", Load: 0.1, MessageSize: 1}, 6},
		{"uniform single server", Config{Type: "uniform", Load: 0.1, MessageSize: 1}, 1},
		{"empty sum", Config{Type: "sum"}, 4},
		{"bad consumption", Config{Type: "uniform", Load: 0.1, MessageSize: 1, Consumption: ConsumptionConfig{Policy: "lossy"}}, 4},
		{"bucket too small", Config{Type: "uniform", Load: 0.1, MessageSize: 8, Consumption: ConsumptionConfig{Policy: "token_bucket", Capacity: 4, Rate: 1}}, 4},
		{"no servers", Config{Type: "uniform", Load: 0.1, MessageSize: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.servers, rand.New(rand.NewSource(1)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "error %v must wrap ErrInvalid", err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	bucket := ConsumptionConfig{Policy: "token_bucket", Capacity: 16, Rate: 0.5}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"uniform", Config{Type: "uniform", Load: 0.4, MessageSize: 16}, false},
		{"load above one", Config{Type: "uniform", Load: 1.5, MessageSize: 16}, true},
		{"zero message size", Config{Type: "shift", Load: 0.4}, true},
		{"burst with default pattern", Config{Type: "burst", MessagesPerServer: 2, MessageSize: 4}, false},
		{"burst with unknown pattern", Config{Type: "burst", MessagesPerServer: 2, MessageSize: 4, Pattern: "hotspot"}, true},
		{"negative burst", Config{Type: "burst", MessagesPerServer: -1, MessageSize: 4}, true},
		{"bucket holding a message", Config{Type: "uniform", Load: 0.4, MessageSize: 16, Consumption: bucket}, false},
		{"bucket without rate", Config{Type: "uniform", Load: 0.4, MessageSize: 16, Consumption: ConsumptionConfig{Policy: "token_bucket", Capacity: 16}}, true},
		{"sum with a bad component", Config{Type: "sum", Components: []Config{
			{Type: "uniform", Load: 0.2, MessageSize: 4},
			{Type: "uniform", Load: 2, MessageSize: 4},
		}}, true},
		{"sum bucket below its largest component", Config{Type: "sum", Consumption: ConsumptionConfig{Policy: "token_bucket", Capacity: 8, Rate: 1}, Components: []Config{
			{Type: "uniform", Load: 0.2, MessageSize: 4},
			{Type: "sum", Components: []Config{{Type: "shift", Load: 0.1, MessageSize: 12}}},
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "error %v must wrap ErrInvalid", err)
		})
	}
}

func TestConfig_LargestMessageRecursesIntoComponents(t *testing.T) {
	cfg := Config{Type: "sum", Components: []Config{
		{Type: "uniform", MessageSize: 4},
		{Type: "sum", Components: []Config{{Type: "shift", MessageSize: 12}}},
	}}
	assert.Equal(t, 12, cfg.LargestMessage())
}

func TestUniform_GenerationRateMatchesLoad(t *testing.T) {
	// GIVEN uniform traffic at load 0.5 with 4-phit messages
	tr, err := New(Config{Type: "uniform", Load: 0.5, MessageSize: 4}, 8, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(42))

	// WHEN asked for 40000 cycles
	generated := 0
	for c := int64(0); c < 40000; c++ {
		if tr.ShouldGenerate(3, c, rng) {
			generated++
		}
	}

	// THEN the phit rate is the load
	assert.InDelta(t, 0.5, float64(generated*4)/40000, 0.02)
	assert.Equal(t, StateGenerating, tr.ServerState(3, 0))
	assert.False(t, tr.IsFinished())
}

func TestUniform_NeverPicksOriginUnlessAllowed(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tr, err := New(Config{Type: "uniform", Load: 1, MessageSize: 1}, 4, rng)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		m, err := tr.Generate(2, 0, rng)
		require.NoError(t, err)
		assert.NotEqual(t, 2, m.Destination)
		seen[m.Destination] = true
	}
	assert.Len(t, seen, 3)

	self, err := New(Config{Type: "uniform", Load: 1, MessageSize: 1, AllowSelf: true}, 4, rng)
	require.NoError(t, err)
	sawSelf := false
	for i := 0; i < 2000 && !sawSelf; i++ {
		m, _ := self.Generate(2, 0, rng)
		sawSelf = m.Destination == 2
	}
	assert.True(t, sawSelf)
}

func TestDeterministicPatterns(t *testing.T) {
	rng := rand.New(rand.NewSource(9))

	transpose, err := New(Config{Type: "transpose", Load: 1, MessageSize: 2}, 9, rng)
	require.NoError(t, err)
	m, _ := transpose.Generate(1, 5, rng) // (row 0, col 1) -> (row 1, col 0)
	assert.Equal(t, 3, m.Destination)
	assert.Equal(t, int64(5), m.CreationCycle)
	assert.Equal(t, 2, m.Size)

	shift, err := New(Config{Type: "shift", Load: 1, MessageSize: 1, Shift: -1}, 4, rng)
	require.NoError(t, err)
	m, _ = shift.Generate(0, 0, rng)
	assert.Equal(t, 3, m.Destination)

	perm, err := New(Config{Type: "permutation", Load: 1, MessageSize: 1}, 16, rng)
	require.NoError(t, err)
	targets := make(map[int]bool)
	for s := 0; s < 16; s++ {
		first, _ := perm.Generate(s, 0, rng)
		again, _ := perm.Generate(s, 1, rng)
		assert.Equal(t, first.Destination, again.Destination, "a permutation is fixed")
		targets[first.Destination] = true
	}
	assert.Len(t, targets, 16, "a permutation is a bijection")
}

func TestBurst_FinishesAfterEveryMessageIsConsumed(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	tr, err := New(Config{Type: "burst", MessagesPerServer: 2, MessageSize: 3, Pattern: "shift", Shift: 1}, 2, rng)
	require.NoError(t, err)

	var inFlight []*packet.Message
	for s := 0; s < 2; s++ {
		for tr.ShouldGenerate(s, 0, rng) {
			m, err := tr.Generate(s, 0, rng)
			require.NoError(t, err)
			inFlight = append(inFlight, m)
		}
		assert.Equal(t, StateWaiting, tr.ServerState(s, 0))
	}
	require.Len(t, inFlight, 4)
	_, err = tr.Generate(0, 0, rng)
	assert.Error(t, err, "no messages left")
	assert.False(t, tr.IsFinished())

	for _, m := range inFlight {
		assert.True(t, tr.TryConsume(m.Destination, m, 1))
	}
	assert.True(t, tr.IsFinished())
	assert.Equal(t, StateFinished, tr.ServerState(0, 1))
}

func TestTokenBucket_LimitsConsumptionRate(t *testing.T) {
	// GIVEN a bucket of 4 phits refilled at 1 phit per cycle
	tb := NewTokenBucket(4, 1, 2)
	m := &packet.Message{Size: 4}

	// THEN a full bucket accepts one message, then rejects until refilled
	assert.True(t, tb.Consume(0, m, 0))
	assert.False(t, tb.Consume(0, m, 2))
	assert.True(t, tb.Consume(0, m, 4))
	// servers have independent buckets
	assert.True(t, tb.Consume(1, m, 4))
	// refill never exceeds capacity
	assert.True(t, tb.Consume(1, m, 1000))
	assert.False(t, tb.Consume(1, m, 1001))
}

func TestSum_ComponentsShareServers(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tr, err := New(Config{Type: "sum", Components: []Config{
		{Type: "burst", MessagesPerServer: 1, MessageSize: 2, Pattern: "shift", Shift: 1},
		{Type: "shift", Load: 0, MessageSize: 1, Shift: 1},
	}}, 2, rng)
	require.NoError(t, err)

	require.True(t, tr.ShouldGenerate(0, 0, rng))
	m, err := tr.Generate(0, 0, rng)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Size, "the burst component won")
	assert.False(t, tr.ShouldGenerate(0, 1, rng))
	_, err = tr.Generate(0, 1, rng)
	assert.Error(t, err)

	require.True(t, tr.ShouldGenerate(1, 0, rng))
	m1, _ := tr.Generate(1, 0, rng)
	assert.False(t, tr.IsFinished())
	assert.True(t, tr.TryConsume(1, m, 3))
	assert.True(t, tr.TryConsume(0, m1, 3))
	assert.True(t, tr.IsFinished())
	assert.Equal(t, StateFinished, tr.ServerState(0, 3))
}

func TestBurst_DiscardedMessagesAreGeneratedAgain(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	tr, err := New(Config{Type: "sum", Components: []Config{
		{Type: "burst", MessagesPerServer: 1, MessageSize: 2, Pattern: "shift", Shift: 1},
	}}, 2, rng)
	require.NoError(t, err)

	require.True(t, tr.ShouldGenerate(0, 0, rng))
	m, err := tr.Generate(0, 0, rng)
	require.NoError(t, err)
	require.False(t, tr.ShouldGenerate(0, 1, rng))

	tr.(Discarder).Discard(m)
	assert.True(t, tr.ShouldGenerate(0, 2, rng), "the discarded message is owed again")
}
