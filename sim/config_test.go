package sim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/netsim/sim/internal/testutil"
)

const minimalYAML = `
topology: {type: ring, routers: 4, servers_per_router: 1}
traffic: {type: uniform, load: 0.1, message_size: 4}
`

const ringYAML = "topology: {type: ring, routers: 4, servers_per_router: 1}\n"

func TestParseConfig_AppliesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.RandomSeed)
	assert.Equal(t, int64(1000), cfg.Measured)
	assert.Equal(t, CreditSameCycle, cfg.CreditVisibility)
	assert.Equal(t, []LinkClass{{Delay: 1}, {Delay: 1}}, cfg.LinkClasses)
	assert.Equal(t, "basic", cfg.Router.Type)
	assert.True(t, cfg.Router.AllowRequestBusyPort)
	assert.Equal(t, "token", cfg.Router.OutputArbiter)
	assert.Len(t, cfg.Router.VirtualChannelPolicies, 2)
	assert.Equal(t, "shortest", cfg.Routing.Type)
	// the watchdog is on unless disabled explicitly
	assert.Equal(t, int64(10000), cfg.StallCycles)
	assert.Equal(t, cfg.ServerQueueSize, cfg.ServerReceptionSize)
}

func TestParseConfig_KeepsExplicitValues(t *testing.T) {
	cfg, err := ParseConfig(testutil.ReadFixture(t, "ring4.yaml"))
	require.NoError(t, err)

	assert.Equal(t, int64(1000), cfg.Warmup)
	assert.Equal(t, int64(5000), cfg.Measured)
	assert.Equal(t, []float64{25, 50, 75}, cfg.ServerPercentiles)
	assert.Equal(t, 4, cfg.Topology.Routers)
	assert.InDelta(t, 0.2, cfg.Traffic.Load, 1e-12)
}

func TestParseConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", minimalYAML + "colour: blue\n"},
		{"unknown nested key", minimalYAML + "router: {buffer_sise: 4}\n"},
		{"malformed yaml", "topology: [\n"},
		{"zero measured", minimalYAML + "measured: 0\n"},
		{"negative warmup", minimalYAML + "warmup: -1\n"},
		{"zero link delay", minimalYAML + "link_classes: [{delay: 1}, {delay: 0}]\n"},
		{"single link class", minimalYAML + "link_classes: [{delay: 1}]\n"},
		{"bad credit visibility", minimalYAML + "credit_visibility: eventually\n"},
		{"percentile above 100", minimalYAML + "server_percentiles: [101]\n"},
		{"packet smaller than flit", minimalYAML + "maximum_packet_size: 1\nrouter: {flit_size: 2}\n"},
		{"message larger than queue", minimalYAML + "server_queue_size: 2\n"},
		{"unknown topology", "topology: {type: dragonfly}\ntraffic: {type: uniform, message_size: 1}\n"},
		{"unknown routing", minimalYAML + "routing: {type: adaptive}\n"},
		{"unknown traffic", "topology: {type: ring, routers: 4}\ntraffic: {type: hotspot, message_size: 1}\n"},
		{"zero buffer", minimalYAML + "router: {buffer_size: 0}\n"},
		{"negative reception", minimalYAML + "server_reception_size: -4\n"},
		{"load above one", ringYAML + "traffic: {type: uniform, load: 1.5, message_size: 4}\n"},
		{"burst with unknown pattern", ringYAML + "traffic: {type: burst, messages_per_server: 1, message_size: 4, pattern: hotspot}\n"},
		{"token bucket below a message", ringYAML + "traffic: {type: uniform, load: 0.1, message_size: 4, consumption: {policy: token_bucket, capacity: 2, rate: 1}}\n"},
		{"sum component out of range", ringYAML + "traffic: {type: sum, components: [{type: shift, load: -1, message_size: 4}]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "error %v must wrap ErrInvalidConfig", err)
		})
	}
}

func TestConfig_ValidateChecksTrafficAfterDecoding(t *testing.T) {
	// GIVEN a valid configuration changed after parsing
	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)
	cfg.Traffic.Load = 1.5

	// THEN validation rejects it as an invalid configuration
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "load")
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(testutil.FixturePath(t, "mesh3.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dimension_order", cfg.Routing.Type)
	assert.Equal(t, []LinkClass{{Delay: 2}, {Delay: 1}}, cfg.LinkClasses)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("measured: -3\n"), 0o644))
	_, err = LoadConfig(bad)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestConfig_HashTracksContent(t *testing.T) {
	a, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)
	b, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())

	b.RandomSeed++
	assert.NotEqual(t, a.Hash(), b.Hash())
}
