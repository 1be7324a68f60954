package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/netsim/sim/router"
	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
	"github.com/inference-sim/netsim/sim/traffic"
)

// Credit visibility modes.
const (
	// CreditSameCycle makes a credit returned for cycle T usable by allocations of T.
	CreditSameCycle = "same_cycle"
	// CreditNextCycle delays every credit by one extra cycle.
	CreditNextCycle = "next_cycle"
)

// LinkClass groups links sharing a delay. The topology assigns each link a class.
type LinkClass struct {
	Delay int64 `yaml:"delay"`
}

// Config is the complete description of one simulation run.
type Config struct {
	RandomSeed int64 `yaml:"random_seed"`
	Warmup     int64 `yaml:"warmup"`
	Measured   int64 `yaml:"measured"`
	// StallCycles is how long phits may sit in the network without any of
	// them moving before the run fails; 0 disables the watchdog.
	StallCycles       int64 `yaml:"stall_cycles"`
	MaximumPacketSize int   `yaml:"maximum_packet_size"`
	ServerQueueSize   int   `yaml:"server_queue_size"`
	// ServerReceptionSize bounds, in phits, the complete messages a server
	// holds while its traffic refuses them. A full reception keeps the
	// credits of arriving phits, so the router stops sending. It defaults to
	// server_queue_size.
	ServerReceptionSize int `yaml:"server_reception_size"`
	// StatisticsTemporalStep splits the measurement in windows of that many cycles; 0 disables it.
	StatisticsTemporalStep int64     `yaml:"statistics_temporal_step"`
	ServerPercentiles      []float64 `yaml:"server_percentiles"`
	CreditVisibility       string    `yaml:"credit_visibility"`

	Topology    topology.Config `yaml:"topology"`
	Traffic     traffic.Config  `yaml:"traffic"`
	Router      router.Config   `yaml:"router"`
	Routing     routing.Config  `yaml:"routing"`
	LinkClasses []LinkClass     `yaml:"link_classes"`
}

// DefaultConfig returns the values used for keys a configuration omits.
func DefaultConfig() Config {
	return Config{
		RandomSeed:        42,
		Measured:          1000,
		StallCycles:       10000,
		MaximumPacketSize: 16,
		ServerQueueSize:   64,
		CreditVisibility:  CreditSameCycle,
		Router:            router.DefaultConfig(),
		Routing:           routing.Config{Type: "shortest"},
	}
}

// applyDefaults fills what decoding may leave empty.
func (c *Config) applyDefaults() {
	if c.CreditVisibility == "" {
		c.CreditVisibility = CreditSameCycle
	}
	if len(c.LinkClasses) == 0 {
		c.LinkClasses = []LinkClass{{Delay: 1}, {Delay: 1}}
	}
	if c.ServerReceptionSize == 0 {
		c.ServerReceptionSize = c.ServerQueueSize
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML configuration on top of DefaultConfig and
// validates it. Unknown keys are errors.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing: %w", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value that can be checked without building the
// network. Topology structure and policy compatibility are checked by
// NewSimulation.
func (c *Config) Validate() error {
	if c.Warmup < 0 {
		return fmt.Errorf("%w: warmup must be >= 0, got %d", ErrInvalidConfig, c.Warmup)
	}
	if c.Measured <= 0 {
		return fmt.Errorf("%w: measured must be positive, got %d", ErrInvalidConfig, c.Measured)
	}
	if c.StallCycles < 0 {
		return fmt.Errorf("%w: stall_cycles must be >= 0, got %d", ErrInvalidConfig, c.StallCycles)
	}
	if c.MaximumPacketSize <= 0 {
		return fmt.Errorf("%w: maximum_packet_size must be positive, got %d", ErrInvalidConfig, c.MaximumPacketSize)
	}
	if c.MaximumPacketSize < c.Router.FlitSize {
		return fmt.Errorf("%w: maximum_packet_size %d is smaller than flit_size %d", ErrInvalidConfig, c.MaximumPacketSize, c.Router.FlitSize)
	}
	if c.ServerQueueSize <= 0 {
		return fmt.Errorf("%w: server_queue_size must be positive, got %d", ErrInvalidConfig, c.ServerQueueSize)
	}
	if c.ServerReceptionSize <= 0 {
		return fmt.Errorf("%w: server_reception_size must be positive, got %d", ErrInvalidConfig, c.ServerReceptionSize)
	}
	if c.StatisticsTemporalStep < 0 {
		return fmt.Errorf("%w: statistics_temporal_step must be >= 0, got %d", ErrInvalidConfig, c.StatisticsTemporalStep)
	}
	for _, p := range c.ServerPercentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: server percentile %v outside [0, 100]", ErrInvalidConfig, p)
		}
	}
	if c.CreditVisibility != CreditSameCycle && c.CreditVisibility != CreditNextCycle {
		return fmt.Errorf("%w: unknown credit_visibility %q; valid: %s, %s", ErrInvalidConfig, c.CreditVisibility, CreditSameCycle, CreditNextCycle)
	}
	if len(c.LinkClasses) < 2 {
		return fmt.Errorf("%w: link_classes needs a router class and a server class, got %d", ErrInvalidConfig, len(c.LinkClasses))
	}
	for i, lc := range c.LinkClasses {
		if lc.Delay < 1 {
			return fmt.Errorf("%w: link class %d delay must be >= 1, got %d", ErrInvalidConfig, i, lc.Delay)
		}
	}
	if !topology.IsValidTopology(c.Topology.Type) {
		return fmt.Errorf("%w: unknown topology %q", ErrInvalidConfig, c.Topology.Type)
	}
	if !routing.IsValidRouting(c.Routing.Type) {
		return fmt.Errorf("%w: unknown routing %q", ErrInvalidConfig, c.Routing.Type)
	}
	if err := c.Traffic.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if size := c.Traffic.LargestMessage(); size > c.ServerQueueSize {
		return fmt.Errorf("%w: messages of %d phits never fit a server_queue_size of %d", ErrInvalidConfig, size, c.ServerQueueSize)
	}
	if err := c.Router.Validate(c.MaximumPacketSize); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// linkDelays returns the delay of each link class.
func (c *Config) linkDelays() []int64 {
	delays := make([]int64, len(c.LinkClasses))
	for i, lc := range c.LinkClasses {
		delays[i] = lc.Delay
	}
	return delays
}

// Hash identifies the configuration. Equal configurations, including the
// seed, have equal hashes.
func (c *Config) Hash() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		// A decoded Config always marshals.
		panic(fmt.Sprintf("marshaling configuration: %v", err))
	}
	return strconv.FormatUint(uint64(fnv1a64(string(data))), 16)
}
