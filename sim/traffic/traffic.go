// Package traffic decides when servers generate messages, where they send
// them, and whether a destination accepts a completed message.
package traffic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/inference-sim/netsim/sim/packet"
)

// ErrInvalid marks a malformed traffic description.
var ErrInvalid = errors.New("invalid traffic")

// ServerState is the traffic's view of one server.
type ServerState int

const (
	// StateGenerating servers may still create messages.
	StateGenerating ServerState = iota
	// StateWaiting servers have nothing left to create but wait for their
	// messages to be consumed.
	StateWaiting
	// StateFinished servers are done.
	StateFinished
)

func (s ServerState) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateWaiting:
		return "waiting"
	default:
		return "finished"
	}
}

// Traffic is implemented by every traffic model.
type Traffic interface {
	Name() string
	// ShouldGenerate decides whether server tries to create a message this cycle.
	ShouldGenerate(server int, cycle int64, rng *rand.Rand) bool
	// Generate creates the message server decided to send.
	Generate(origin int, cycle int64, rng *rand.Rand) (*packet.Message, error)
	// TryConsume reports whether server accepts a fully received message now.
	// A rejected message stays at the server and is offered again later.
	TryConsume(server int, m *packet.Message, cycle int64) bool
	// IsFinished reports whether no server will ever generate again and every
	// generated message was consumed. Open-ended traffics never finish.
	IsFinished() bool
	// ServerState tells the simulation whether to offer server a generation
	// at all; only generating servers are asked ShouldGenerate.
	ServerState(server int, cycle int64) ServerState
}

// Config describes a traffic. Which fields are read depends on Type.
type Config struct {
	Type string `yaml:"type"`
	// Load is the offered load in phits per cycle per server, in [0, 1].
	Load        float64 `yaml:"load"`
	MessageSize int     `yaml:"message_size"`
	// AllowSelf lets uniform traffic pick the origin as destination.
	AllowSelf bool `yaml:"allow_self"`
	Shift     int  `yaml:"shift"`
	// Pattern is the destination pattern of a burst.
	Pattern           string            `yaml:"pattern"`
	MessagesPerServer int               `yaml:"messages_per_server"`
	Components        []Config          `yaml:"components"`
	Consumption       ConsumptionConfig `yaml:"consumption"`
}

var validTrafficNames = map[string]bool{
	"uniform":     true,
	"permutation": true,
	"transpose":   true,
	"shift":       true,
	"burst":       true,
	"sum":         true,
}

// IsValidTraffic returns true if name is a recognized traffic type.
func IsValidTraffic(name string) bool { return validTrafficNames[name] }

// ValidTrafficNames returns the sorted list of traffic types.
func ValidTrafficNames() []string {
	names := make([]string, 0, len(validTrafficNames))
	for name := range validTrafficNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks everything about cfg that does not depend on the network,
// components included.
func (cfg Config) Validate() error {
	if !IsValidTraffic(cfg.Type) {
		return fmt.Errorf("%w: unknown type %q; valid: %s", ErrInvalid, cfg.Type, strings.Join(ValidTrafficNames(), ", "))
	}
	switch cfg.Type {
	case "sum":
		if len(cfg.Components) == 0 {
			return fmt.Errorf("%w: sum needs at least one component", ErrInvalid)
		}
		for i, c := range cfg.Components {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("sum component %d: %w", i, err)
			}
		}
		return cfg.Consumption.Validate(cfg.LargestMessage())
	case "uniform", "permutation", "transpose", "shift":
		if cfg.Load < 0 || cfg.Load > 1 || math.IsNaN(cfg.Load) {
			return fmt.Errorf("%w: load must be in [0, 1], got %v", ErrInvalid, cfg.Load)
		}
	case "burst":
		if cfg.MessagesPerServer < 0 {
			return fmt.Errorf("%w: messages_per_server must be >= 0, got %d", ErrInvalid, cfg.MessagesPerServer)
		}
		if cfg.Pattern != "" && !validPatternNames[cfg.Pattern] {
			return fmt.Errorf("%w: unknown burst pattern %q", ErrInvalid, cfg.Pattern)
		}
	}
	if cfg.MessageSize <= 0 {
		return fmt.Errorf("%w: message_size must be positive, got %d", ErrInvalid, cfg.MessageSize)
	}
	return cfg.Consumption.Validate(cfg.MessageSize)
}

// LargestMessage is the size of the biggest message cfg creates.
func (cfg Config) LargestMessage() int {
	size := cfg.MessageSize
	for _, c := range cfg.Components {
		size = max(size, c.LargestMessage())
	}
	return size
}

// New builds the traffic described by cfg for a network of servers.
// rng is only used at construction, e.g. to draw a permutation.
func New(cfg Config, servers int, rng *rand.Rand) (Traffic, error) {
	if servers <= 0 {
		return nil, fmt.Errorf("%w: no servers", ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type == "sum" {
		return newSum(cfg, servers, rng)
	}
	consumer, err := NewConsumer(cfg.Consumption, servers, cfg.MessageSize)
	if err != nil {
		return nil, err
	}
	if cfg.Type == "burst" {
		name := cfg.Pattern
		if name == "" {
			name = "uniform"
		}
		p, err := newPattern(name, cfg, servers, rng)
		if err != nil {
			return nil, err
		}
		return newBurst(cfg.MessagesPerServer, cfg.MessageSize, servers, p, consumer), nil
	}
	p, err := newPattern(cfg.Type, cfg, servers, rng)
	if err != nil {
		return nil, err
	}
	return &Homogeneous{
		name:        cfg.Type,
		size:        cfg.MessageSize,
		probability: cfg.Load / float64(cfg.MessageSize),
		pattern:     p,
		consumer:    consumer,
	}, nil
}

// Homogeneous generates messages of a fixed size at a fixed rate from every
// server, to destinations given by a pattern.
type Homogeneous struct {
	name        string
	size        int
	probability float64
	pattern     pattern
	consumer    Consumer
}

func (h *Homogeneous) Name() string { return h.name }

// ShouldGenerate succeeds with probability load / message_size, so the
// offered load in phits matches the configured load.
func (h *Homogeneous) ShouldGenerate(_ int, _ int64, rng *rand.Rand) bool {
	return h.probability > 0 && rng.Float64() < h.probability
}

func (h *Homogeneous) Generate(origin int, cycle int64, rng *rand.Rand) (*packet.Message, error) {
	return &packet.Message{
		Origin:        origin,
		Destination:   h.pattern.destination(origin, rng),
		Size:          h.size,
		CreationCycle: cycle,
	}, nil
}

func (h *Homogeneous) TryConsume(server int, m *packet.Message, cycle int64) bool {
	return h.consumer.Consume(server, m, cycle)
}

// IsFinished is only true for a traffic with zero load.
func (h *Homogeneous) IsFinished() bool { return h.probability == 0 }

func (h *Homogeneous) ServerState(int, int64) ServerState {
	if h.probability == 0 {
		return StateFinished
	}
	return StateGenerating
}

// Burst makes every server send a fixed number of messages as fast as its
// injection queue allows, then finishes once all of them are consumed.
type Burst struct {
	size      int
	total     int
	remaining []int
	// delivered counts consumed messages by origin.
	delivered []int
	consumed  int
	pattern   pattern
	consumer  Consumer
}

func newBurst(perServer, size, servers int, p pattern, consumer Consumer) *Burst {
	b := &Burst{
		size:      size,
		total:     perServer,
		remaining: make([]int, servers),
		delivered: make([]int, servers),
		pattern:   p,
		consumer:  consumer,
	}
	for s := range b.remaining {
		b.remaining[s] = perServer
	}
	return b
}

func (b *Burst) Name() string { return "burst" }

func (b *Burst) ShouldGenerate(server int, _ int64, _ *rand.Rand) bool {
	return b.remaining[server] > 0
}

func (b *Burst) Generate(origin int, cycle int64, rng *rand.Rand) (*packet.Message, error) {
	if b.remaining[origin] <= 0 {
		return nil, fmt.Errorf("server %d has no messages left to generate", origin)
	}
	b.remaining[origin]--
	return &packet.Message{
		Origin:        origin,
		Destination:   b.pattern.destination(origin, rng),
		Size:          b.size,
		CreationCycle: cycle,
	}, nil
}

func (b *Burst) TryConsume(server int, m *packet.Message, cycle int64) bool {
	if !b.consumer.Consume(server, m, cycle) {
		return false
	}
	b.noteConsumed(m)
	return true
}

func (b *Burst) noteConsumed(m *packet.Message) {
	b.delivered[m.Origin]++
	b.consumed++
}

// Discard gives back a message the origin server had no room to queue, so
// it is generated again later.
func (b *Burst) Discard(m *packet.Message) { b.remaining[m.Origin]++ }

// Discarder is implemented by traffics that must know when a generated
// message was dropped by its origin. Open-ended traffics simply lose it.
type Discarder interface {
	Discard(m *packet.Message)
}

// consumptionObserver is implemented by traffics that track their own
// messages when they are consumed on behalf of a Sum.
type consumptionObserver interface {
	noteConsumed(m *packet.Message)
}

func (b *Burst) IsFinished() bool { return b.consumed == b.total*len(b.remaining) }

func (b *Burst) ServerState(server int, _ int64) ServerState {
	switch {
	case b.remaining[server] > 0:
		return StateGenerating
	case b.delivered[server] < b.total:
		return StateWaiting
	default:
		return StateFinished
	}
}

// Sum lets several traffics share the servers. At most one component
// generates per server and cycle; components are asked in order.
// Consumption is decided by the sum's own consumer.
type Sum struct {
	components []Traffic
	// pending is the component that won ShouldGenerate for each server, or -1.
	pending []int
	// owner maps in-flight messages to the component that generated them.
	owner    map[*packet.Message]int
	consumer Consumer
}

func newSum(cfg Config, servers int, rng *rand.Rand) (*Sum, error) {
	if len(cfg.Components) == 0 {
		return nil, fmt.Errorf("%w: sum needs at least one component", ErrInvalid)
	}
	s := &Sum{pending: make([]int, servers), owner: make(map[*packet.Message]int)}
	for i, c := range cfg.Components {
		t, err := New(c, servers, rng)
		if err != nil {
			return nil, fmt.Errorf("sum component %d: %w", i, err)
		}
		s.components = append(s.components, t)
	}
	for i := range s.pending {
		s.pending[i] = -1
	}
	consumer, err := NewConsumer(cfg.Consumption, servers, cfg.LargestMessage())
	if err != nil {
		return nil, err
	}
	s.consumer = consumer
	return s, nil
}

func (s *Sum) Name() string { return "sum" }

func (s *Sum) ShouldGenerate(server int, cycle int64, rng *rand.Rand) bool {
	for i, t := range s.components {
		if t.ShouldGenerate(server, cycle, rng) {
			s.pending[server] = i
			return true
		}
	}
	s.pending[server] = -1
	return false
}

func (s *Sum) Generate(origin int, cycle int64, rng *rand.Rand) (*packet.Message, error) {
	i := s.pending[origin]
	if i < 0 {
		return nil, fmt.Errorf("server %d generated without a component deciding to", origin)
	}
	s.pending[origin] = -1
	m, err := s.components[i].Generate(origin, cycle, rng)
	if err != nil {
		return nil, err
	}
	s.owner[m] = i
	return m, nil
}

func (s *Sum) TryConsume(server int, m *packet.Message, cycle int64) bool {
	if !s.consumer.Consume(server, m, cycle) {
		return false
	}
	if i, ok := s.owner[m]; ok {
		delete(s.owner, m)
		if o, ok := s.components[i].(consumptionObserver); ok {
			o.noteConsumed(m)
		}
	}
	return true
}

func (s *Sum) Discard(m *packet.Message) {
	i, ok := s.owner[m]
	if !ok {
		return
	}
	delete(s.owner, m)
	if d, ok := s.components[i].(Discarder); ok {
		d.Discard(m)
	}
}

func (s *Sum) IsFinished() bool {
	for _, t := range s.components {
		if !t.IsFinished() {
			return false
		}
	}
	return true
}

func (s *Sum) ServerState(server int, cycle int64) ServerState {
	state := StateFinished
	for _, t := range s.components {
		state = min(state, t.ServerState(server, cycle))
	}
	return state
}
