// Package router implements the router microarchitecture: per port and
// virtual channel input buffers, optional output buffers, credit counters
// towards each neighbour, request allocation and output arbitration.
//
// A router never touches another router. Everything it sends, phits
// downstream and credits upstream, goes through an Emitter, which the
// simulation turns into delayed events.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/inference-sim/netsim/sim/packet"
	"github.com/inference-sim/netsim/sim/policy"
	"github.com/inference-sim/netsim/sim/routing"
	"github.com/inference-sim/netsim/sim/topology"
)

// ErrInvalid marks a malformed router description.
var ErrInvalid = errors.New("invalid router")

// Config describes the routers of a network. Every router uses the same one.
type Config struct {
	Type             string `yaml:"type"`
	VirtualChannels  int    `yaml:"virtual_channels"`
	BufferSize       int    `yaml:"buffer_size"`
	OutputBufferSize int    `yaml:"output_buffer_size"`
	// FlitSize is the number of credits a head phit needs to start moving.
	FlitSize int  `yaml:"flit_size"`
	Bubble   bool `yaml:"bubble"`
	// AllowRequestBusyPort lets heads request output ports already moving phits.
	AllowRequestBusyPort bool `yaml:"allow_request_busy_port"`
	// IntransitPriority serves requests from other routers before injections.
	IntransitPriority bool `yaml:"intransit_priority"`
	// NeglectBusyOutput drops candidates whose output channel is allocated
	// instead of passing them to the policies as denied.
	NeglectBusyOutput           bool            `yaml:"neglect_busy_output"`
	OutputPrioritizeLowestLabel bool            `yaml:"output_prioritize_lowest_label"`
	OutputArbiter               string          `yaml:"output_arbiter"`
	Allocator                   string          `yaml:"allocator"`
	IslipIterations             int             `yaml:"islip_iterations"`
	VirtualChannelPolicies      []policy.Config `yaml:"virtual_channel_policies"`
}

// DefaultConfig returns the configuration applied before decoding, so keys
// missing from a file keep these values.
func DefaultConfig() Config {
	return Config{
		Type:                   "basic",
		VirtualChannels:        1,
		BufferSize:             4,
		FlitSize:               1,
		AllowRequestBusyPort:   true,
		OutputArbiter:          "token",
		Allocator:              "random",
		IslipIterations:        1,
		VirtualChannelPolicies: policy.DefaultConfigs(),
	}
}

var validOutputArbiters = map[string]bool{"token": true, "lowest_label": true, "random": true}

var validAllocators = map[string]bool{"random": true, "islip": true}

func names(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// Validate checks the configuration for a network whose packets have at
// most maximumPacketSize phits.
func (c Config) Validate(maximumPacketSize int) error {
	if c.Type != "basic" {
		return fmt.Errorf("%w: unknown type %q; valid: basic", ErrInvalid, c.Type)
	}
	if c.VirtualChannels <= 0 {
		return fmt.Errorf("%w: virtual_channels must be positive, got %d", ErrInvalid, c.VirtualChannels)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive, got %d", ErrInvalid, c.BufferSize)
	}
	if c.OutputBufferSize < 0 {
		return fmt.Errorf("%w: output_buffer_size must be >= 0, got %d", ErrInvalid, c.OutputBufferSize)
	}
	if c.FlitSize <= 0 || c.FlitSize > c.BufferSize {
		return fmt.Errorf("%w: flit_size must be in [1, buffer_size=%d], got %d", ErrInvalid, c.BufferSize, c.FlitSize)
	}
	if c.OutputBufferSize > 0 && c.FlitSize > c.OutputBufferSize {
		return fmt.Errorf("%w: flit_size %d exceeds output_buffer_size %d", ErrInvalid, c.FlitSize, c.OutputBufferSize)
	}
	if c.Bubble {
		if c.BufferSize < 2*maximumPacketSize {
			return fmt.Errorf("%w: bubble needs buffer_size >= 2*maximum_packet_size (%d), got %d", ErrInvalid, 2*maximumPacketSize, c.BufferSize)
		}
		if c.OutputBufferSize > 0 && c.OutputBufferSize < 2*maximumPacketSize {
			return fmt.Errorf("%w: bubble needs output_buffer_size >= %d, got %d", ErrInvalid, 2*maximumPacketSize, c.OutputBufferSize)
		}
	}
	if !validOutputArbiters[c.OutputArbiter] {
		return fmt.Errorf("%w: unknown output_arbiter %q; valid: %s", ErrInvalid, c.OutputArbiter, names(validOutputArbiters))
	}
	if !validAllocators[c.Allocator] {
		return fmt.Errorf("%w: unknown allocator %q; valid: %s", ErrInvalid, c.Allocator, names(validAllocators))
	}
	if c.Allocator == "islip" && c.IslipIterations <= 0 {
		return fmt.Errorf("%w: islip_iterations must be positive, got %d", ErrInvalid, c.IslipIterations)
	}
	if len(c.VirtualChannelPolicies) == 0 {
		return fmt.Errorf("%w: virtual_channel_policies is empty", ErrInvalid)
	}
	return nil
}

// Environment is the read-only network context shared by all routers.
type Environment struct {
	Topology          topology.Topology
	Routing           routing.Routing
	Policies          []policy.Policy
	LinkDelays        []int64
	MaximumPacketSize int
}

// Emitter receives everything a router sends during a step.
type Emitter interface {
	// SendPhit delivers phit at to after delay cycles.
	SendPhit(from, to topology.Location, phit *packet.Phit, delay int64)
	// ReturnCredit frees one slot of virtual channel vc, as seen by to, after delay cycles.
	ReturnCredit(to topology.Location, vc int, delay int64)
}

// StepResult summarizes one router step.
type StepResult struct {
	// Moved counts phits that left an input buffer.
	Moved int
	// Sent counts phits put on a link.
	Sent int
}
