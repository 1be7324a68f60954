package sim

import (
	"errors"

	"github.com/inference-sim/netsim/sim/policy"
)

var (
	// ErrInvalidConfig marks a configuration rejected before the run starts.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidTopology marks a topology that fails structural checks.
	ErrInvalidTopology = errors.New("invalid topology")
	// ErrPolicyVirtualChannelMismatch marks a policy chain that needs more
	// virtual channels than the routers have.
	ErrPolicyVirtualChannelMismatch = policy.ErrVirtualChannelMismatch
	// ErrStalled is returned when phits sit in the network without moving
	// for stall_cycles cycles.
	ErrStalled = errors.New("network stalled")
)
