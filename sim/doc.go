// Package sim provides the discrete-event engine of netsim, a cycle-level
// simulator of packet-switched interconnection networks.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - config.go: the YAML run description, its defaults and validation
//   - event.go: the four event kinds and their priorities within a cycle
//   - scheduler.go: the (cycle, priority, sequence) ordered queue
//   - simulation.go: network construction, the dispatch loop, servers and watchdog
//   - result.go: the record a run produces
//
// # Architecture
//
// The sim package wires components that live in sub-packages:
//   - sim/topology/: routers, servers and links; distance tables
//   - sim/routing/: candidate egresses for a packet at a router
//   - sim/policy/: the virtual channel policy chain filtering candidates
//   - sim/router/: the router microarchitecture and its arbitration
//   - sim/traffic/: message generation and consumption
//   - sim/packet/: messages, packets, phits and bounded buffers
//   - sim/store/: SQLite persistence of results
//
// Routers never call each other. Phits and credits travel as events whose
// delay is the link delay, so every interaction between components goes
// through the scheduler.
//
// # Determinism
//
// A run is a pure function of its Config. Randomness comes from a
// PartitionedRNG with one stream per subsystem and per router.
package sim
