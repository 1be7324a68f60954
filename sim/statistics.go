package sim

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ServerStatistics is what one server observed since the last reset.
type ServerStatistics struct {
	CreatedPhits      int64
	// ConsumedPhits counts the phits of consumed messages.
	ConsumedPhits     int64
	ConsumedMessages  int64
	TotalMessageDelay int64
	// GeneratedPhits and MissedPhits together are the offered load.
	GeneratedPhits    int64
	MissedPhits       int64
	MissedGenerations int64
	LastCreatedCycle  int64
	LastConsumedCycle int64
}

// AverageMessageDelay is 0 when no message was consumed.
func (s ServerStatistics) AverageMessageDelay() float64 {
	if s.ConsumedMessages == 0 {
		return 0
	}
	return float64(s.TotalMessageDelay) / float64(s.ConsumedMessages)
}

type temporalBucket struct {
	createdPhits      int64
	consumedPhits     int64
	consumedMessages  int64
	totalMessageDelay int64
}

// collector accumulates raw counters; result.go turns them into a Result.
type collector struct {
	start        int64
	temporalStep int64

	servers           []ServerStatistics
	packets           int64
	totalHops         int64
	totalNetworkDelay int64
	hopHistogram      []int64
	// linkArrivals counts phits sent through each router port to another router.
	linkArrivals [][]int64
	vcUsage      []int64
	temporal     []temporalBucket
}

func newCollector(servers int, portsPerRouter []int, vcs int, temporalStep int64) *collector {
	c := &collector{
		temporalStep: temporalStep,
		servers:      make([]ServerStatistics, servers),
		linkArrivals: make([][]int64, len(portsPerRouter)),
		vcUsage:      make([]int64, vcs),
	}
	for r, ports := range portsPerRouter {
		c.linkArrivals[r] = make([]int64, ports)
	}
	return c
}

// reset starts the measurement at cycle.
func (c *collector) reset(cycle int64) {
	c.start = cycle
	for i := range c.servers {
		c.servers[i] = ServerStatistics{}
	}
	c.packets, c.totalHops, c.totalNetworkDelay = 0, 0, 0
	c.hopHistogram = nil
	for _, ports := range c.linkArrivals {
		clear(ports)
	}
	clear(c.vcUsage)
	c.temporal = nil
}

func (c *collector) bucket(cycle int64) *temporalBucket {
	if c.temporalStep <= 0 {
		return nil
	}
	i := int((cycle - c.start) / c.temporalStep)
	for len(c.temporal) <= i {
		c.temporal = append(c.temporal, temporalBucket{})
	}
	return &c.temporal[i]
}

func (c *collector) generated(server, size int) {
	c.servers[server].GeneratedPhits += int64(size)
}

func (c *collector) missed(server, size int) {
	c.servers[server].MissedGenerations++
	c.servers[server].MissedPhits += int64(size)
}

func (c *collector) created(server int, cycle int64) {
	s := &c.servers[server]
	s.CreatedPhits++
	s.LastCreatedCycle = cycle
	if b := c.bucket(cycle); b != nil {
		b.createdPhits++
	}
}

func (c *collector) consumedPacket(hops int, networkDelay int64) {
	c.packets++
	c.totalHops += int64(hops)
	c.totalNetworkDelay += networkDelay
	for len(c.hopHistogram) <= hops {
		c.hopHistogram = append(c.hopHistogram, 0)
	}
	c.hopHistogram[hops]++
}

// consumedMessage accounts a message the traffic accepted. Its phits only
// count as accepted load at that point, not when they arrive.
func (c *collector) consumedMessage(server int, cycle, delay int64, size int) {
	s := &c.servers[server]
	s.ConsumedMessages++
	s.ConsumedPhits += int64(size)
	s.TotalMessageDelay += delay
	s.LastConsumedCycle = cycle
	if b := c.bucket(cycle); b != nil {
		b.consumedMessages++
		b.consumedPhits += int64(size)
		b.totalMessageDelay += delay
	}
}

func (c *collector) linkPhit(router, port, vc int) {
	c.linkArrivals[router][port]++
	c.vcUsage[vc]++
}

// JainIndex is the fairness index (Σx)²/(n·Σx²): 1 when every value is
// equal, 1/n when a single value is non-zero. Empty or all-zero input gives 1.
func JainIndex(xs []float64) float64 {
	var sum, squares float64
	for _, x := range xs {
		sum += x
		squares += x * x
	}
	if len(xs) == 0 || squares == 0 {
		return 1
	}
	return sum * sum / (float64(len(xs)) * squares)
}

// percentile returns the p-th percentile (p in [0, 100]) of xs.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(p/100, stat.Empirical, sorted, nil)
}

// mean returns the arithmetic mean of xs, 0 when empty.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}
