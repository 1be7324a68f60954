package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RouterAggregatedStatistics averages router measurements over routers.
type RouterAggregatedStatistics struct {
	AverageReceptionSpaceOccupationPerVC []float64 `json:"average_reception_space_occupation_per_vc"`
	AverageOutputBufferOccupationPerVC   []float64 `json:"average_output_buffer_occupation_per_vc"`
}

// ServerPercentile holds the p-th percentile over servers of per-server metrics.
type ServerPercentile struct {
	Percentile          float64 `json:"-"`
	InjectedLoad        float64 `json:"injected_load"`
	AcceptedLoad        float64 `json:"accepted_load"`
	AverageMessageDelay float64 `json:"average_message_delay"`
}

// TemporalSample covers statistics_temporal_step cycles of the measurement.
type TemporalSample struct {
	InjectedLoad        float64 `json:"injected_load"`
	AcceptedLoad        float64 `json:"accepted_load"`
	AverageMessageDelay float64 `json:"average_message_delay"`
}

// Result is the record of one run. Loads are phits per cycle per server.
// AcceptedLoad counts the phits of messages their destination consumed, so
// phits waiting in a server reception are not accepted yet.
type Result struct {
	Cycle             int64  `json:"cycle"`
	RunID             string `json:"run_id"`
	ConfigurationHash string `json:"configuration_hash"`

	InjectedLoad                          float64                    `json:"injected_load"`
	OfferedLoad                           float64                    `json:"offered_load"`
	AcceptedLoad                          float64                    `json:"accepted_load"`
	AverageMessageDelay                   float64                    `json:"average_message_delay"`
	AveragePacketNetworkDelay             float64                    `json:"average_packet_network_delay"`
	ServerGenerationJainIndex             float64                    `json:"server_generation_jain_index"`
	ServerConsumptionJainIndex            float64                    `json:"server_consumption_jain_index"`
	AveragePacketHops                     float64                    `json:"average_packet_hops"`
	TotalPacketPerHopCount                []int64                    `json:"total_packet_per_hop_count"`
	AverageLinkUtilization                float64                    `json:"average_link_utilization"`
	MaximumLinkUtilization                float64                    `json:"maximum_link_utilization"`
	ServerAverageCycleLastCreatedPhit     float64                    `json:"server_average_cycle_last_created_phit"`
	ServerAverageCycleLastConsumedMessage float64                    `json:"server_average_cycle_last_consumed_message"`
	ServerAverageMissedGenerations        float64                    `json:"server_average_missed_generations"`
	ServersWithMissedGenerations          int                        `json:"servers_with_missed_generations"`
	VirtualChannelUsage                   []float64                  `json:"virtual_channel_usage"`
	RouterAggregatedStatistics            RouterAggregatedStatistics `json:"router_aggregated_statistics"`
	ServerPercentiles                     []ServerPercentile         `json:"-"`
	TemporalStatistics                    []TemporalSample           `json:"temporal_statistics,omitempty"`

	// Filled by the driver running the simulation. They describe the whole
	// process: CPU seconds spent while the run was in progress and the
	// largest resident set sampled meanwhile, so concurrent runs overlap.
	UserTime   float64 `json:"user_time"`
	SystemTime float64 `json:"system_time"`
	PeakMemory uint64  `json:"peak_memory"`
}

// PercentileKey is the result field of percentile p, e.g. server_percentile50.
func PercentileKey(p float64) string {
	return "server_percentile" + strconv.FormatFloat(p, 'f', -1, 64)
}

// MarshalJSON writes percentiles as top-level server_percentile{p} objects.
// Keys are sorted, so equal results marshal to equal bytes.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	data, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	for _, p := range r.ServerPercentiles {
		fields[PercentileKey(p.Percentile)] = p
	}
	return json.Marshal(fields)
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Lookup resolves a dotted path such as
// "router_aggregated_statistics.average_reception_space_occupation_per_vc.0".
// Numbers come back as json.Number.
func (r *Result) Lookup(path string) (any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("result has no field %q in %q", part, path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("index %q out of range in %q", part, path)
			}
			cur = v[i]
		default:
			return nil, fmt.Errorf("%q is not a container in %q", part, path)
		}
	}
	return cur, nil
}

// LookupFloat is Lookup for numeric fields.
func (r *Result) LookupFloat(path string) (float64, error) {
	v, err := r.Lookup(path)
	if err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", path)
	}
	return n.Float64()
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// result derives the record from the collected counters.
func (s *Simulation) result() *Result {
	c := s.stats
	cycles := float64(s.end - c.start)
	servers := float64(len(c.servers))

	injected := make([]float64, len(c.servers))
	accepted := make([]float64, len(c.servers))
	delays := make([]float64, len(c.servers))
	lastCreated := make([]float64, len(c.servers))
	lastConsumed := make([]float64, len(c.servers))
	missed := make([]float64, len(c.servers))
	var created, consumed, offered, messages, messageDelay float64
	withMissed := 0
	for i, st := range c.servers {
		injected[i] = safeDiv(float64(st.CreatedPhits), cycles)
		accepted[i] = safeDiv(float64(st.ConsumedPhits), cycles)
		delays[i] = st.AverageMessageDelay()
		lastCreated[i] = float64(st.LastCreatedCycle)
		lastConsumed[i] = float64(st.LastConsumedCycle)
		missed[i] = float64(st.MissedGenerations)
		created += float64(st.CreatedPhits)
		consumed += float64(st.ConsumedPhits)
		offered += float64(st.GeneratedPhits + st.MissedPhits)
		messages += float64(st.ConsumedMessages)
		messageDelay += float64(st.TotalMessageDelay)
		if st.MissedGenerations > 0 {
			withMissed++
		}
	}

	res := &Result{
		Cycle:                                 s.end,
		ConfigurationHash:                     s.cfg.Hash(),
		InjectedLoad:                          safeDiv(created, cycles*servers),
		OfferedLoad:                           safeDiv(offered, cycles*servers),
		AcceptedLoad:                          safeDiv(consumed, cycles*servers),
		AverageMessageDelay:                   safeDiv(messageDelay, messages),
		AveragePacketNetworkDelay:             safeDiv(float64(c.totalNetworkDelay), float64(c.packets)),
		ServerGenerationJainIndex:             JainIndex(injected),
		ServerConsumptionJainIndex:            JainIndex(accepted),
		AveragePacketHops:                     safeDiv(float64(c.totalHops), float64(c.packets)),
		TotalPacketPerHopCount:                append([]int64{}, c.hopHistogram...),
		ServerAverageCycleLastCreatedPhit:     mean(lastCreated),
		ServerAverageCycleLastConsumedMessage: mean(lastConsumed),
		ServerAverageMissedGenerations:        mean(missed),
		ServersWithMissedGenerations:          withMissed,
	}

	links := 0
	var arrivals, busiest int64
	for r, ports := range c.linkArrivals {
		for p, n := range ports {
			if loc, _ := s.topo.Neighbour(r, p); !loc.IsRouter() {
				continue
			}
			links++
			arrivals += n
			busiest = max(busiest, n)
		}
	}
	res.AverageLinkUtilization = safeDiv(float64(arrivals), cycles*float64(links))
	res.MaximumLinkUtilization = safeDiv(float64(busiest), cycles)
	res.VirtualChannelUsage = make([]float64, len(c.vcUsage))
	for vc, n := range c.vcUsage {
		res.VirtualChannelUsage[vc] = safeDiv(float64(n), cycles*float64(links))
	}

	vcs := s.cfg.Router.VirtualChannels
	agg := RouterAggregatedStatistics{
		AverageReceptionSpaceOccupationPerVC: make([]float64, vcs),
		AverageOutputBufferOccupationPerVC:   make([]float64, vcs),
	}
	for _, r := range s.routers {
		m := r.Statistics()
		for vc := 0; vc < vcs; vc++ {
			agg.AverageReceptionSpaceOccupationPerVC[vc] += safeDiv(m.InputOccupancy[vc], cycles*float64(len(s.routers)))
			agg.AverageOutputBufferOccupationPerVC[vc] += safeDiv(m.OutputOccupancy[vc], cycles*float64(len(s.routers)))
		}
	}
	res.RouterAggregatedStatistics = agg

	for _, p := range s.cfg.ServerPercentiles {
		res.ServerPercentiles = append(res.ServerPercentiles, ServerPercentile{
			Percentile:          p,
			InjectedLoad:        percentile(injected, p),
			AcceptedLoad:        percentile(accepted, p),
			AverageMessageDelay: percentile(delays, p),
		})
	}

	for _, b := range c.temporal {
		window := float64(c.temporalStep) * servers
		res.TemporalStatistics = append(res.TemporalStatistics, TemporalSample{
			InjectedLoad:        safeDiv(float64(b.createdPhits), window),
			AcceptedLoad:        safeDiv(float64(b.consumedPhits), window),
			AverageMessageDelay: safeDiv(float64(b.totalMessageDelay), float64(b.consumedMessages)),
		})
	}
	return res
}
