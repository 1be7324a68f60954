package router

// Measurement accumulates what a router observes while stepping. Occupancy
// is summed once per step; a router is only stepped while it holds phits,
// so dividing by the measured cycles gives the time average.
type Measurement struct {
	Steps int64
	// InputOccupancy sums, per virtual channel, the phits in input buffers
	// divided by the number of ports.
	InputOccupancy []float64
	// OutputOccupancy is the same for output buffers.
	OutputOccupancy []float64
	Requests        int64
	Moved           int64
}

func newMeasurement(vcs int) Measurement {
	return Measurement{
		InputOccupancy:  make([]float64, vcs),
		OutputOccupancy: make([]float64, vcs),
	}
}

func (r *Basic) gatherStatistics() {
	r.stats.Steps++
	ports := float64(r.ports)
	for vc := 0; vc < r.cfg.VirtualChannels; vc++ {
		in, out := 0, 0
		for p := 0; p < r.ports; p++ {
			in += r.inputs[p][vc].Len()
			if r.outputs != nil {
				out += r.outputs[p][vc].phits.Len()
			}
		}
		r.stats.InputOccupancy[vc] += float64(in) / ports
		r.stats.OutputOccupancy[vc] += float64(out) / ports
	}
}

// Statistics returns a copy of the accumulated measurement.
func (r *Basic) Statistics() Measurement {
	m := r.stats
	m.InputOccupancy = append([]float64(nil), r.stats.InputOccupancy...)
	m.OutputOccupancy = append([]float64(nil), r.stats.OutputOccupancy...)
	return m
}

// ResetStatistics starts a new measurement, typically at the end of warm-up.
func (r *Basic) ResetStatistics() {
	r.stats = newMeasurement(r.cfg.VirtualChannels)
}
