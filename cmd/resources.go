package cmd

import (
	"os"

	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/netsim/sim"
)

// resourceSampleCycles is how often a run samples the resident set.
const resourceSampleCycles = 4096

type resources struct {
	userTime       float64 // seconds
	systemTime     float64 // seconds
	residentMemory uint64  // bytes
}

// sampleResources reads the CPU times and resident set of this process. A
// failed sample is logged and reported as zero.
func sampleResources() resources {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logrus.Warnf("cannot inspect process: %v", err)
		return resources{}
	}
	var r resources
	if times, err := p.Times(); err == nil {
		r.userTime = times.User
		r.systemTime = times.System
	} else {
		logrus.Warnf("cannot read process times: %v", err)
	}
	if mem, err := p.MemoryInfo(); err == nil {
		r.residentMemory = mem.RSS
	} else {
		logrus.Warnf("cannot read process memory: %v", err)
	}
	return r
}

// resourceMeter measures one run. The operating system only reports times
// and memory for the whole process, so runs executing concurrently are
// charged for each other's CPU time and share the resident set.
type resourceMeter struct {
	proc  *process.Process
	start resources
	peak  uint64
}

func newResourceMeter() *resourceMeter {
	m := &resourceMeter{start: sampleResources()}
	m.peak = m.start.residentMemory
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

// observe folds the current resident set into the peak. Failures are
// ignored; sampleResources already reported them.
func (m *resourceMeter) observe() {
	if m.proc == nil {
		return
	}
	if mem, err := m.proc.MemoryInfo(); err == nil {
		m.peak = max(m.peak, mem.RSS)
	}
}

// afterCycle samples the resident set every resourceSampleCycles cycles.
func (m *resourceMeter) afterCycle(_ *sim.Simulation, cycle int64) error {
	if cycle%resourceSampleCycles == 0 {
		m.observe()
	}
	return nil
}

// finish fills the resource fields of res: CPU time spent since the meter
// was created and the largest resident set sampled meanwhile.
func (m *resourceMeter) finish(res *sim.Result) {
	end := sampleResources()
	res.UserTime = end.userTime - m.start.userTime
	res.SystemTime = end.systemTime - m.start.systemTime
	res.PeakMemory = max(m.peak, end.residentMemory)
}
