package loops

import (
	"sync"

	"github.com/elastic/go-sysinfo/types"
)

// cpuSampler turns two successive CPUTime() reads into a busy-percentage,
// since go-sysinfo only exposes cumulative counters, not an instantaneous
// percentage.
type cpuSampler struct {
	mu   sync.Mutex
	prev types.CPUTimes
	have bool
}

func newCPUSampler() *cpuSampler {
	return &cpuSampler{}
}

type hostCPUTimer interface {
	CPUTime() (types.CPUTimes, error)
}

// sample returns the busy-percentage since the previous call. ok is false
// on the first call (no prior sample) or on a read error.
func (c *cpuSampler) sample(host hostCPUTimer) (float64, bool) {
	cur, err := host.CPUTime()
	if err != nil {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.prev
	had := c.have
	c.prev = cur
	c.have = true
	if !had {
		return 0, false
	}

	prevBusy := prev.User + prev.System + prev.Nice + prev.IOWait + prev.IRQ + prev.SoftIRQ + prev.Steal
	curBusy := cur.User + cur.System + cur.Nice + cur.IOWait + cur.IRQ + cur.SoftIRQ + cur.Steal
	prevTotal := prevBusy + prev.Idle
	curTotal := curBusy + cur.Idle

	deltaBusy := curBusy - prevBusy
	deltaTotal := curTotal - prevTotal
	if deltaTotal <= 0 {
		return 0, false
	}
	return float64(deltaBusy) / float64(deltaTotal) * 100, true
}
