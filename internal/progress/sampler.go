package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler reads host utilization.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// SystemSampler samples CPU and memory via gopsutil.
type SystemSampler struct {
	// Interval is the CPU measurement window; zero compares against the previous call.
	Interval time.Duration
}

const bytesPerGB = 1 << 30

// Sample returns system-wide CPU and memory utilization.
func (s SystemSampler) Sample(ctx context.Context) (Usage, error) {
	pcts, err := cpu.PercentWithContext(ctx, s.Interval, false)
	if err != nil {
		return Usage{}, fmt.Errorf("sample cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("sample memory: %w", err)
	}
	u := Usage{
		MemPercent: vm.UsedPercent,
		MemUsedGB:  float64(vm.Used) / bytesPerGB,
	}
	if len(pcts) > 0 {
		u.CPUPercent = pcts[0]
	}
	return u, nil
}
