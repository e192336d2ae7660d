package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// sampleResources returns (memoryMB, cpuPercent) for pid. Either value is nil
// when the process is not alive or the OS denies access, matching the
// null-on-failure contract for memory_mb()/cpu_percent().
func sampleResources(pid int) (*float64, *float64) {
	if pid <= 0 {
		return nil, nil
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, nil
	}
	var memMB, cpuPct *float64
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		v := float64(mi.RSS) / (1024 * 1024)
		memMB = &v
	}
	if pct, err := p.CPUPercent(); err == nil {
		cpuPct = &pct
	}
	return memMB, cpuPct
}
