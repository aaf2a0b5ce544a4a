package harness

import (
	"github.com/shirou/gopsutil/v3/process"
)

// sampleResourceUsage reads the resolver subprocess's RSS and CPU percent
// at COVERAGE_READ time.
// Failures are swallowed to a zero-value reading: a process that has
// already exited between the state check and the sample is itself
// reported through FailureResolverCrash, not through this function.
func sampleResourceUsage(pid int32) ResourceUsage {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ResourceUsage{}
	}
	var usage ResourceUsage
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		usage.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		usage.CPUPercent = cpu
	}
	return usage
}
