package system

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a resource snapshot of this process and its children (browser, ffmpeg).
type ProcessStats struct {
	RSS         uint64
	ChildrenRSS uint64
	CPUPercent  float64
	Children    int
}

// SampleProcess collects ProcessStats for the current process.
func SampleProcess() (ProcessStats, error) {
	var st ProcessStats
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return st, err
	}
	if mem, err := p.MemoryInfo(); err == nil {
		st.RSS = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	children, err := p.Children()
	if err != nil {
		// нет дочерних процессов, это не ошибка
		return st, nil
	}
	for _, c := range children {
		st.Children++
		if mem, err := c.MemoryInfo(); err == nil {
			st.ChildrenRSS += mem.RSS
		}
	}
	return st, nil
}
