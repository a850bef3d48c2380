package util

import (
	"os"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// MemoryUsage host and process memory
type MemoryUsage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
	ProcessRSS  uint64  `json:"process_rss"`
}

// MemStats returns the memory usage, the process rss is 0 if unavailable
func MemStats() (MemoryUsage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryUsage{}, err
	}

	value := MemoryUsage{
		Total:       vm.Total,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			value.ProcessRSS = info.RSS
		}
	}
	return value, nil
}
