package services

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// SystemInfo is what the sync job records about the machine it runs on.
type SystemInfo struct {
	Hostname     string  `json:"hostname"`
	Platform     string  `json:"platform"`
	CPUCores     int     `json:"cpu_cores"`
	MemoryGB     float64 `json:"memory_gb"`
	MemoryUsedPc float64 `json:"memory_used_percent"`
}

// ResourceOptimizer inspects the host and sizes the worker pool so a small
// container does not run more concurrent fetch-and-upsert pipelines than it
// can hold.
type ResourceOptimizer struct {
	logger *logrus.Logger
	sample func(ctx context.Context) SystemInfo
}

func NewResourceOptimizer(logger *logrus.Logger) *ResourceOptimizer {
	if logger == nil {
		logger = logrus.New()
	}
	ro := &ResourceOptimizer{logger: logger}
	ro.sample = ro.sampleHost
	return ro
}

// SystemInfo gathers host details, falling back to os/runtime values when
// gopsutil cannot read them.
func (ro *ResourceOptimizer) SystemInfo(ctx context.Context) SystemInfo {
	return ro.sample(ctx)
}

func (ro *ResourceOptimizer) sampleHost(ctx context.Context) SystemInfo {
	info := SystemInfo{CPUCores: runtime.NumCPU(), MemoryGB: 8.0}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
	} else {
		ro.logger.WithError(err).Debug("Could not read host info")
	}
	if info.Hostname == "" {
		if name, err := os.Hostname(); err == nil {
			info.Hostname = name
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryGB = float64(vm.Total) / (1024 * 1024 * 1024)
		info.MemoryUsedPc = vm.UsedPercent
	} else {
		ro.logger.WithError(err).Warn("Could not get memory info, using default")
	}
	return info
}

// OptimalWorkers caps the configured worker count by available resources.
// It never returns less than 1 or more than configured.
func (ro *ResourceOptimizer) OptimalWorkers(ctx context.Context, configured int) int {
	if configured < 1 {
		configured = 1
	}
	info := ro.sample(ctx)

	limit := configured
	if info.CPUCores > 0 && info.CPUCores*2 < limit {
		limit = info.CPUCores * 2
	}
	switch {
	case info.MemoryGB < 1:
		limit = 1
	case info.MemoryGB < 2:
		limit = min(limit, 2)
	}
	if info.MemoryUsedPc > 90 && limit > 1 {
		limit = limit / 2
	}
	if limit < 1 {
		limit = 1
	}

	if limit != configured {
		ro.logger.WithFields(logrus.Fields{
			"configured_workers": configured,
			"effective_workers":  limit,
			"cpu_cores":          info.CPUCores,
			"memory_gb":          info.MemoryGB,
		}).Info("Reduced sync worker pool for host resources")
	}
	return limit
}
