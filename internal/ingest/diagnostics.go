package ingest

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time resource sample for this process.
type ProcessStats struct {
	RSSBytes   uint64
	CPUPercent float64
	Threads    int32
	Goroutines int
}

// ResourceProbe samples process resource usage.
type ResourceProbe interface {
	Sample() (ProcessStats, error)
}

type processProbe struct {
	proc *process.Process
}

// NewProcessProbe returns a gopsutil-backed probe for the current process.
func NewProcessProbe() (ResourceProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("process handle: %w", err)
	}
	return &processProbe{proc: p}, nil
}

func (p *processProbe) Sample() (ProcessStats, error) {
	s := ProcessStats{Goroutines: runtime.NumGoroutine()}

	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return s, err
	}
	s.RSSBytes = mem.RSS

	if cpu, err := p.proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if n, err := p.proc.NumThreads(); err == nil {
		s.Threads = n
	}
	return s, nil
}

// Diagnostics is the periodic snapshot the ingestion worker reports.
type Diagnostics struct {
	NotificationDepth int
	WriteDepth        int
	CacheSize         int
	Process           ProcessStats
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("ingest: notifications=%d writes=%d cache=%d rss=%dKiB cpu=%.1f%% threads=%d goroutines=%d",
		d.NotificationDepth, d.WriteDepth, d.CacheSize,
		d.Process.RSSBytes/1024, d.Process.CPUPercent, d.Process.Threads, d.Process.Goroutines)
}
