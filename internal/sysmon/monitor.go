// Package sysmon estimates disk-space requirements before a recording starts
// and samples disk and memory usage while one is running. It is an
// observability layer: it warns past thresholds but never aborts a session.
package sysmon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
	"github.com/audiolibrelab/fieldcapture/internal/config"
)

const bytesPerGB = 1024 * 1024 * 1024

// SpaceEstimate is the preflight space-sufficiency computation for a
// requested recording. It is advisory: an insufficient estimate is logged
// but does not block the session from starting.
type SpaceEstimate struct {
	BytesPerSecond int64         `json:"bytes_per_second"`
	EstimatedBytes int64         `json:"estimated_bytes"`
	AvailableBytes uint64        `json:"available_bytes"`
	Sufficient     bool          `json:"sufficient_space"`
	MaxDuration    time.Duration `json:"max_duration"`
}

// EstimatedGB returns the estimated recording size in gigabytes.
func (e SpaceEstimate) EstimatedGB() float64 {
	return float64(e.EstimatedBytes) / bytesPerGB
}

// AvailableGB returns the available disk space in gigabytes.
func (e SpaceEstimate) AvailableGB() float64 {
	return float64(e.AvailableBytes) / bytesPerGB
}

// Estimate computes the space estimate for a format and duration against a
// known amount of free space. Sufficiency keeps a 10% safety margin and the
// maximum sustainable duration keeps 10% of the disk free.
func Estimate(format audio.Format, duration time.Duration, availableBytes uint64) SpaceEstimate {
	bps := int64(format.BytesPerSecond())
	estimated := int64(float64(bps) * duration.Seconds())

	est := SpaceEstimate{
		BytesPerSecond: bps,
		EstimatedBytes: estimated,
		AvailableBytes: availableBytes,
		Sufficient:     float64(availableBytes) > float64(estimated)*1.1,
	}
	if bps > 0 {
		maxSeconds := float64(availableBytes) * 0.9 / float64(bps)
		est.MaxDuration = time.Duration(maxSeconds * float64(time.Second))
	}
	return est
}

// Preflight computes the space estimate for a recording landing under path.
func Preflight(format audio.Format, duration time.Duration, path string) (SpaceEstimate, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return SpaceEstimate{}, fmt.Errorf("failed to stat disk usage for %s: %w", path, err)
	}
	return Estimate(format, duration, usage.Free), nil
}

// Report summarizes resource usage over a completed session, for post-hoc
// diagnosis of leaks during long unattended runs.
type Report struct {
	Elapsed     time.Duration
	MemoryDelta int64 // bytes, net change in used memory since start
}

// Monitor samples disk and memory usage on a fixed cadence while a session
// is recording. It shares no state with the data path.
type Monitor struct {
	interval time.Duration
	diskWarn float64
	memWarn  float64
	path     string

	// Injectable for tests; default to gopsutil.
	diskUsage func(string) (*disk.UsageStat, error)
	memUsage  func() (*mem.VirtualMemoryStat, error)

	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	startTime time.Time
	startMem  uint64
	running   bool
}

// NewMonitor returns a monitor for the disk holding path, configured with the
// given interval and high-water marks.
func NewMonitor(cfg config.MonitorConfig, path string) *Monitor {
	return &Monitor{
		interval:  cfg.Interval,
		diskWarn:  cfg.DiskWarnPercent,
		memWarn:   cfg.MemoryWarnPercent,
		path:      path,
		diskUsage: disk.Usage,
		memUsage:  mem.VirtualMemory,
	}
}

// Start begins background sampling. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.startTime = time.Now()
	if vm, err := m.memUsage(); err == nil {
		m.startMem = vm.Used
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.loop(m.stop, m.done)

	slog.Info("Resource monitoring started", "interval", m.interval, "path", m.path)
}

// Stop halts sampling and returns the end-of-session report. Safe to call on
// a monitor that was never started.
func (m *Monitor) Stop() Report {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return Report{}
	}
	stop, done := m.stop, m.done
	m.running = false
	m.mu.Unlock()

	close(stop)
	<-done

	report := Report{Elapsed: time.Since(m.startTime)}
	if vm, err := m.memUsage(); err == nil {
		report.MemoryDelta = int64(vm.Used) - int64(m.startMem)
	}

	slog.Info("Recording session resource report",
		"elapsed", report.Elapsed.Round(time.Second),
		"memory_delta_mb", float64(report.MemoryDelta)/1024/1024)
	return report
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample reads current disk and memory usage and warns past the high-water
// marks. Sampling failures are logged and the loop keeps going.
func (m *Monitor) sample() {
	if usage, err := m.diskUsage(m.path); err != nil {
		slog.Error("Failed to sample disk usage", "path", m.path, "error", err)
	} else if usage.UsedPercent > m.diskWarn {
		slog.Warn("Low disk space",
			"used_percent", fmt.Sprintf("%.1f", usage.UsedPercent),
			"free_gb", fmt.Sprintf("%.1f", float64(usage.Free)/bytesPerGB))
	}

	if vm, err := m.memUsage(); err != nil {
		slog.Error("Failed to sample memory usage", "error", err)
	} else if vm.UsedPercent > m.memWarn {
		slog.Warn("High memory usage",
			"used_percent", fmt.Sprintf("%.1f", vm.UsedPercent),
			"available_mb", fmt.Sprintf("%.0f", float64(vm.Available)/1024/1024))
	}
}
