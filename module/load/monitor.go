package load

import (
	"context"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/module/presence"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is an ephemeral snapshot of process pressure. It is cached for a
// short window so admission decisions under high request rates do not
// resample the OS on every call.
type Sample struct {
	CPUPct      float64
	MemPct      float64
	ActiveConns int64
	TakenAt     time.Time
}

// Sampler abstracts the raw measurements so tests can inject values.
type Sampler interface {
	Measure(ctx context.Context) (cpuPct, memPct float64, err error)
}

// PsutilSampler measures via gopsutil.
type PsutilSampler struct{}

func (PsutilSampler) Measure(_ context.Context) (float64, float64, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return cpuPct, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}

type Config struct {
	SampleWindow time.Duration
	CPUThreshold float64 // pct
	MemThreshold float64 // pct
	ConnCeiling  int64
	Clock        func() time.Time
}

func (c *Config) norm() {
	if c.SampleWindow <= 0 {
		c.SampleWindow = 5 * time.Second
	}
	if c.CPUThreshold <= 0 {
		c.CPUThreshold = 70
	}
	if c.MemThreshold <= 0 {
		c.MemThreshold = 75
	}
	if c.ConnCeiling <= 0 {
		c.ConnCeiling = 10000
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Monitor blends CPU, memory and connection pressure into a load score and
// a pressure flag consumed by the admission controller.
type Monitor struct {
	conf    Config
	sampler Sampler
	dir     presence.Directory

	mu     sync.Mutex
	cached Sample
}

func NewMonitor(conf Config, sampler Sampler, dir presence.Directory) *Monitor {
	conf.norm()
	if sampler == nil {
		sampler = PsutilSampler{}
	}
	return &Monitor{conf: conf, sampler: sampler, dir: dir}
}

// Sample returns the cached snapshot, refreshing it once the window lapsed.
// A failed measurement keeps the previous snapshot; a failed connection
// count degrades to 0 (presence store down means everyone looks offline,
// which is already the conservative path elsewhere).
func (m *Monitor) Sample(ctx context.Context) Sample {
	now := m.conf.Clock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cached.TakenAt.IsZero() && now.Sub(m.cached.TakenAt) < m.conf.SampleWindow {
		return m.cached
	}

	cpuPct, memPct, err := m.sampler.Measure(ctx)
	if err != nil {
		logger.Warnf("[load] measure failed, keeping last sample: %v", err)
		if !m.cached.TakenAt.IsZero() {
			return m.cached
		}
	}
	var conns int64
	if m.dir != nil {
		if n, derr := m.dir.TotalOnline(ctx); derr != nil {
			logger.Warnf("[load] total online failed: %v", derr)
		} else {
			conns = n
		}
	}

	m.cached = Sample{CPUPct: cpuPct, MemPct: memPct, ActiveConns: conns, TakenAt: now}
	return m.cached
}

// LoadScore blends the three dimensions: cpu 0.4, mem 0.3, connection
// pressure 0.3, each capped at 1.0 before blending. Result is in [0,1].
func (m *Monitor) LoadScore(ctx context.Context) float64 {
	s := m.Sample(ctx)
	cpuPart := capUnit(s.CPUPct / 100)
	memPart := capUnit(s.MemPct / 100)
	connPart := capUnit(float64(s.ActiveConns) / float64(m.conf.ConnCeiling))
	return cpuPart*0.4 + memPart*0.3 + connPart*0.3
}

// IsUnderPressure is a disjunctive trigger: any single saturated dimension
// forces conservative behavior regardless of the blended score.
func (m *Monitor) IsUnderPressure(ctx context.Context) bool {
	s := m.Sample(ctx)
	return s.CPUPct > m.conf.CPUThreshold ||
		s.MemPct > m.conf.MemThreshold ||
		s.ActiveConns > m.conf.ConnCeiling
}

func capUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
