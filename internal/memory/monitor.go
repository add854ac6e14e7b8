// Package memory watches process heap usage against configured thresholds and
// asks registered consumers to shed weight before the runtime is in trouble.
package memory

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/logging"
)

const (
	// DefaultInterval is how often a heap snapshot is taken.
	DefaultInterval = 30 * time.Second
	// historySize bounds the snapshot ring buffer.
	historySize = 100
	// trendWindow is how many recent snapshots feed each side of the
	// trend comparison.
	trendWindow = 5
	// trendBandMB is the dead band inside which usage counts as stable.
	trendBandMB = 5.0
)

// Pressure classifies current heap usage against the thresholds.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureWarning
	PressureCleanup
	PressureCritical
)

// String returns the string representation of the Pressure level.
func (p Pressure) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCleanup:
		return "cleanup"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Trend describes the direction of recent heap usage.
type Trend int

const (
	TrendStable Trend = iota
	TrendGrowing
	TrendShrinking
)

// String returns the string representation of the Trend.
func (t Trend) String() string {
	switch t {
	case TrendGrowing:
		return "growing"
	case TrendShrinking:
		return "shrinking"
	default:
		return "stable"
	}
}

// Thresholds are heap-size watermarks in megabytes. They must be strictly
// ordered: Warning < Cleanup < Critical.
type Thresholds struct {
	WarningMB  float64 `json:"warning_mb"`
	CleanupMB  float64 `json:"cleanup_mb"`
	CriticalMB float64 `json:"critical_mb"`
}

// Validate checks the watermark ordering.
func (t Thresholds) Validate() error {
	if t.WarningMB <= 0 || t.WarningMB >= t.CleanupMB || t.CleanupMB >= t.CriticalMB {
		return errors.NewConfigError(errors.CodeThresholdsInvalid,
			"memory thresholds must satisfy 0 < warning < cleanup < critical")
	}
	return nil
}

// Snapshot is one heap sample.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	HeapMB     float64   `json:"heap_mb"`
	SysMB      float64   `json:"sys_mb"`
	Goroutines int       `json:"goroutines"`
	NumGC      uint32    `json:"num_gc"`
	Pressure   Pressure  `json:"pressure"`
}

// CleanupFunc frees memory on demand. It receives the pressure level that
// triggered it. A panicking cleanup is isolated and logged.
type CleanupFunc func(Pressure)

// Monitor samples heap usage on an interval, keeps a bounded history, and
// invokes cleanup callbacks when thresholds are crossed.
type Monitor struct {
	thresholds Thresholds
	interval   time.Duration
	logger     logging.Logger

	mu       sync.Mutex
	history  []Snapshot // ring buffer, oldest first
	cleanups []CleanupFunc
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}

	cleanupRuns int64
	forcedGCs   int64
}

// NewMonitor creates a monitor. A non-positive interval falls back to the
// default. Thresholds are validated by Start.
func NewMonitor(thresholds Thresholds, interval time.Duration, logger logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		thresholds: thresholds,
		interval:   interval,
		logger:     logger.WithComponent("memory"),
	}
}

// OnCleanup registers a callback invoked at cleanup pressure or above.
func (m *Monitor) OnCleanup(fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, fn)
}

// Start begins periodic sampling. It returns immediately; sampling runs in
// the background until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.thresholds.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.NewConfigError(errors.CodeThresholdsInvalid, "memory monitor already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx)
	m.logger.Info(ctx, "memory monitor started",
		"interval", m.interval.String(),
		"warning_mb", m.thresholds.WarningMB,
		"cleanup_mb", m.thresholds.CleanupMB,
		"critical_mb", m.thresholds.CriticalMB)
	return nil
}

// Stop halts sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sample() // immediate first sample so state is never empty
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one heap snapshot, records it, and reacts to the pressure
// level. It is safe to call outside the sampling loop.
func (m *Monitor) Sample() Snapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	snap := Snapshot{
		Timestamp:  time.Now(),
		HeapMB:     float64(stats.HeapAlloc) / (1 << 20),
		SysMB:      float64(stats.Sys) / (1 << 20),
		Goroutines: runtime.NumGoroutine(),
		NumGC:      stats.NumGC,
	}
	snap.Pressure = m.classify(snap.HeapMB)

	m.mu.Lock()
	m.history = append(m.history, snap)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.mu.Unlock()

	m.react(snap)
	return snap
}

func (m *Monitor) classify(heapMB float64) Pressure {
	switch {
	case heapMB >= m.thresholds.CriticalMB:
		return PressureCritical
	case heapMB >= m.thresholds.CleanupMB:
		return PressureCleanup
	case heapMB >= m.thresholds.WarningMB:
		return PressureWarning
	default:
		return PressureNormal
	}
}

func (m *Monitor) react(snap Snapshot) {
	ctx := context.Background()
	switch snap.Pressure {
	case PressureNormal:
		return
	case PressureWarning:
		m.logger.Warn(ctx, nil, "heap usage above warning threshold",
			"heap_mb", snap.HeapMB, "threshold_mb", m.thresholds.WarningMB)
	case PressureCleanup:
		m.logger.Warn(ctx, nil, "heap usage above cleanup threshold; running cleanups",
			"heap_mb", snap.HeapMB, "threshold_mb", m.thresholds.CleanupMB)
		m.runCleanups(snap.Pressure)
	case PressureCritical:
		m.logger.Error(ctx, nil, "heap usage critical; running cleanups and forcing GC",
			"heap_mb", snap.HeapMB, "threshold_mb", m.thresholds.CriticalMB)
		m.runCleanups(snap.Pressure)
		runtime.GC()
		m.mu.Lock()
		m.forcedGCs++
		m.mu.Unlock()
	}
}

func (m *Monitor) runCleanups(pressure Pressure) {
	m.mu.Lock()
	cleanups := append([]CleanupFunc(nil), m.cleanups...)
	m.cleanupRuns++
	m.mu.Unlock()

	for _, fn := range cleanups {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error(context.Background(), nil,
						"memory cleanup callback panicked", "panic", r)
				}
			}()
			fn(pressure)
		}()
	}
}

// Current returns the most recent snapshot, or a zero snapshot when nothing
// has been sampled yet.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Snapshot{}
	}
	return m.history[len(m.history)-1]
}

// History returns a copy of the recorded snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.history...)
}

// Trend compares the mean heap size of the newest snapshots against the
// window before them. Fewer than two full windows reads as stable.
func (m *Monitor) Trend() Trend {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) < 2*trendWindow {
		return TrendStable
	}
	recent := meanHeap(m.history[len(m.history)-trendWindow:])
	previous := meanHeap(m.history[len(m.history)-2*trendWindow : len(m.history)-trendWindow])

	switch {
	case recent-previous > trendBandMB:
		return TrendGrowing
	case previous-recent > trendBandMB:
		return TrendShrinking
	default:
		return TrendStable
	}
}

// Stats summarizes monitor activity.
type Stats struct {
	Samples     int      `json:"samples"`
	CleanupRuns int64    `json:"cleanup_runs"`
	ForcedGCs   int64    `json:"forced_gcs"`
	Pressure    Pressure `json:"pressure"`
	Trend       Trend    `json:"trend"`
	HeapMB      float64  `json:"heap_mb"`
}

// Stats returns a point-in-time summary.
func (m *Monitor) Stats() Stats {
	trend := m.Trend()
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Samples:     len(m.history),
		CleanupRuns: m.cleanupRuns,
		ForcedGCs:   m.forcedGCs,
		Trend:       trend,
	}
	if len(m.history) > 0 {
		last := m.history[len(m.history)-1]
		stats.Pressure = last.Pressure
		stats.HeapMB = last.HeapMB
	}
	return stats
}

func meanHeap(snaps []Snapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.HeapMB
	}
	return sum / float64(len(snaps))
}
