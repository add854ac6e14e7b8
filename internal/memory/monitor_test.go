package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/logging"
)

func validThresholds() Thresholds {
	return Thresholds{WarningMB: 64, CleanupMB: 128, CriticalMB: 256}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name       string
		thresholds Thresholds
		wantErr    bool
	}{
		{"ordered", Thresholds{WarningMB: 1, CleanupMB: 2, CriticalMB: 3}, false},
		{"zero warning", Thresholds{WarningMB: 0, CleanupMB: 2, CriticalMB: 3}, true},
		{"warning above cleanup", Thresholds{WarningMB: 5, CleanupMB: 2, CriticalMB: 10}, true},
		{"cleanup equals critical", Thresholds{WarningMB: 1, CleanupMB: 3, CriticalMB: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.thresholds.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindConfig, errors.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	m := NewMonitor(validThresholds(), time.Minute, logging.Nop())

	assert.Equal(t, PressureNormal, m.classify(10))
	assert.Equal(t, PressureWarning, m.classify(64))
	assert.Equal(t, PressureWarning, m.classify(100))
	assert.Equal(t, PressureCleanup, m.classify(128))
	assert.Equal(t, PressureCritical, m.classify(300))
}

func TestSampleRecordsHistory(t *testing.T) {
	m := NewMonitor(validThresholds(), time.Minute, logging.Nop())

	snap := m.Sample()
	assert.Greater(t, snap.HeapMB, 0.0)
	assert.Greater(t, snap.Goroutines, 0)
	assert.False(t, snap.Timestamp.IsZero())

	assert.Equal(t, snap, m.Current())
	assert.Len(t, m.History(), 1)
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewMonitor(validThresholds(), time.Minute, logging.Nop())
	for i := 0; i < historySize+25; i++ {
		m.Sample()
	}
	assert.Len(t, m.History(), historySize)
}

func TestCleanupRunsUnderPressure(t *testing.T) {
	// Thresholds below any real heap size so every sample is critical.
	m := NewMonitor(Thresholds{WarningMB: 0.0001, CleanupMB: 0.0002, CriticalMB: 0.0003},
		time.Minute, logging.Nop())

	var calls atomic.Int64
	var level atomic.Int64
	m.OnCleanup(func(p Pressure) {
		calls.Add(1)
		level.Store(int64(p))
	})

	snap := m.Sample()
	assert.Equal(t, PressureCritical, snap.Pressure)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(PressureCritical), level.Load())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.CleanupRuns)
	assert.Equal(t, int64(1), stats.ForcedGCs)
}

func TestCleanupPanicIsolation(t *testing.T) {
	m := NewMonitor(Thresholds{WarningMB: 0.0001, CleanupMB: 0.0002, CriticalMB: 1 << 30},
		time.Minute, logging.Nop())

	var survived atomic.Bool
	m.OnCleanup(func(Pressure) { panic("boom") })
	m.OnCleanup(func(Pressure) { survived.Store(true) })

	snap := m.Sample()
	assert.Equal(t, PressureCleanup, snap.Pressure)
	assert.True(t, survived.Load())
}

func TestNoCleanupAtWarning(t *testing.T) {
	m := NewMonitor(Thresholds{WarningMB: 0.0001, CleanupMB: 1 << 29, CriticalMB: 1 << 30},
		time.Minute, logging.Nop())

	var calls atomic.Int64
	m.OnCleanup(func(Pressure) { calls.Add(1) })

	snap := m.Sample()
	assert.Equal(t, PressureWarning, snap.Pressure)
	assert.Zero(t, calls.Load())
}

func TestTrendNeedsTwoWindows(t *testing.T) {
	m := NewMonitor(validThresholds(), time.Minute, logging.Nop())
	for i := 0; i < 2*trendWindow-1; i++ {
		m.Sample()
	}
	assert.Equal(t, TrendStable, m.Trend())
}

func TestTrendDetection(t *testing.T) {
	m := NewMonitor(validThresholds(), time.Minute, logging.Nop())

	// Synthesize history: steady usage, then a jump past the dead band.
	m.mu.Lock()
	for i := 0; i < trendWindow; i++ {
		m.history = append(m.history, Snapshot{HeapMB: 50})
	}
	for i := 0; i < trendWindow; i++ {
		m.history = append(m.history, Snapshot{HeapMB: 50 + 2*trendBandMB})
	}
	m.mu.Unlock()
	assert.Equal(t, TrendGrowing, m.Trend())

	m.mu.Lock()
	m.history = nil
	for i := 0; i < trendWindow; i++ {
		m.history = append(m.history, Snapshot{HeapMB: 90})
	}
	for i := 0; i < trendWindow; i++ {
		m.history = append(m.history, Snapshot{HeapMB: 90 - 2*trendBandMB})
	}
	m.mu.Unlock()
	assert.Equal(t, TrendShrinking, m.Trend())

	m.mu.Lock()
	m.history = nil
	for i := 0; i < 2*trendWindow; i++ {
		m.history = append(m.history, Snapshot{HeapMB: 70 + float64(i%2)})
	}
	m.mu.Unlock()
	assert.Equal(t, TrendStable, m.Trend())
}

func TestStartValidatesThresholds(t *testing.T) {
	m := NewMonitor(Thresholds{}, time.Minute, logging.Nop())
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
	assert.False(t, m.Running())
}

func TestStartStop(t *testing.T) {
	m := NewMonitor(validThresholds(), 10*time.Millisecond, logging.Nop())
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Running())

	// Starting twice is rejected.
	assert.Error(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return len(m.History()) >= 2 },
		2*time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())
	m.Stop() // idempotent
}

func TestPressureAndTrendStrings(t *testing.T) {
	assert.Equal(t, "normal", PressureNormal.String())
	assert.Equal(t, "critical", PressureCritical.String())
	assert.Equal(t, "growing", TrendGrowing.String())
	assert.Equal(t, "stable", TrendStable.String())
}
