package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a TimeProvider that returns a manually advanced time.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// sentAt returns the wire-format sender timestamp for the clock's
// current time, i.e. a zero-latency observation.
func (f *fakeClock) sentAt() float64 {
	return float64(f.now.UnixNano()) / 1e9
}

func TestObserveNoGapsZeroLoss(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	for seq := uint32(0); seq < 50; seq++ {
		m.Observe(seq, clock.sentAt(), 1000, 0)
		clock.advance(10 * time.Millisecond)
	}

	snap := m.Snapshot()
	assert.Equal(t, 0.0, snap.LossPercent)
	assert.Equal(t, uint64(0), snap.LostPackets)
	assert.Equal(t, uint64(50), snap.TotalPackets)
}

func TestObserveForwardGapCountsExactly(t *testing.T) {
	tests := []struct {
		name     string
		sequence []uint32
		wantLost uint64
	}{
		{"single gap of one", []uint32{0, 1, 3}, 1},
		{"single gap of seven", []uint32{0, 8}, 7},
		{"two separate gaps", []uint32{0, 2, 3, 7}, 4},
		{"large gap", []uint32{0, 1001}, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			m := New(WithTimeProvider(clock))
			for _, seq := range tt.sequence {
				m.Observe(seq, clock.sentAt(), 500, 0)
				clock.advance(5 * time.Millisecond)
			}
			snap := m.Snapshot()
			assert.Equal(t, tt.wantLost, snap.LostPackets)
		})
	}
}

func TestObserveReorderDoesNotDecrementLoss(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	// Sequence 2 arrives before 1: the gap is charged when 2 arrives
	// and the late arrival of 1 must not change the counter.
	for _, seq := range []uint32{0, 2, 1} {
		m.Observe(seq, clock.sentAt(), 500, 0)
		clock.advance(5 * time.Millisecond)
	}

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.LostPackets)
	assert.Equal(t, uint64(3), snap.TotalPackets)
}

func TestObserveSuppressesDuplicates(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	m.Observe(0, clock.sentAt(), 500, 0)
	m.Observe(1, clock.sentAt(), 500, 0)
	m.Observe(1, clock.sentAt(), 500, 0)
	m.Observe(1, clock.sentAt(), 500, 0)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalPackets)
	assert.Equal(t, uint64(2), snap.Duplicates)
	assert.Equal(t, 0.0, snap.LossPercent)
}

func TestJitterZeroWhenLatenciesEqual(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	// Constant 20ms latency for every sample.
	for seq := uint32(0); seq < 10; seq++ {
		sent := float64(clock.now.Add(-20*time.Millisecond).UnixNano()) / 1e9
		m.Observe(seq, sent, 800, 0)
		clock.advance(33 * time.Millisecond)
	}

	snap := m.Snapshot()
	assert.InDelta(t, 20.0, snap.LatencyAvgMs, 0.001)
	assert.InDelta(t, 0.0, snap.JitterMs, 0.001)
}

func TestJitterMeanAbsoluteDelta(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	// Latencies 10, 30, 20 -> deltas |20|, |10| -> jitter 15.
	for i, lat := range []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond} {
		sent := float64(clock.now.Add(-lat).UnixNano()) / 1e9
		m.Observe(uint32(i), sent, 800, 0)
		clock.advance(33 * time.Millisecond)
	}

	snap := m.Snapshot()
	assert.InDelta(t, 15.0, snap.JitterMs, 0.001)
}

func TestThroughputTrailingWindow(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock), WithThroughputWindow(time.Second))

	// Three samples of 1000, 2000, 3000 bytes at relative times
	// 0.0s, 0.4s, 0.9s inside a 1.0s window.
	m.Observe(0, clock.sentAt(), 1000, 0)
	clock.advance(400 * time.Millisecond)
	m.Observe(1, clock.sentAt(), 2000, 0)
	clock.advance(500 * time.Millisecond)
	m.Observe(2, clock.sentAt(), 3000, 0)

	snap := m.Snapshot()
	assert.InDelta(t, 6000.0/0.9, snap.ThroughputBps, 1.0)
}

func TestThroughputExcludesSamplesBeforeCutoff(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock), WithThroughputWindow(time.Second))

	m.Observe(0, clock.sentAt(), 50000, 0)
	clock.advance(5 * time.Second)
	m.Observe(1, clock.sentAt(), 1000, 0)
	clock.advance(500 * time.Millisecond)
	m.Observe(2, clock.sentAt(), 1000, 0)

	snap := m.Snapshot()
	// The 50000-byte sample is outside the trailing second.
	assert.InDelta(t, 2000.0/0.5, snap.ThroughputBps, 1.0)
}

func TestThroughputBurstUsesFullWindow(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock), WithThroughputWindow(time.Second))

	// All samples land within 2ms; dividing by the raw span would
	// report an absurd rate.
	for seq := uint32(0); seq < 3; seq++ {
		m.Observe(seq, clock.sentAt(), 1000, 0)
		clock.advance(time.Millisecond)
	}

	snap := m.Snapshot()
	assert.InDelta(t, 3000.0, snap.ThroughputBps, 1.0)
}

func TestWindowNeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock), WithWindowSize(10))

	for seq := uint32(0); seq < 100; seq++ {
		m.Observe(seq, clock.sentAt(), 100, 0)
		clock.advance(time.Millisecond)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.samples, 10)
	assert.Len(t, m.seen, 10)
}

func TestChunkSwitchCounting(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	chunks := []uint32{0, 0, 0, 1, 1, 2, 2, 2}
	for i, chunk := range chunks {
		m.Observe(uint32(i), clock.sentAt(), 100, chunk)
		clock.advance(time.Millisecond)
	}

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.ChunkSwitches)
}

func TestSnapshotEmptyMonitor(t *testing.T) {
	m := New()
	snap := m.Snapshot()

	assert.Equal(t, 0.0, snap.LossPercent)
	assert.Equal(t, 0.0, snap.LatencyAvgMs)
	assert.Equal(t, 0.0, snap.JitterMs)
	assert.Equal(t, 0.0, snap.ThroughputBps)
}

func TestReset(t *testing.T) {
	clock := newFakeClock()
	m := New(WithTimeProvider(clock))

	m.Observe(0, clock.sentAt(), 100, 0)
	m.Observe(5, clock.sentAt(), 100, 1)
	require.NotZero(t, m.Snapshot().TotalPackets)

	m.Reset()
	snap := m.Snapshot()
	assert.Zero(t, snap.TotalPackets)
	assert.Zero(t, snap.LostPackets)
	assert.Zero(t, snap.ChunkSwitches)
}
