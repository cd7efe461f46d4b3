// Package monitor implements sliding-window network quality measurement
// for a video stream receiver.
//
// The monitor ingests one observation per received datagram and maintains
// a bounded FIFO window of samples from which it derives latency, jitter,
// packet loss, and throughput on demand. It is the sole owner of the
// window; the receive loop mutates it and the adaptation loop reads
// immutable snapshots, so all access is serialized by an internal lock.
//
// Latency is computed as receiver arrival time minus the sender-embedded
// timestamp. The two clocks are not synchronized, so the value is an
// approximation that absorbs clock skew; treat it as a relative trend
// indicator rather than a true one-way delay measurement.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWindowSize is the default sample window capacity.
const DefaultWindowSize = 100

// DefaultThroughputWindow is the default trailing interval over which
// throughput is measured.
const DefaultThroughputWindow = time.Second

// minThroughputSpan is the shortest sample span throughput is measured
// against directly. Bursts that arrive faster than this are measured
// against the full throughput window so the divisor stays sane.
const minThroughputSpan = 50 * time.Millisecond

// Sample records a single received packet observation.
type Sample struct {
	Sequence  uint32
	ArrivalAt time.Time
	SizeBytes int
	LatencyMs float64
}

// Snapshot is an immutable view of the monitor's current metrics.
//
// Throughput is goodput in bytes per second, measured over the trailing
// throughput window.
type Snapshot struct {
	LatencyAvgMs  float64
	JitterMs      float64
	LossPercent   float64
	ThroughputBps float64
	ChunkSwitches uint64
	TotalPackets  uint64
	LostPackets   uint64
	Duplicates    uint64
}

// Monitor maintains a bounded window of packet samples and running loss
// counters.
//
// Loss counting only advances on forward sequence gaps: a reordered or
// duplicate sequence number never decrements the counter. Duplicate
// sequence numbers still present in the window are suppressed entirely
// so a retransmitted datagram cannot inflate throughput or reset gap
// accounting; suppression is scoped to the window, a duplicate arriving
// after its original has been evicted is treated as a fresh observation.
type Monitor struct {
	mu sync.RWMutex

	windowSize       int
	throughputWindow time.Duration

	samples []Sample
	seen    map[uint32]struct{}

	lastSequence  int64
	totalPackets  uint64
	lostPackets   uint64
	duplicates    uint64
	lastChunkID   int64
	chunkSwitches uint64

	timeProvider TimeProvider
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithWindowSize overrides the sample window capacity.
func WithWindowSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.windowSize = n
		}
	}
}

// WithThroughputWindow overrides the trailing throughput interval.
func WithThroughputWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.throughputWindow = d
		}
	}
}

// WithTimeProvider injects a clock, primarily for deterministic tests.
func WithTimeProvider(tp TimeProvider) Option {
	return func(m *Monitor) {
		if tp != nil {
			m.timeProvider = tp
		}
	}
}

// New creates a Monitor with an empty window.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		windowSize:       DefaultWindowSize,
		throughputWindow: DefaultThroughputWindow,
		samples:          make([]Sample, 0, DefaultWindowSize),
		seen:             make(map[uint32]struct{}),
		lastSequence:     -1,
		lastChunkID:      -1,
		timeProvider:     RealTimeProvider{},
	}
	for _, opt := range opts {
		opt(m)
	}

	logrus.WithFields(logrus.Fields{
		"function":          "New",
		"window_size":       m.windowSize,
		"throughput_window": m.throughputWindow,
	}).Debug("Created network quality monitor")

	return m
}

// Observe records one received packet.
//
// sentAt is the sender-embedded timestamp in fractional seconds since
// the Unix epoch, exactly as carried on the wire. sizeBytes is the size
// of the whole datagram as received. chunkID is 0 in non-chunked mode.
func (m *Monitor) Observe(sequence uint32, sentAt float64, sizeBytes int, chunkID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[sequence]; dup {
		m.duplicates++
		logrus.WithFields(logrus.Fields{
			"function": "Observe",
			"sequence": sequence,
		}).Debug("Suppressed duplicate sequence number")
		return
	}

	now := m.timeProvider.Now()
	latencyMs := (float64(now.UnixNano())/1e9 - sentAt) * 1000.0

	if m.lastChunkID >= 0 && int64(chunkID) != m.lastChunkID {
		m.chunkSwitches++
	}
	m.lastChunkID = int64(chunkID)

	m.totalPackets++
	if m.lastSequence >= 0 && int64(sequence) > m.lastSequence+1 {
		gap := uint64(int64(sequence) - m.lastSequence - 1)
		m.lostPackets += gap
		logrus.WithFields(logrus.Fields{
			"function":      "Observe",
			"sequence":      sequence,
			"last_sequence": m.lastSequence,
			"lost":          gap,
		}).Debug("Packet loss detected")
	}
	if int64(sequence) > m.lastSequence {
		m.lastSequence = int64(sequence)
	}

	m.samples = append(m.samples, Sample{
		Sequence:  sequence,
		ArrivalAt: now,
		SizeBytes: sizeBytes,
		LatencyMs: latencyMs,
	})
	m.seen[sequence] = struct{}{}
	if len(m.samples) > m.windowSize {
		evicted := m.samples[0]
		m.samples = m.samples[1:]
		delete(m.seen, evicted.Sequence)
	}
}

// Snapshot computes the current metrics from the window.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		ChunkSwitches: m.chunkSwitches,
		TotalPackets:  m.totalPackets,
		LostPackets:   m.lostPackets,
		Duplicates:    m.duplicates,
	}

	if m.totalPackets > 0 {
		snap.LossPercent = float64(m.lostPackets) / float64(m.totalPackets) * 100.0
	}

	if len(m.samples) > 0 {
		var sum float64
		for _, s := range m.samples {
			sum += s.LatencyMs
		}
		snap.LatencyAvgMs = sum / float64(len(m.samples))
	}

	if len(m.samples) >= 2 {
		var diffSum float64
		for i := 1; i < len(m.samples); i++ {
			diffSum += math.Abs(m.samples[i].LatencyMs - m.samples[i-1].LatencyMs)
		}
		snap.JitterMs = diffSum / float64(len(m.samples)-1)
	}

	snap.ThroughputBps = m.throughputLocked()

	return snap
}

// throughputLocked sums bytes of samples inside the trailing cutoff
// interval and divides by the span they actually cover. Caller must
// hold at least a read lock.
func (m *Monitor) throughputLocked() float64 {
	if len(m.samples) < 2 {
		return 0
	}

	newest := m.samples[len(m.samples)-1].ArrivalAt
	cutoff := newest.Add(-m.throughputWindow)

	var bytesInWindow int
	oldestInWindow := newest
	for i := len(m.samples) - 1; i >= 0; i-- {
		s := m.samples[i]
		if s.ArrivalAt.Before(cutoff) {
			break
		}
		bytesInWindow += s.SizeBytes
		oldestInWindow = s.ArrivalAt
	}

	span := newest.Sub(oldestInWindow)
	if span < minThroughputSpan {
		span = m.throughputWindow
	}

	return float64(bytesInWindow) / span.Seconds()
}

// Reset clears the window and all counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = m.samples[:0]
	m.seen = make(map[uint32]struct{})
	m.lastSequence = -1
	m.lastChunkID = -1
	m.totalPackets = 0
	m.lostPackets = 0
	m.duplicates = 0
	m.chunkSwitches = 0
}
