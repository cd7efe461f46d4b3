package adaptation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamcast/monitor"
)

// Trigger reasons recorded when the engine changes level.
const (
	TriggerHighLatency   = "high latency"
	TriggerHighJitter    = "high jitter"
	TriggerPacketLoss    = "packet loss"
	TriggerLowThroughput = "low throughput"
	TriggerGoodNetwork   = "good network"
	TriggerNone          = "none"
)

// Config defines the adaptation thresholds and stability controls.
type Config struct {
	// Base metric thresholds shared by every level.
	LatencyHighMs   float64 // downgrade above this (default: 200)
	LatencyLowMs    float64 // upgrade requires below this (default: 100)
	JitterHighMs    float64 // downgrade above this (default: 50)
	LossHighPercent float64 // downgrade above this (default: 10)

	// Cooldown is the minimum time between consecutive level changes.
	Cooldown time.Duration

	// HistorySize bounds the change log (default: 50).
	HistorySize int

	// Thresholds maps each level to its throughput bounds.
	Thresholds map[Level]ThresholdPair
}

// DefaultConfig returns the tuned defaults for chunk-based streaming.
//
// The cooldown is deliberately long relative to the 1 Hz evaluation
// tick: reacting to a transient dip with a cascade of downgrades costs
// more perceived quality than riding it out.
func DefaultConfig() *Config {
	return &Config{
		LatencyHighMs:   200,
		LatencyLowMs:    100,
		JitterHighMs:    50,
		LossHighPercent: 10,
		Cooldown:        7 * time.Second,
		HistorySize:     50,
		Thresholds:      DefaultThresholds(),
	}
}

// Change records a single level transition.
type Change struct {
	At      time.Time
	From    Level
	To      Level
	Trigger string
}

// Engine steps a quality level up or down based on periodic metric
// snapshots.
//
// Downgrade predicates are evaluated in priority order (latency,
// jitter, loss, throughput) and any single poor metric forces a step
// down. An upgrade requires every metric to be comfortably good and the
// throughput to clear the current level's upgrade bar. Transitions are
// separated by at least the configured cooldown.
type Engine struct {
	mu     sync.RWMutex
	config *Config

	current     Level
	lastChange  time.Time
	lastTrigger string
	history     []Change

	timeProvider monitor.TimeProvider
}

// NewEngine creates an adaptation engine starting at the given level.
// A nil config selects DefaultConfig.
func NewEngine(config *Config, initial Level) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Thresholds == nil {
		config.Thresholds = DefaultThresholds()
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewEngine",
		"initial_level": initial.String(),
		"cooldown":      config.Cooldown,
	}).Info("Created adaptation engine")

	return &Engine{
		config:       config,
		current:      initial,
		lastTrigger:  TriggerNone,
		history:      make([]Change, 0, config.HistorySize),
		timeProvider: monitor.RealTimeProvider{},
	}
}

// SetTimeProvider injects a clock for deterministic testing.
func (e *Engine) SetTimeProvider(tp monitor.TimeProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tp != nil {
		e.timeProvider = tp
	}
}

// Evaluate runs one adaptation step against the snapshot and returns
// the (possibly unchanged) current level.
func (e *Engine) Evaluate(snap monitor.Snapshot) Level {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.timeProvider.Now()
	if !e.lastChange.IsZero() && now.Sub(e.lastChange) < e.config.Cooldown {
		return e.current
	}

	next, trigger := e.decide(snap)
	if next == e.current {
		return e.current
	}

	change := Change{At: now, From: e.current, To: next, Trigger: trigger}
	e.history = append(e.history, change)
	if len(e.history) > e.config.HistorySize {
		e.history = e.history[1:]
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Evaluate",
		"from":           e.current.String(),
		"to":             next.String(),
		"trigger":        trigger,
		"latency_ms":     snap.LatencyAvgMs,
		"jitter_ms":      snap.JitterMs,
		"loss_percent":   snap.LossPercent,
		"throughput_bps": snap.ThroughputBps,
	}).Info("Quality level changed")

	e.current = next
	e.lastChange = now
	e.lastTrigger = trigger

	return e.current
}

// decide applies the downgrade and upgrade predicates without touching
// engine state. Caller must hold the lock.
func (e *Engine) decide(snap monitor.Snapshot) (Level, string) {
	thresholds := e.thresholdsFor(e.current)

	switch {
	case snap.LatencyAvgMs > e.config.LatencyHighMs:
		return e.current.Down(), TriggerHighLatency
	case snap.JitterMs > e.config.JitterHighMs:
		return e.current.Down(), TriggerHighJitter
	case snap.LossPercent > e.config.LossHighPercent:
		return e.current.Down(), TriggerPacketLoss
	case snap.ThroughputBps < thresholds.Low:
		return e.current.Down(), TriggerLowThroughput
	}

	goodNetwork := snap.LatencyAvgMs < e.config.LatencyLowMs &&
		snap.JitterMs < e.config.JitterHighMs/2 &&
		snap.LossPercent < e.config.LossHighPercent/2 &&
		snap.ThroughputBps > thresholds.High
	if goodNetwork {
		return e.current.Up(), TriggerGoodNetwork
	}

	return e.current, e.lastTrigger
}

// thresholdsFor returns the throughput pair for the level, falling back
// to the lowest tier's pair if the table has no entry.
func (e *Engine) thresholdsFor(level Level) ThresholdPair {
	if pair, ok := e.config.Thresholds[level]; ok {
		return pair
	}
	return e.config.Thresholds[MinLevel]
}

// CurrentLevel returns the active quality level.
func (e *Engine) CurrentLevel() Level {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// LastTrigger returns the reason recorded for the most recent change,
// or TriggerNone before any change.
func (e *Engine) LastTrigger() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTrigger
}

// History returns a copy of the bounded change log, oldest first.
func (e *Engine) History() []Change {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Change, len(e.history))
	copy(out, e.history)
	return out
}

// CurrentThresholds returns the throughput pair governing the active
// level, for display and diagnostics.
func (e *Engine) CurrentThresholds() ThresholdPair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholdsFor(e.current)
}
