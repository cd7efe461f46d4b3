// Package metrics exposes Prometheus instrumentation for the streaming
// server and client, plus an optional HTTP endpoint serving the
// standard exposition format and a health check.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// StreamMetrics is the instrument set shared by server and client
// components. Instruments that don't apply to a given role simply stay
// at zero.
type StreamMetrics struct {
	// Server-side delivery.
	PacketsSent    *prometheus.CounterVec // by level
	BytesSent      *prometheus.CounterVec // by level
	SendErrors     prometheus.Counter
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Client-side reception.
	PacketsReceived     prometheus.Counter
	BytesReceived       prometheus.Counter
	FramesDelivered     prometheus.Counter
	ReassemblyEvictions prometheus.Counter

	// Adaptation.
	LevelChanges *prometheus.CounterVec // by trigger
	CurrentLevel prometheus.Gauge
}

// New creates the instrument set and registers it, along with the
// standard Go runtime collectors, on the given registry.
func New(registry *prometheus.Registry) *StreamMetrics {
	m := &StreamMetrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "packets_sent_total",
			Help:      "Video datagrams transmitted, by quality level.",
		}, []string{"level"}),

		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "bytes_sent_total",
			Help:      "Video payload bytes transmitted, by quality level.",
		}, []string{"level"}),

		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "send_errors_total",
			Help:      "Datagram send failures (logged and tolerated).",
		}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcast",
			Name:      "active_sessions",
			Help:      "Client sessions currently registered.",
		}),

		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "sessions_total",
			Help:      "Client sessions registered since start.",
		}),

		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "packets_received_total",
			Help:      "Video datagrams received.",
		}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "bytes_received_total",
			Help:      "Video datagram bytes received.",
		}),

		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "frames_delivered_total",
			Help:      "Complete frames handed to the decode collaborator.",
		}),

		ReassemblyEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "reassembly_evictions_total",
			Help:      "Incomplete fragment sets evicted by age.",
		}),

		LevelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcast",
			Name:      "level_changes_total",
			Help:      "Quality level transitions, by trigger reason.",
		}, []string{"trigger"}),

		CurrentLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcast",
			Name:      "current_level",
			Help:      "Active quality level as a ladder index (0 = lowest).",
		}),
	}

	registry.MustRegister(
		m.PacketsSent,
		m.BytesSent,
		m.SendErrors,
		m.ActiveSessions,
		m.SessionsTotal,
		m.PacketsReceived,
		m.BytesReceived,
		m.FramesDelivered,
		m.ReassemblyEvictions,
		m.LevelChanges,
		m.CurrentLevel,
		collectors.NewGoCollector(),
	)

	return m
}
