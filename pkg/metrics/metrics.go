// Package metrics exposes client engine counters as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "based"

// Metrics holds the collectors of one client.
type Metrics struct {
	framesSent     *prometheus.CounterVec // Outbound frames by type
	framesReceived *prometheus.CounterVec // Inbound frames by type
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter

	queued  *prometheus.GaugeVec   // Buffered frames by queue
	dropped *prometheus.CounterVec // Frames dropped or rejected by queue

	observables  prometheus.Gauge
	pendingCalls prometheus.Gauge

	resyncs        prometheus.Counter
	protocolErrors prometheus.Counter
	connected      prometheus.Gauge
	connects       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg
// disables metrics and returns nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "frames_sent_total",
			Help:      "Frames written to the connection",
		}, []string{"type"}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "frames_received_total",
			Help:      "Frames read from the connection",
		}, []string{"type"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "bytes_sent_total",
			Help:      "Frame bytes written to the connection",
		}),

		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "bytes_received_total",
			Help:      "Frame bytes read from the connection",
		}),

		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "frames",
			Help:      "Frames buffered while the connection is not open",
		}, []string{"queue"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Frames rejected or evicted by a full queue",
		}, []string{"queue"}),

		observables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "observables",
			Help:      "Active observables",
		}),

		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pending_calls",
			Help:      "Function calls awaiting a response",
		}),

		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "resyncs_total",
			Help:      "Full-value resyncs after a failed diff",
		}),

		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "protocol_errors_total",
			Help:      "Inbound frames that could not be decoded",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "open",
			Help:      "1 while the connection is open",
		}),

		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "opens_total",
			Help:      "Times the connection became open",
		}),
	}

	collectors := []prometheus.Collector{
		m.framesSent, m.framesReceived, m.bytesSent, m.bytesReceived,
		m.queued, m.dropped, m.observables, m.pendingCalls,
		m.resyncs, m.protocolErrors, m.connected, m.connects,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// FrameSent records an outbound frame.
func (m *Metrics) FrameSent(frameType string, size int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
	m.bytesSent.Add(float64(size))
}

// FrameReceived records an inbound frame.
func (m *Metrics) FrameReceived(frameType string, size int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
	m.bytesReceived.Add(float64(size))
}

// SetQueued sets the number of frames buffered in a queue.
func (m *Metrics) SetQueued(queue string, n int) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(queue).Set(float64(n))
}

// Dropped records a frame rejected or evicted by a full queue.
func (m *Metrics) Dropped(queue string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(queue).Inc()
}

// SetObservables sets the number of active observables.
func (m *Metrics) SetObservables(n int) {
	if m == nil {
		return
	}
	m.observables.Set(float64(n))
}

// SetPendingCalls sets the number of in-flight function calls.
func (m *Metrics) SetPendingCalls(n int) {
	if m == nil {
		return
	}
	m.pendingCalls.Set(float64(n))
}

// Resync records a full-value resync request.
func (m *Metrics) Resync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

// ProtocolError records an undecodable inbound frame.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// SetConnected records a connection state change.
func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.connected.Set(1)
		m.connects.Inc()
		return
	}
	m.connected.Set(0)
}
