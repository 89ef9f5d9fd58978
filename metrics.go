package msgsock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "msgsock"

// Disconnect reasons used as the "reason" label.
const (
	reasonStreamClosed = "stream_closed"
	reasonShortRead    = "short_read"
	reasonBadMagic     = "bad_magic"
	reasonEmptyPayload = "empty_payload"
	reasonTooLarge     = "too_large"
	reasonLocalClose   = "local_close"
	reasonIO           = "io"
)

// metrics holds the service collectors. A nil *metrics is valid and records
// nothing.
type metrics struct {
	connectionsAdmitted prometheus.Counter
	connectionsRejected prometheus.Counter
	activeConnections   prometheus.Gauge
	framesReceived      prometheus.Counter
	framesSent          prometheus.Counter
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
	sendFailures        prometheus.Counter
	disconnects         *prometheus.CounterVec
}

// newMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		connectionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_admitted_total",
			Help:      "Total number of client connections admitted",
		}),
		connectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of client connections rejected because one was already active",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Number of currently admitted connections (0 or 1)",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames decoded",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames written",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payload_bytes_received_total",
			Help:      "Total payload bytes decoded",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payload_bytes_sent_total",
			Help:      "Total payload bytes written",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_failures_total",
			Help:      "Total number of sends that did not complete",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Total number of terminated connections by reason",
		}, []string{"reason"}),
	}
}

func (m *metrics) admitted() {
	if m == nil {
		return
	}
	m.connectionsAdmitted.Inc()
	m.activeConnections.Set(1)
}

func (m *metrics) rejected() {
	if m == nil {
		return
	}
	m.connectionsRejected.Inc()
}

func (m *metrics) released() {
	if m == nil {
		return
	}
	m.activeConnections.Set(0)
}

func (m *metrics) received(n int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *metrics) sent(n int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *metrics) sendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *metrics) disconnected(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
}
