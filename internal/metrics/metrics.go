// internal/metrics/metrics.go
// Holds the Prometheus collectors exported by the chat server.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatrelay"

// Metrics is the set of collectors the hub and server update. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	SessionsActive    prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesPublished prometheus.Counter
	MessagesDropped   prometheus.Counter
	ErrorNotices      *prometheus.CounterVec
}

// New registers the collectors with reg. Passing prometheus.DefaultRegisterer
// twice panics, so tests should hand in their own prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently authenticated sessions",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of decoded client messages by kind",
		}, []string{"kind"}),
		MessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published on the fan-out bus",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of queued messages discarded for lagging subscribers",
		}),
		ErrorNotices: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_notices_total",
			Help:      "Total number of error notices sent to clients by code",
		}, []string{"code"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) SessionAdmitted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) Received(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.MessagesPublished.Inc()
}

// Dropped has the func() shape expected by bus.WithDropHandler.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

func (m *Metrics) ErrorNotice(code int) {
	if m == nil {
		return
	}
	m.ErrorNotices.WithLabelValues(strconv.Itoa(code)).Inc()
}
