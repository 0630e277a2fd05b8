package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "relaychat"

// Metrics holds the Prometheus collectors of one Server. Each server has its
// own registry so several can coexist in a process. A nil *Metrics records
// nothing.
type Metrics struct {
	registry          *prometheus.Registry
	accepted          *prometheus.CounterVec
	relayed           prometheus.Counter
	delivered         prometheus.Counter
	droppedRecipients prometheus.Counter
	rateLimited       prometheus.Counter
}

// NewMetrics creates and registers the collectors for s.
func NewMetrics(s *Server) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Clients admitted, by transport.",
		}, []string{"transport"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lines_relayed_total",
			Help:      "Chat lines received and fanned out.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lines_delivered_total",
			Help:      "Lines written to clients, greetings included.",
		}),
		droppedRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slow_clients_dropped_total",
			Help:      "Clients disconnected because a write to them missed the write deadline.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lines_rate_limited_total",
			Help:      "Lines discarded by the per-connection rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.accepted,
		m.relayed,
		m.delivered,
		m.droppedRecipients,
		m.rateLimited,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_clients",
			Help:      "Clients currently registered.",
		}, func() float64 { return float64(s.registry.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "history_entries",
			Help:      "Entries held in the relay history.",
		}, func() float64 { return float64(s.history.Size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "log_queue_depth",
			Help:      "Event log records waiting to be written.",
		}, func() float64 { return float64(s.logger.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_records_dropped_total",
			Help:      "Event log records discarded because the queue was full.",
		}, func() float64 { return float64(s.logger.Dropped()) }),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordAccepted counts an admitted client by transport.
func (m *Metrics) RecordAccepted(kind TransportKind) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(string(kind)).Inc()
}

// RecordRelayed counts a line accepted for relay.
func (m *Metrics) RecordRelayed() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

// RecordDelivered counts lines written to a client.
func (m *Metrics) RecordDelivered(n int) {
	if m == nil {
		return
	}
	m.delivered.Add(float64(n))
}

// RecordDroppedRecipient counts a client disconnected because a write stalled.
func (m *Metrics) RecordDroppedRecipient() {
	if m == nil {
		return
	}
	m.droppedRecipients.Inc()
}

// RecordRateLimited counts a line discarded by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
