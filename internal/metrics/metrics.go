// Package metrics holds the Prometheus collectors shared by the webhook
// gateway, the ordering engine and the outbound dispatcher. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderbot"

// Metrics is the set of orderbot collectors.
type Metrics struct {
	registry *prometheus.Registry

	Deliveries  *prometheus.CounterVec
	Events      *prometheus.CounterVec
	Conflicts   prometheus.Counter
	Sends       *prometheus.CounterVec
	Orders      *prometheus.CounterVec
	AckTimeouts prometheus.Counter
	QueueDepth  prometheus.Gauge
	JanitorRuns *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Inbound webhook events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Normalized chat events processed by outcome.",
		}, []string{"outcome"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_conflicts_total",
			Help:      "Session version conflicts that forced a reload.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound message attempts by provider and result.",
		}, []string{"provider", "result"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order submissions by outcome.",
		}, []string{"outcome"}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_ack_budget_exceeded_total",
			Help:      "Webhook requests answered before processing finished.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "webhook_queued_events",
			Help:      "Events waiting in per-sender queues.",
		}),
		JanitorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_runs_total",
			Help:      "Maintenance job runs by job and result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(
		m.Deliveries, m.Events, m.Conflicts, m.Sends, m.Orders, m.AckTimeouts, m.QueueDepth, m.JanitorRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
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

// Delivery counts one inbound webhook event.
func (m *Metrics) Delivery(provider, outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(provider, outcome).Inc()
	}
}

// Event counts one processed chat event.
func (m *Metrics) Event(outcome string) {
	if m != nil {
		m.Events.WithLabelValues(outcome).Inc()
	}
}

// Conflict counts one session version conflict.
func (m *Metrics) Conflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

// Send counts one outbound attempt.
func (m *Metrics) Send(provider, result string) {
	if m != nil {
		m.Sends.WithLabelValues(provider, result).Inc()
	}
}

// Order counts one order submission.
func (m *Metrics) Order(outcome string) {
	if m != nil {
		m.Orders.WithLabelValues(outcome).Inc()
	}
}

// AckTimeout counts a webhook answered before its events finished.
func (m *Metrics) AckTimeout() {
	if m != nil {
		m.AckTimeouts.Inc()
	}
}

// QueueAdd moves the queued-events gauge by delta.
func (m *Metrics) QueueAdd(delta float64) {
	if m != nil {
		m.QueueDepth.Add(delta)
	}
}

// JanitorRun counts one maintenance job run.
func (m *Metrics) JanitorRun(job, result string) {
	if m != nil {
		m.JanitorRuns.WithLabelValues(job, result).Inc()
	}
}
