// Package metrics owns the Prometheus registry and the counters the access engine
// records. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "humaniq"

// Metrics groups every collector exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	liberations *prometheus.CounterVec
	completions *prometheus.CounterVec
	invites     *prometheus.CounterVec
	swept       prometheus.Counter
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "disponibilidade",
			Name:      "decisions_total",
			Help:      "Availability decisions computed, by reason.",
		}, []string{"reason"}),
		liberations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liberacoes",
			Name:      "actions_total",
			Help:      "Administrative liberation actions applied, by action.",
		}, []string{"action"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conclusoes",
			Name:      "events_total",
			Help:      "Completion events handled, by source and outcome.",
		}, []string{"source", "outcome"}),
		invites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "convites",
			Name:      "operations_total",
			Help:      "Invitation operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "convites",
			Name:      "swept_total",
			Help:      "Overdue invitations moved to expirado by the sweeper.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status class.",
		}, []string{"route", "class"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.liberations,
		m.completions,
		m.invites,
		m.swept,
		m.requests,
		m.latency,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Decision(reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) Liberation(action string) {
	if m == nil {
		return
	}
	m.liberations.WithLabelValues(action).Inc()
}

// Completion records one completion event. outcome is "applied", "duplicate",
// "rejected" or "error".
func (m *Metrics) Completion(source, outcome string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Invite(op, outcome string) {
	if m == nil {
		return
	}
	m.invites.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// Request records one served HTTP request.
func (m *Metrics) Request(route, class string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, class).Inc()
	m.latency.WithLabelValues(route).Observe(seconds)
}
