// Package metrics exposes recorder counters on a dedicated Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webtestflow_recorder"

type Metrics struct {
	registry       *prometheus.Registry
	activeSessions prometheus.Gauge
	sessions       *prometheus.CounterVec
	events         *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	injections     *prometheus.CounterVec
	reinjections   *prometheus.CounterVec
	closures       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Recording sessions currently registered.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Recording sessions by final outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events appended to sessions by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Event payloads rejected by the ingestion gateway.",
		}, []string{"reason"}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injections_total",
			Help:      "Injection runs by winning strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		reinjections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinjections_total",
			Help:      "Supervisor-triggered reinjections by cause.",
		}, []string{"reason"}),
		closures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_closures_total",
			Help:      "Sessions finalized because the browser went away.",
		}),
	}
	m.registry.MustRegister(
		m.activeSessions, m.sessions, m.events, m.rejected,
		m.injections, m.reinjections, m.closures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SessionFinished counts a session by outcome: completed, error or closed.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) InjectionFinished(strategy string, ok bool) {
	if m == nil {
		return
	}
	outcome := "verified"
	if !ok {
		outcome = "exhausted"
		strategy = "none"
	}
	m.injections.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) Reinjected(reason string) {
	if m == nil {
		return
	}
	m.reinjections.WithLabelValues(reason).Inc()
}

func (m *Metrics) BrowserClosed() {
	if m == nil {
		return
	}
	m.closures.Inc()
}
