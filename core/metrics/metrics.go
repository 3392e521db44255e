// Package metrics exposes prometheus collectors for the sync core.
//
// Every method is safe on a nil *Metrics so components can be built without
// instrumentation in tests and tools.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ironpad"

// Watcher outcomes.
const (
	OutcomeEmitted    = "emitted"
	OutcomeSuppressed = "suppressed"
	OutcomeFiltered   = "filtered"
)

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeNoChanges = "no_changes"
	OutcomeFailed    = "failed"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	gatherer prometheus.Gatherer

	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	sessionsActive  prometheus.Gauge
	locksHeld       prometheus.Gauge
	watcherEvents   *prometheus.CounterVec
	commits         *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.gatherer = reg
	return m
}

// NewWithRegisterer registers the collectors on reg. Handler falls back to the
// default gatherer when reg is not also a prometheus.Gatherer.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_published_total",
			Help:      "Change events published to the notification hub.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Change events dropped for lagging subscribers.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connected client sessions.",
		}),
		locksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locks_held",
			Help:      "Advisory file locks currently held.",
		}),
		watcherEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Filesystem events seen by the watcher, by outcome.",
		}, []string{"outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "git",
			Name:      "commits_total",
			Help:      "Commit attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.eventsPublished,
		m.eventsDropped,
		m.sessionsActive,
		m.locksHeld,
		m.watcherEvents,
		m.commits,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registered collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SetLocksHeld records the current size of the lock table.
func (m *Metrics) SetLocksHeld(n int) {
	if m == nil {
		return
	}
	m.locksHeld.Set(float64(n))
}

func (m *Metrics) WatcherEvent(outcome string) {
	if m == nil {
		return
	}
	m.watcherEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Commit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}
