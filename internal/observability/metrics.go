// Package observability exposes the Prometheus counters of the build pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events   *prometheus.CounterVec
	leases   *prometheus.CounterVec
	logFetch *prometheus.CounterVec
	analyses *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_events_total",
		Help: "Build events by ingestion outcome.",
	}, []string{"outcome"})
	leases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_leases_total",
		Help: "Processing leases by state transition.",
	}, []string{"state"})
	logFetch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_log_fetch_total",
		Help: "Log retrievals by outcome.",
	}, []string{"outcome"})
	analyses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_analyses_total",
		Help: "Finished analyses by severity.",
	}, []string{"severity"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildwatch_failures_total",
		Help: "Recorded pipeline failures by kind.",
	}, []string{"kind"})

	return &Metrics{
		events:   registerCounterVec(registerer, events),
		leases:   registerCounterVec(registerer, leases),
		logFetch: registerCounterVec(registerer, logFetch),
		analyses: registerCounterVec(registerer, analyses),
		failures: registerCounterVec(registerer, failures),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific gatherer, such as a test registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEvent(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLease(state string) {
	if m == nil {
		return
	}
	m.leases.WithLabelValues(state).Inc()
}

func (m *Metrics) IncLogFetch(outcome string) {
	if m == nil {
		return
	}
	m.logFetch.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAnalysis(severity string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(severity).Inc()
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}
