// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking assignment outcomes.
const (
	OutcomeExplicit   = "assigned_explicit"
	OutcomeAuto       = "auto_assigned"
	OutcomeUnassigned = "unassigned"
	OutcomeRejected   = "rejected"
)

// Metrics is safe to use through a nil pointer; every recorder is then a
// no-op, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	bookingOutcomes *prometheus.CounterVec
	slotConflicts   prometheus.Counter
	completions     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinic_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		bookingOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_booking_outcomes_total",
				Help: "Booking requests by assignment outcome",
			},
			[]string{"outcome"},
		),
		slotConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clinic_slot_conflicts_total",
				Help: "Availability writes rejected for overlapping an existing slot",
			},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_booking_completions_total",
				Help: "Bookings transitioned to completed",
			},
			[]string{"rated"},
		),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.bookingOutcomes,
		m.slotConflicts,
		m.completions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) BookingOutcome(outcome string) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *Metrics) Completion(rated bool) {
	if m == nil {
		return
	}
	label := "false"
	if rated {
		label = "true"
	}
	m.completions.WithLabelValues(label).Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
