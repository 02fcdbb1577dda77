// Package metrics exposes Prometheus collectors for the allocation engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockpick/internal/domain/allocation"
)

const namespace = "stockpick"

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Allocation metrics
	DemandsAllocated       *prometheus.CounterVec
	UnitsAllocated         prometheus.Counter
	ReservationTransitions *prometheus.CounterVec
	UnitsPicked            prometheus.Counter
	UnitsShortPicked       prometheus.Counter

	// Outbox metrics
	EventsPublished *prometheus.CounterVec
}

var _ allocation.Observer = (*Metrics)(nil)

// New creates and registers all collectors on a private registry.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: constLabels,
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: constLabels,
		},
	)

	m.DemandsAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "demands_allocated_total",
			Help:        "Demands processed by the allocator, by outcome",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	m.UnitsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "units_allocated_total",
			Help:        "Units reserved or confirmed by allocation calls",
			ConstLabels: constLabels,
		},
	)

	m.ReservationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reservation_transitions_total",
			Help:        "Reservations moved to a terminal status",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)

	m.UnitsPicked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "units_picked_total",
			Help:        "Units confirmed as physically picked",
			ConstLabels: constLabels,
		},
	)

	m.UnitsShortPicked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "units_short_picked_total",
			Help:        "Reserved units not picked on completion",
			ConstLabels: constLabels,
		},
	)

	m.EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_published_total",
			Help:        "Outbox events delivered to the broker",
			ConstLabels: constLabels,
		},
		[]string{"event_type", "status"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DemandsAllocated,
		m.UnitsAllocated,
		m.ReservationTransitions,
		m.UnitsPicked,
		m.UnitsShortPicked,
		m.EventsPublished,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// DemandAllocated implements allocation.Observer.
func (m *Metrics) DemandAllocated(outcome allocation.Outcome, units int) {
	m.DemandsAllocated.WithLabelValues(string(outcome)).Inc()
	if outcome != allocation.OutcomeExisting {
		m.UnitsAllocated.Add(float64(units))
	}
}

// ReservationsTransitioned implements allocation.Observer.
func (m *Metrics) ReservationsTransitioned(status string, count int) {
	if count <= 0 {
		return
	}
	m.ReservationTransitions.WithLabelValues(status).Add(float64(count))
}

// PickConfirmed implements allocation.Observer.
func (m *Metrics) PickConfirmed(units, shortfall int) {
	m.UnitsPicked.Add(float64(units))
	if shortfall > 0 {
		m.UnitsShortPicked.Add(float64(shortfall))
	}
}

// EventPublished records one broker delivery attempt.
func (m *Metrics) EventPublished(eventType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, status).Inc()
}
