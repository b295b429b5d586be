package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
)

const namespace = "stoppuhr"

// Outcome label values for successful events.
const (
	OutcomeOK = "ok"
)

// Metrics groups the collectors of one router process.
type Metrics struct {
	registry *prometheus.Registry

	presses          *prometheus.CounterVec
	assignments      *prometheus.CounterVec
	startCardFetches *prometheus.CounterVec
	boundLanes       prometheus.Gauge
	pendingLanes     prometheus.Gauge
	devices          prometheus.Gauge
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		presses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presses_total",
			Help:      "Taster presses by routing outcome.",
		}, []string{"outcome"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_operations_total",
			Help:      "Assignment operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		startCardFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startcard_fetches_total",
			Help:      "Start card refreshes by outcome.",
		}, []string{"outcome"}),
		boundLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lanes_active",
			Help:      "Lanes with an active taster.",
		}),
		pendingLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lanes_pending",
			Help:      "Lanes with a pending taster.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_known",
			Help:      "Tasters known to the registry.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.presses,
		m.assignments,
		m.startCardFetches,
		m.boundLanes,
		m.pendingLanes,
		m.devices,
	)

	return m
}

// ObservePress counts a routed or rejected press.
func (m *Metrics) ObservePress(press *timing.Press) {
	if m == nil {
		return
	}

	m.presses.WithLabelValues(outcome(press.Err)).Inc()
}

// ObserveAssignment counts an assign, unassign or confirm operation.
func (m *Metrics) ObserveAssignment(operation string, err error) {
	if m == nil {
		return
	}

	m.assignments.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveStartCardFetch counts a start card refresh.
func (m *Metrics) ObserveStartCardFetch(err error) {
	if m == nil {
		return
	}

	m.startCardFetches.WithLabelValues(outcome(err)).Inc()
}

// SetLanes updates the lane gauges from a table snapshot.
func (m *Metrics) SetLanes(states []timing.LaneState) {
	if m == nil {
		return
	}

	var active, pending int

	for _, state := range states {
		if _, ok := state.Active(); ok {
			active++
		}

		if _, ok := state.Pending(); ok {
			pending++
		}
	}

	m.boundLanes.Set(float64(active))
	m.pendingLanes.Set(float64(pending))
}

// SetDevices updates the known device gauge.
func (m *Metrics) SetDevices(n int) {
	if m == nil {
		return
	}

	m.devices.Set(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// outcome maps err to a label value.
func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}

	return string(timing.KindOf(err))
}
