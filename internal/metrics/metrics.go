// Package metrics exposes Prometheus collectors for allocation and audit
// activity.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the control plane's metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Allocations *prometheus.CounterVec // kind=subnet|address, outcome=new|reused
	Exhaustions *prometheus.CounterVec // kind
	Retries     prometheus.Counter
	Events      *prometheus.CounterVec // type
	Transitions *prometheus.CounterVec // kind, status
	Queued      *prometheus.GaugeVec   // kind
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	allocations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneplane_allocations_total",
		Help: "Subnets and addresses handed out, by kind and whether a released record was reused.",
	}, []string{"kind", "outcome"}), "zoneplane_allocations_total")
	if err != nil {
		return nil, err
	}
	exhaustions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneplane_exhaustions_total",
		Help: "Allocations that failed because the pool or zone ran out of space.",
	}, []string{"kind"}), "zoneplane_exhaustions_total")
	if err != nil {
		return nil, err
	}
	retries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoneplane_allocation_retries_total",
		Help: "Allocations retried after a uniqueness conflict.",
	}), "zoneplane_allocation_retries_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneplane_events_total",
		Help: "Audit events committed, by event type.",
	}, []string{"type"}), "zoneplane_events_total")
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneplane_lifecycle_transitions_total",
		Help: "Lifecycle status changes, by resource kind and new status.",
	}, []string{"kind", "status"}), "zoneplane_lifecycle_transitions_total")
	if err != nil {
		return nil, err
	}
	queued, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zoneplane_queued_resources",
		Help: "Resources waiting for the reconciler, sampled by the converger.",
	}, []string{"kind"}), "zoneplane_queued_resources")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:    gatherer,
		Allocations: allocations,
		Exhaustions: exhaustions,
		Retries:     retries,
		Events:      events,
		Transitions: transitions,
		Queued:      queued,
	}, nil
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) Allocated(kind string, reused bool) {
	if c == nil {
		return
	}
	outcome := "new"
	if reused {
		outcome = "reused"
	}
	c.Allocations.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) Exhausted(kind string) {
	if c == nil {
		return
	}
	c.Exhaustions.WithLabelValues(kind).Inc()
}

func (c *Collector) Retried() {
	if c == nil {
		return
	}
	c.Retries.Inc()
}

func (c *Collector) EventRecorded(typ string) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(typ).Inc()
}

func (c *Collector) Transitioned(kind, status string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(kind, status).Inc()
}

// SetQueued records the backlog for one kind.
func (c *Collector) SetQueued(kind string, n int) {
	if c == nil {
		return
	}
	c.Queued.WithLabelValues(kind).Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}
