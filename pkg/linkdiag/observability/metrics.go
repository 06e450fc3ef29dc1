// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for the link diagnostics engine.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shsakib0002/smart-noc/models"
)

// Collector bundles every metric the engine, API and sweep record. All
// methods are safe to call on a nil *Collector.
type Collector struct {
	gatherer prometheus.Gatherer

	Diagnoses         *prometheus.CounterVec
	DiagnosisDuration prometheus.Histogram
	HopProbes         *prometheus.CounterVec
	SignalGrades      *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	SweepDropped prometheus.Counter
	LinkUp       *prometheus.GaugeVec
	LinkSignal   *prometheus.GaugeVec

	Traps *prometheus.CounterVec
}

// NewCollector registers the metrics on reg, or the default registry when reg
// is nil. Registering twice on the same registry reuses the existing metrics.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	diagnoses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdiag_diagnoses_total",
		Help: "Completed diagnoses, labeled by final status.",
	}, []string{"code"}), "linkdiag_diagnoses_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkdiag_diagnosis_duration_seconds",
		Help:    "Wall-clock time of one diagnosis.",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 15, 20, 30},
	}), "linkdiag_diagnosis_duration_seconds")
	if err != nil {
		return nil, err
	}

	probes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdiag_hop_probes_total",
		Help: "Hop reachability probes, labeled by hop and probe status.",
	}, []string{"hop", "status"}), "linkdiag_hop_probes_total")
	if err != nil {
		return nil, err
	}

	grades, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdiag_signal_grades_total",
		Help: "Signal stability grades, labeled by hop and grade.",
	}, []string{"hop", "grade"}), "linkdiag_signal_grades_total")
	if err != nil {
		return nil, err
	}

	httpReqs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdiag_http_requests_total",
		Help: "HTTP requests served, labeled by route and status code.",
	}, []string{"route", "code"}), "linkdiag_http_requests_total")
	if err != nil {
		return nil, err
	}

	httpDur, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkdiag_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"route"}), "linkdiag_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkdiag_sweep_dropped_total",
		Help: "Sweep jobs dropped because the worker queue was full.",
	}), "linkdiag_sweep_dropped_total")
	if err != nil {
		return nil, err
	}

	linkUp, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkdiag_link_up",
		Help: "1 when the last sweep found the client radio reachable, else 0.",
	}, []string{"link_id"}), "linkdiag_link_up")
	if err != nil {
		return nil, err
	}

	linkSignal, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkdiag_link_signal_dbm",
		Help: "Average client radio signal from the last sweep, in dBm.",
	}, []string{"link_id"}), "linkdiag_link_signal_dbm")
	if err != nil {
		return nil, err
	}

	traps, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdiag_traps_total",
		Help: "SNMP notifications received, labeled by notification and the action taken.",
	}, []string{"trap", "action"}), "linkdiag_traps_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		Diagnoses:         diagnoses,
		DiagnosisDuration: duration,
		HopProbes:         probes,
		SignalGrades:      grades,
		HTTPRequests:      httpReqs,
		HTTPDurations:     httpDur,
		SweepDropped:      dropped,
		LinkUp:            linkUp,
		LinkSignal:        linkSignal,
		Traps:             traps,
	}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveDiagnosis records one finished diagnosis.
func (c *Collector) ObserveDiagnosis(code models.DiagnosisCode, took time.Duration) {
	if c == nil {
		return
	}
	c.Diagnoses.WithLabelValues(code.String()).Inc()
	c.DiagnosisDuration.Observe(took.Seconds())
}

// ObserveHop records the probe status and signal grade of one hop.
func (c *Collector) ObserveHop(h models.HopHealth) {
	if c == nil {
		return
	}
	hop := h.Target.Label.Key()
	c.HopProbes.WithLabelValues(hop, string(h.Probe.Status)).Inc()
	c.SignalGrades.WithLabelValues(hop, string(h.Grade())).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(route string, status int, took time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.HTTPDurations.WithLabelValues(route).Observe(took.Seconds())
}

// IncSweepDropped counts one job the sweep could not queue.
func (c *Collector) IncSweepDropped() {
	if c == nil {
		return
	}
	c.SweepDropped.Inc()
}

// SetLinkState publishes the per-link gauges from a sweep result. The signal
// gauge is removed when the last sweep had no reading.
func (c *Collector) SetLinkState(d models.Diagnosis) {
	if c == nil || d.LinkID == "" {
		return
	}
	client := d.Hop(models.ClientRadio)
	up := 0.0
	if client.Answered() {
		up = 1
	}
	c.LinkUp.WithLabelValues(d.LinkID).Set(up)

	if client.Signal != nil && client.Signal.AverageDbm != nil {
		c.LinkSignal.WithLabelValues(d.LinkID).Set(*client.Signal.AverageDbm)
	} else {
		c.LinkSignal.DeleteLabelValues(d.LinkID)
	}
}

// ObserveTrap counts one notification and what was done with it.
func (c *Collector) ObserveTrap(trap, action string) {
	if c == nil {
		return
	}
	c.Traps.WithLabelValues(trap, action).Inc()
}

// ResetLinks drops every per-link gauge, used when the inventory is reloaded.
func (c *Collector) ResetLinks() {
	if c == nil {
		return
	}
	c.LinkUp.Reset()
	c.LinkSignal.Reset()
}

// ─────────────────────────────────────────────────────────────────────────────
// Registration helpers
// ─────────────────────────────────────────────────────────────────────────────

func alreadyRegistered[T prometheus.Collector](err error, name string) (T, error) {
	var zero T
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		return zero, fmt.Errorf("observability: collector %s already registered with incompatible type", name)
	}
	return zero, err
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.CounterVec](err, name)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.HistogramVec](err, name)
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.GaugeVec](err, name)
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		return alreadyRegistered[prometheus.Histogram](err, name)
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		return alreadyRegistered[prometheus.Counter](err, name)
	}
	return c, nil
}
