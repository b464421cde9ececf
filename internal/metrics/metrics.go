// Package metrics records engine activity as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/provider"
	"market-sentinel/internal/signal"
)

// Recorder implements the provider and dispatcher observers using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	evaluationErrors *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	stateRecords     prometheus.Gauge
}

// New registers the collectors on a fresh registry under namespace.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = "sentinel"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Provider fetch attempts by outcome.",
			},
			[]string{"provider", "result"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider fetch attempts.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_fallbacks_total",
				Help:      "Requests retried against the secondary provider.",
			},
			[]string{"primary", "secondary"},
		),
		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Candidate events by level and dispatch outcome.",
			},
			[]string{"level", "outcome"},
		),
		evaluationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_errors_total",
				Help:      "Evaluations that produced no event.",
			},
			[]string{"indicator", "reason"},
		),
		cycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of one evaluation cycle.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"job"},
		),
		stateRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_records",
			Help:      "Signal keys tracked by the alert state store.",
		}),
	}
}

// ProviderCall records one attempt; an empty kind is a success.
func (r *Recorder) ProviderCall(name string, kind provider.Kind, elapsed time.Duration) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	r.providerCalls.WithLabelValues(name, result).Inc()
	r.providerLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Fallback records a retry against the secondary.
func (r *Recorder) Fallback(primary, secondary string) {
	r.fallbacks.WithLabelValues(primary, secondary).Inc()
}

// Dispatched records the dispatcher decision.
func (r *Recorder) Dispatched(ev signal.Event, outcome alerting.Outcome) {
	r.dispatches.WithLabelValues(string(ev.Level), string(outcome)).Inc()
}

// EvaluationFailed records an evaluation that produced no event.
func (r *Recorder) EvaluationFailed(indicator, reason string) {
	r.evaluationErrors.WithLabelValues(indicator, reason).Inc()
}

// ObserveCycle records the duration of a scheduled job run.
func (r *Recorder) ObserveCycle(job string, elapsed time.Duration) {
	r.cycleDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// SetStateRecords reports the state store size.
func (r *Recorder) SetStateRecords(n int) {
	r.stateRecords.Set(float64(n))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var (
	_ provider.Observer         = (*Recorder)(nil)
	_ alerting.DispatchObserver = (*Recorder)(nil)
)
