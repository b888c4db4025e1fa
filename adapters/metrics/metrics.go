// Package metrics provides Prometheus metrics collection for usagebill.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

const namespace = "usagebill"

// Collector holds all Prometheus metrics for usagebill.
type Collector struct {
	// Draft pipeline
	DraftRequests   *prometheus.CounterVec
	DraftDuration   prometheus.Histogram
	ComponentsTotal prometheus.Counter
	EventsTotal     *prometheus.CounterVec
	PlanCacheHits   prometheus.Counter
	PlanCacheMisses prometheus.Counter

	// HTTP
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuthFailures        *prometheus.CounterVec

	// Config
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		DraftRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "draft_requests_total",
				Help:      "Draft invoice computations by result",
			},
			[]string{"result"},
		),
		DraftDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "draft_duration_seconds",
				Help:      "Draft invoice computation time in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		ComponentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_priced_total",
				Help:      "Plan components priced across all drafts",
			},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_aggregated_total",
				Help:      "Events read while aggregating metrics",
			},
			[]string{"aggregation"},
		),
		PlanCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_cache_hits_total",
				Help:      "Plan version cache hits",
			},
		),
		PlanCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_cache_misses_total",
				Help:      "Plan version cache misses",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "API key authentication failures",
			},
			[]string{"reason"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Failed config reloads",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// DraftCompleted records one draft computation.
func (c *Collector) DraftCompleted(result string, elapsed time.Duration) {
	c.DraftRequests.WithLabelValues(result).Inc()
	c.DraftDuration.Observe(elapsed.Seconds())
}

// ComponentsPriced adds n priced components.
func (c *Collector) ComponentsPriced(n int) {
	c.ComponentsTotal.Add(float64(n))
}

// EventsAggregated adds n events read for an aggregation kind.
func (c *Collector) EventsAggregated(aggregation usage.Aggregation, n int) {
	c.EventsTotal.WithLabelValues(string(aggregation)).Add(float64(n))
}

// PlanCacheLookup counts a cache hit or miss.
func (c *Collector) PlanCacheLookup(hit bool) {
	if hit {
		c.PlanCacheHits.Inc()
		return
	}
	c.PlanCacheMisses.Inc()
}

// ConfigReloaded records a reload attempt.
func (c *Collector) ConfigReloaded(err error, at time.Time) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

var _ ports.MetricsRecorder = (*Collector)(nil)
