// Package metrics provides Prometheus metrics for the read-model engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "ledgerview"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Gateway metrics
	ReadAttempts *prometheus.CounterVec
	Writes       *prometheus.CounterVec
	RPCLatency   *prometheus.HistogramVec

	// Aggregation metrics
	CacheLookups *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
	Aggregations *prometheus.CounterVec

	// Store metrics
	Events      *prometheus.CounterVec
	LiveTicks   *prometheus.CounterVec
	Subscribers prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ReadAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "read_attempts_total",
			Help:      "Ledger read attempts by method and outcome",
		}, []string{"method", "outcome"}),
		Writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "writes_total",
			Help:      "Ledger writes by method and outcome",
		}, []string{"method", "outcome"}),
		RPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rpc_duration_seconds",
			Help:      "Ledger call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "cache_lookups_total",
			Help:      "View model cache lookups by domain and result",
		}, []string{"domain", "result"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "fallback_fragments_total",
			Help:      "Fallback fragments substituted for failed reads",
		}, []string{"domain", "read"}),
		Aggregations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "passes_total",
			Help:      "Aggregation passes by domain and source",
		}, []string{"domain", "source"}),

		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "ledger_events_total",
			Help:      "Ledger events folded into the store",
		}, []string{"event"}),
		LiveTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "live_ticks_total",
			Help:      "Live mode ticks by outcome",
		}, []string{"outcome"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "ws_subscribers",
			Help:      "Connected snapshot subscribers",
		}),
	}
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRead(method, outcome string) {
	if m == nil {
		return
	}
	m.ReadAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveWrite(method, outcome string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCLatency.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) ObserveCache(domain string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(domain, result).Inc()
}

func (m *Metrics) ObserveFallback(domain, read string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(domain, read).Inc()
}

func (m *Metrics) ObserveAggregation(domain, source string) {
	if m == nil {
		return
	}
	m.Aggregations.WithLabelValues(domain, source).Inc()
}

func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveLiveTick(outcome string) {
	if m == nil {
		return
	}
	m.LiveTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}
