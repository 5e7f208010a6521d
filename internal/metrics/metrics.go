// Package metrics exposes Prometheus metrics for the API server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what handlers, the provider router and workers report to.
type Recorder interface {
	RecordHTTPRequest(route, method string, status int, duration time.Duration)
	RecordProviderCall(provider, outcome string, duration time.Duration)
	RecordFallback(from, to string)
	RecordPersistFailure(stage string)
}

type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_provider_calls_total",
			Help: "Upstream model calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_provider_call_duration_seconds",
			Help:    "Upstream model call latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_fallback_substitutions_total",
			Help: "Requests served by the fallback provider after a safety rejection.",
		}, []string{"from", "to"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_persist_failures_total",
			Help: "Best-effort content persistence failures by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.providerCalls,
		c.providerLatency,
		c.fallbacks,
		c.persistFailures,
	)

	return c
}

func (c *Collector) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) RecordProviderCall(provider, outcome string, duration time.Duration) {
	c.providerCalls.WithLabelValues(provider, outcome).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

func (c *Collector) RecordFallback(from, to string) {
	c.fallbacks.WithLabelValues(from, to).Inc()
}

// RecordPersistFailure counts a failed enqueue or insert of a generated content record.
func (c *Collector) RecordPersistFailure(stage string) {
	c.persistFailures.WithLabelValues(stage).Inc()
}

// Handler serves the registry for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. It is used where metrics are not wired, such as tests.
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordProviderCall(string, string, time.Duration)     {}
func (Nop) RecordFallback(string, string)                        {}
func (Nop) RecordPersistFailure(string)                          {}
