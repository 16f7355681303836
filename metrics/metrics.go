// Package metrics exposes Prometheus metrics for workflow transitions,
// delegation and the HTTP API.
//
// All Record methods are safe to call on a nil *Collector, so components
// can take an optional collector without guarding every call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "hitlflow"

// Collector owns a private registry and the workflow metrics.
type Collector struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	delegations        *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec
	enrichments        *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry. Go runtime and
// process collectors are registered alongside the workflow metrics.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow checkpoints applied, by status and decision",
		},
		[]string{"status", "decision"},
	)
	c.delegations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Delegate calls, by role and result",
		},
		[]string{"role", "result"},
	)
	c.delegationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_duration_seconds",
			Help:      "Duration of delegate calls including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"role"},
	)
	c.enrichments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Issue tracker lookups, by result",
		},
		[]string{"result"},
	)
	c.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Session store failures, by operation",
		},
		[]string{"op"},
	)
	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, by route, method and status code",
		},
		[]string{"route", "method", "code"},
	)
	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.transitions,
		c.delegations,
		c.delegationDuration,
		c.enrichments,
		c.storeErrors,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordTransition counts an applied checkpoint.
func (c *Collector) RecordTransition(status, decision string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(status, decision).Inc()
}

// RecordDelegation counts a delegate call and observes its duration.
// result is "ok" or a delegation failure kind.
func (c *Collector) RecordDelegation(role, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.delegations.WithLabelValues(role, result).Inc()
	c.delegationDuration.WithLabelValues(role).Observe(d.Seconds())
}

// RecordEnrichment counts a tracker lookup.
func (c *Collector) RecordEnrichment(result string) {
	if c == nil {
		return
	}
	c.enrichments.WithLabelValues(result).Inc()
}

// RecordStoreError counts a session store failure.
func (c *Collector) RecordStoreError(op string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(op).Inc()
}

// RecordHTTPRequest counts an API request and observes its latency.
func (c *Collector) RecordHTTPRequest(route, method string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
