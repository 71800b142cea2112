// Package metrics exposes the application's Prometheus series.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultHit  = "hit"
	ResultMiss = "miss"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector holds all series on a private registry, so several instances
// (one per test) never collide. A nil *Collector ignores every observation.
type Collector struct {
	registry *prometheus.Registry

	cacheRequests     *prometheus.CounterVec
	upstreamRequests  *prometheus.CounterVec
	favoriteMutations *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewCollector creates the series under namespace and registers them
// together with the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	cacheRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	upstreamRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Weather provider calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	favoriteMutations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "favorites_mutations_total",
			Help:      "Favorites list mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	registry.MustRegister(
		cacheRequests,
		upstreamRequests,
		favoriteMutations,
		httpRequests,
		httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry:          registry,
		cacheRequests:     cacheRequests,
		upstreamRequests:  upstreamRequests,
		favoriteMutations: favoriteMutations,
		httpRequests:      httpRequests,
		httpDuration:      httpDuration,
	}
}

// ObserveCache records one lookup against a cache tier.
func (c *Collector) ObserveCache(tier string, hit bool) {
	if c == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	c.cacheRequests.WithLabelValues(tier, result).Inc()
}

// ObserveUpstream records one weather provider call.
func (c *Collector) ObserveUpstream(operation, outcome string) {
	if c == nil {
		return
	}
	c.upstreamRequests.WithLabelValues(operation, outcome).Inc()
}

// ObserveFavorites records one favorites mutation.
func (c *Collector) ObserveFavorites(operation string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.favoriteMutations.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
