// Package metrics exposes the service's prometheus collectors.
// Every method is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "identity"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheStores    prometheus.Counter
	resolverHits   *prometheus.CounterVec
	remoteCalls    *prometheus.CounterVec
}

// New registers all collectors plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "account_cache",
			Name:      "lookups_total",
			Help:      "Account cache lookups by result (hit, miss).",
		}, []string{"result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "account_cache",
			Name:      "evictions_total",
			Help:      "Explicit account cache evictions by reason.",
		}, []string{"reason"}),
		cacheStores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "account_cache",
			Name:      "stores_total",
			Help:      "Principals stored in the account cache.",
		}),
		resolverHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "strategy_hits_total",
			Help:      "Group searches answered per fallback strategy.",
		}, []string{"strategy"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Outbound identity backend calls by backend, operation and outcome.",
		}, []string{"backend", "operation", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheLookups,
		m.cacheEvictions,
		m.cacheStores,
		m.resolverHits,
		m.remoteCalls,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheStore() {
	if m == nil {
		return
	}
	m.cacheStores.Inc()
}

func (m *Metrics) CacheEviction(reason string) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ResolverHit(strategy string) {
	if m == nil {
		return
	}
	m.resolverHits.WithLabelValues(strategy).Inc()
}

// RemoteCall records one outbound call; err == nil counts as success.
func (m *Metrics) RemoteCall(backend, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.remoteCalls.WithLabelValues(backend, operation, outcome).Inc()
}
