package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeHit   = "hit"
	outcomeMiss  = "miss"
	outcomeError = "error"
)

type metrics struct {
	requests     *prometheus.CounterVec
	servedBytes  prometheus.Counter
	fetchedBytes prometheus.Counter
	inserts      prometheus.Counter
	evictions    prometheus.Counter
	cacheBytes   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webproxy",
			Name:      "requests_total",
			Help:      "Requests handled, labeled by outcome (hit, miss, error).",
		}, []string{"outcome"}),
		servedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webproxy",
			Name:      "cache_served_bytes_total",
			Help:      "Payload bytes served from the cache.",
		}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webproxy",
			Name:      "upstream_fetched_bytes_total",
			Help:      "Response bytes read from origin servers.",
		}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webproxy",
			Name:      "cache_inserts_total",
			Help:      "Objects stored in the cache.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webproxy",
			Name:      "cache_evictions_total",
			Help:      "Objects evicted to make room for new ones.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webproxy",
			Name:      "cache_bytes",
			Help:      "Payload bytes currently held by the cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.servedBytes, m.fetchedBytes,
			m.inserts, m.evictions, m.cacheBytes)
	}
	return m
}
