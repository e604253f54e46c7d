// Package prometheus exports resolver metrics to Prometheus.
package prometheus

import (
	"time"

	"github.com/hupe1980/globalid"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements globalid.MetricsCollector with Prometheus metrics.
type Collector struct {
	resolveLatency *prometheus.HistogramVec
	resolves       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	matchLatency   prometheus.Histogram
	matchScore     prometheus.Histogram
	matches        *prometheus.CounterVec
	allocations    *prometheus.CounterVec
}

var _ globalid.MetricsCollector = (*Collector)(nil)

// New creates a collector and registers its metrics with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		resolveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "globalid_resolve_latency_seconds",
			Help:    "Latency of Resolve calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "globalid_resolves_total",
			Help: "Resolve calls by outcome",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "globalid_cache_lookups_total",
			Help: "Mapping cache lookups by result",
		}, []string{"result"}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "globalid_match_latency_seconds",
			Help:    "Latency of matcher searches",
			Buckets: prometheus.DefBuckets,
		}),
		matchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "globalid_match_score",
			Help:    "Similarity score of accepted matches",
			Buckets: prometheus.LinearBuckets(0.80, 0.02, 11),
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "globalid_matches_total",
			Help: "Matcher searches by result",
		}, []string{"result"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "globalid_allocations_total",
			Help: "Global ID allocations by status",
		}, []string{"status"}),
	}

	for _, m := range []prometheus.Collector{
		c.resolveLatency, c.resolves, c.cacheLookups,
		c.matchLatency, c.matchScore, c.matches, c.allocations,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordResolve implements globalid.MetricsCollector.
func (c *Collector) RecordResolve(outcome globalid.Outcome, d time.Duration) {
	c.resolveLatency.WithLabelValues(string(outcome)).Observe(d.Seconds())
	c.resolves.WithLabelValues(string(outcome)).Inc()
}

// RecordCacheLookup implements globalid.MetricsCollector.
func (c *Collector) RecordCacheLookup(hit, malformed bool) {
	switch {
	case malformed:
		c.cacheLookups.WithLabelValues("malformed").Inc()
	case hit:
		c.cacheLookups.WithLabelValues("hit").Inc()
	default:
		c.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordMatch implements globalid.MetricsCollector.
func (c *Collector) RecordMatch(score float32, matched bool, d time.Duration, err error) {
	c.matchLatency.Observe(d.Seconds())
	switch {
	case err != nil:
		c.matches.WithLabelValues("error").Inc()
	case matched:
		c.matches.WithLabelValues("match").Inc()
		c.matchScore.Observe(float64(score))
	default:
		c.matches.WithLabelValues("no_match").Inc()
	}
}

// RecordAllocate implements globalid.MetricsCollector.
func (c *Collector) RecordAllocate(_ time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.allocations.WithLabelValues(status).Inc()
}
