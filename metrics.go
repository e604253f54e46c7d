package globalid

import (
	"sync/atomic"
	"time"
)

// Outcome is how a resolution ended.
type Outcome string

const (
	OutcomeCacheHit  Outcome = "cache_hit"
	OutcomeMatched   Outcome = "matched"
	OutcomeAllocated Outcome = "allocated"
	OutcomeFailed    Outcome = "failed"
)

// MetricsCollector defines an interface for collecting operational metrics.
// The metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordResolve is called once per Resolve call.
	RecordResolve(outcome Outcome, duration time.Duration)

	// RecordCacheLookup is called after the cache lookup. malformed is true
	// when a stored value was ignored.
	RecordCacheLookup(hit, malformed bool)

	// RecordMatch is called after each matcher search. score is the
	// accepted candidate's score, or 0 without a match.
	RecordMatch(score float32, matched bool, duration time.Duration, err error)

	// RecordAllocate is called after each counter increment.
	RecordAllocate(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordResolve(Outcome, time.Duration)            {}
func (NoopMetricsCollector) RecordCacheLookup(bool, bool)                    {}
func (NoopMetricsCollector) RecordMatch(float32, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordAllocate(time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	ResolveCount      atomic.Int64
	ResolveFailures   atomic.Int64
	ResolveTotalNanos atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	CacheMalformed    atomic.Int64
	MatchCount        atomic.Int64
	MatchHits         atomic.Int64
	MatchErrors       atomic.Int64
	MatchTotalNanos   atomic.Int64
	AllocateCount     atomic.Int64
	AllocateErrors    atomic.Int64
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(outcome Outcome, duration time.Duration) {
	b.ResolveCount.Add(1)
	b.ResolveTotalNanos.Add(duration.Nanoseconds())
	if outcome == OutcomeFailed {
		b.ResolveFailures.Add(1)
	}
}

// RecordCacheLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheLookup(hit, malformed bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
	if malformed {
		b.CacheMalformed.Add(1)
	}
}

// RecordMatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMatch(_ float32, matched bool, duration time.Duration, err error) {
	b.MatchCount.Add(1)
	b.MatchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MatchErrors.Add(1)
		return
	}
	if matched {
		b.MatchHits.Add(1)
	}
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(_ time.Duration, err error) {
	b.AllocateCount.Add(1)
	if err != nil {
		b.AllocateErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ResolveCount:    b.ResolveCount.Load(),
		ResolveFailures: b.ResolveFailures.Load(),
		ResolveAvgNanos: avg(b.ResolveTotalNanos.Load(), b.ResolveCount.Load()),
		CacheHits:       b.CacheHits.Load(),
		CacheMisses:     b.CacheMisses.Load(),
		CacheMalformed:  b.CacheMalformed.Load(),
		MatchCount:      b.MatchCount.Load(),
		MatchHits:       b.MatchHits.Load(),
		MatchErrors:     b.MatchErrors.Load(),
		MatchAvgNanos:   avg(b.MatchTotalNanos.Load(), b.MatchCount.Load()),
		AllocateCount:   b.AllocateCount.Load(),
		AllocateErrors:  b.AllocateErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ResolveCount    int64
	ResolveFailures int64
	ResolveAvgNanos int64
	CacheHits       int64
	CacheMisses     int64
	CacheMalformed  int64
	MatchCount      int64
	MatchHits       int64
	MatchErrors     int64
	MatchAvgNanos   int64
	AllocateCount   int64
	AllocateErrors  int64
}
