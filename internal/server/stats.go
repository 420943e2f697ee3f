package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// queryStats counts facade queries served over HTTP and averages their
// latency over a sliding window.
type queryStats struct {
	active atomic.Int64
	total  atomic.Int64

	mu      sync.Mutex
	window  time.Duration
	samples []latencySample
}

type latencySample struct {
	at      time.Time
	latency time.Duration
}

// Load is the query load reported by /api/status and the monitor heartbeat.
type Load struct {
	Active       int64 `json:"activeRequests"`
	Total        int64 `json:"totalRequests"`
	RecentCount  int64 `json:"recentRequests"`
	AvgLatencyMs int64 `json:"avgLatencyMs"`
}

func newQueryStats(window time.Duration) *queryStats {
	return &queryStats{
		window:  window,
		samples: make([]latencySample, 0, 128),
	}
}

// begin marks a query in flight; the returned func records its latency.
func (q *queryStats) begin() func() {
	q.active.Add(1)
	start := time.Now()
	return func() {
		q.active.Add(-1)
		q.total.Add(1)
		q.record(time.Since(start))
	}
}

func (q *queryStats) record(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.samples = append(q.samples, latencySample{at: time.Now(), latency: d})
}

// snapshot trims expired samples and averages the rest.
func (q *queryStats) snapshot() Load {
	load := Load{Active: q.active.Load(), Total: q.total.Load()}

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.window)
	drop := 0
	for drop < len(q.samples) && q.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		q.samples = q.samples[drop:]
	}
	if len(q.samples) == 0 {
		return load
	}

	var total int64
	for _, s := range q.samples {
		total += s.latency.Milliseconds()
	}
	load.RecentCount = int64(len(q.samples))
	load.AvgLatencyMs = total / load.RecentCount
	return load
}
