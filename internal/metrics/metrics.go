// Package metrics keeps in-process request and event counters served on the
// admin metrics endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector tracks request counts, named event counters and a
// sliding window of latencies.
type MetricsCollector struct {
	totalRequests uint64
	totalErrors   uint64
	statusCounts  map[int]uint64
	routeCounts   map[string]uint64
	counters      map[string]uint64

	// Latency window, most recent maxSamples requests.
	latencies  []time.Duration
	maxSamples int
	mu         sync.RWMutex
}

func NewCollector(maxSamples int) *MetricsCollector {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &MetricsCollector{
		statusCounts: make(map[int]uint64),
		routeCounts:  make(map[string]uint64),
		counters:     make(map[string]uint64),
		latencies:    make([]time.Duration, 0, maxSamples),
		maxSamples:   maxSamples,
	}
}

// Record counts one finished request. route is the matched mux pattern, or
// empty when none matched.
func (c *MetricsCollector) Record(route string, duration time.Duration, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if statusCode >= 400 {
		c.totalErrors++
	}
	c.statusCounts[statusCode]++
	if route != "" {
		c.routeCounts[route]++
	}

	if len(c.latencies) < c.maxSamples {
		c.latencies = append(c.latencies, duration)
	} else {
		copy(c.latencies, c.latencies[1:])
		c.latencies[len(c.latencies)-1] = duration
	}
}

// Inc bumps a named counter such as "mail_sent" or "rate_limited".
func (c *MetricsCollector) Inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

type Stats struct {
	TotalRequests uint64            `json:"total_requests"`
	TotalErrors   uint64            `json:"total_errors"`
	ErrorRate     float64           `json:"error_rate"`
	P50Latency    string            `json:"p50_latency"`
	P95Latency    string            `json:"p95_latency"`
	P99Latency    string            `json:"p99_latency"`
	StatusCounts  map[int]uint64    `json:"status_counts"`
	RouteCounts   map[string]uint64 `json:"route_counts"`
	Counters      map[string]uint64 `json:"counters"`
}

func (c *MetricsCollector) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sorted := make([]time.Duration, len(c.latencies))
	copy(sorted, c.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	errorRate := 0.0
	if c.totalRequests > 0 {
		errorRate = float64(c.totalErrors) / float64(c.totalRequests)
	}

	return Stats{
		TotalRequests: c.totalRequests,
		TotalErrors:   c.totalErrors,
		ErrorRate:     errorRate,
		P50Latency:    quantile(sorted, 0.50).String(),
		P95Latency:    quantile(sorted, 0.95).String(),
		P99Latency:    quantile(sorted, 0.99).String(),
		StatusCounts:  copyMap(c.statusCounts),
		RouteCounts:   copyMap(c.routeCounts),
		Counters:      copyMap(c.counters),
	}
}

// quantile picks the nearest-rank sample from an ascending slice.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func copyMap[K comparable](m map[K]uint64) map[K]uint64 {
	out := make(map[K]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
