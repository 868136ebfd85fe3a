package metrics

import (
	"testing"
	"time"
)

func TestCollector_Stats(t *testing.T) {
	c := NewCollector(100)
	for i := 1; i <= 100; i++ {
		status := 200
		if i%10 == 0 {
			status = 403
		}
		c.Record("GET /posts", time.Duration(i)*time.Millisecond, status)
	}
	c.Inc("mail_sent")
	c.Inc("mail_sent")

	s := c.GetStats()
	if s.TotalRequests != 100 || s.TotalErrors != 10 {
		t.Errorf("Unexpected totals: %+v", s)
	}
	if s.ErrorRate != 0.1 {
		t.Errorf("Expected error rate 0.1, got %v", s.ErrorRate)
	}
	if s.P50Latency != "51ms" || s.P99Latency != "100ms" {
		t.Errorf("Unexpected quantiles p50=%s p99=%s", s.P50Latency, s.P99Latency)
	}
	if s.RouteCounts["GET /posts"] != 100 || s.Counters["mail_sent"] != 2 {
		t.Errorf("Unexpected counters: %v %v", s.RouteCounts, s.Counters)
	}
}

func TestCollector_WindowKeepsRecent(t *testing.T) {
	c := NewCollector(2)
	c.Record("", time.Second, 200)
	c.Record("", 2*time.Millisecond, 200)
	c.Record("", 3*time.Millisecond, 200)

	s := c.GetStats()
	if s.P99Latency != "3ms" {
		t.Errorf("Expected oldest sample to be evicted, p99=%s", s.P99Latency)
	}
	if len(s.RouteCounts) != 0 {
		t.Errorf("Expected unmatched routes to be skipped, got %v", s.RouteCounts)
	}
}
