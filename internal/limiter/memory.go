package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one bucket per key in process. Buckets follow the
// rate and burst of the latest call, so dynamic defaults apply immediately.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter drops buckets unused for idle on each sweep.
func NewMemoryLimiter(idle time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		idle:    idle,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, r float64, burst int) (bool, float64, error) {
	if r <= 0 || burst < 1 {
		return false, 0, fmt.Errorf("invalid bucket rate=%v burst=%d", r, burst)
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(r), burst)}
		l.buckets[key] = b
	} else {
		if b.limiter.Limit() != rate.Limit(r) {
			b.limiter.SetLimitAt(now, rate.Limit(r))
		}
		if b.limiter.Burst() != burst {
			b.limiter.SetBurstAt(now, burst)
		}
	}
	b.lastSeen = now
	l.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	remaining := b.limiter.TokensAt(now)
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		return false, remaining, ErrRateLimitExceeded
	}
	return true, remaining, nil
}

// Sweep removes idle buckets and returns how many were dropped.
func (l *MemoryLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
