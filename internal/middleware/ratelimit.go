package middleware

import (
	"context"
	"errors"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/raakeshmj/postplane/internal/config"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/limiter"
	"github.com/raakeshmj/postplane/internal/reliability"
	"github.com/raakeshmj/postplane/internal/response"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (bool, float64, error)
}

// Counter receives named event counts.
type Counter interface {
	Inc(name string)
}

// RateLimit throttles per route and caller. Routes without their own limit
// use the dynamic defaults. Limiter failures fall back to strategy.
func RateLimit(l RateLimiter, cfgMgr *config.DynamicConfigManager, strategy reliability.FailureStrategy, counter Counter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defaults := cfgMgr.GetPolicy()
			rate, burst := defaults.DefaultRateLimit, defaults.DefaultBurst
			routeID := fallbackPolicy.ID
			if p := GetPolicy(r.Context()); p != nil {
				routeID = p.ID
				if p.Rules.RateLimit > 0 && p.Rules.Burst > 0 {
					rate, burst = p.Rules.RateLimit, p.Rules.Burst
				}
			}

			key := "ratelimit:" + routeID + ":" + clientKey(r)
			allowed, remaining, err := l.Allow(r.Context(), key, rate, burst)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(remaining))))

			if err != nil && !errors.Is(err, limiter.ErrRateLimitExceeded) {
				if reliability.ShouldAllow(strategy, err) {
					log.Printf("ratelimit: limiter error, allowing (%s): %v", strategy, err)
					next.ServeHTTP(w, r)
					return
				}
				log.Printf("ratelimit: limiter error, rejecting (%s): %v", strategy, err)
				response.Error(w, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "rate limiter unavailable", err))
				return
			}

			if !allowed {
				if counter != nil {
					counter.Inc("rate_limited")
				}
				wait := math.Ceil((1 - remaining) / rate)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, wait))))
				response.Error(w, apperrors.New(apperrors.CodeRateLimited, "too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller: the admitted user when there is one,
// otherwise the remote IP.
func clientKey(r *http.Request) string {
	if id := ScopeFrom(r.Context()).UserID; id != 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
