package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/raakeshmj/postplane/internal/response"
)

// SecurityConfig options
type SecurityConfig struct {
	EnableReplayProtection bool
	ReplayWindow           time.Duration
	now                    func() time.Time
}

func SecureHeaders(cfg SecurityConfig) Middleware {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			// Replay protection: reject requests whose X-Timestamp is outside the window.
			if cfg.EnableReplayProtection {
				ts := r.Header.Get("X-Timestamp")
				if ts == "" {
					reject(w, http.StatusBadRequest, "missing X-Timestamp header")
					return
				}
				reqTime, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					reject(w, http.StatusBadRequest, "invalid X-Timestamp header")
					return
				}

				now := cfg.now().Unix()
				if math.Abs(float64(now-reqTime)) > cfg.ReplayWindow.Seconds() {
					reject(w, http.StatusForbidden, fmt.Sprintf("request timestamp skewed (server: %d, req: %d)", now, reqTime))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, status int, message string) {
	response.WriteJSON(w, status, response.Envelope{Status: "error", Message: message})
}
