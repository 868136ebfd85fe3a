package middleware

import (
	"net/http"
	"time"

	"github.com/raakeshmj/postplane/internal/audit"
)

func AuditMiddleware(logger audit.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newInterceptor(w)

			next.ServeHTTP(rw, r)

			scope := ScopeFrom(r.Context())
			logger.Log(audit.LogEntry{
				Timestamp: start,
				RequestID: scope.RequestID,
				ActorID:   scope.UserID,
				Action:    r.Method + " " + r.URL.Path,
				Resource:  scope.PolicyID,
				Status:    rw.statusCode,
				Duration:  time.Since(start).String(),
				Metadata: map[string]interface{}{
					"remote_addr":   r.RemoteAddr,
					"user_agent":    r.UserAgent(),
					"authorization": r.Header.Get("Authorization"),
				},
			})
		})
	}
}
