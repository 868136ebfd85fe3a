package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/db"
)

type contextKey string

const (
	scopeContextKey  contextKey = "scope"
	userContextKey   contextKey = "user"
	claimsContextKey contextKey = "claims"
)

// RequestScope is filled in as the request moves inward so that outer
// middleware (metrics, audit, tracing) can label the request after the
// inner layers have resolved the route and the caller.
type RequestScope struct {
	RequestID string
	PolicyID  string
	UserID    int64
}

const requestIDHeader = "X-Request-ID"

// Scope attaches a fresh RequestScope and echoes the request id.
func Scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		s := &RequestScope{RequestID: id}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeContextKey, s)))
	})
}

// ScopeFrom returns the request scope, or a throwaway one when Scope did not run.
func ScopeFrom(ctx context.Context) *RequestScope {
	if s, ok := ctx.Value(scopeContextKey).(*RequestScope); ok {
		return s
	}
	return &RequestScope{}
}

// UserFrom returns the admitted caller.
func UserFrom(ctx context.Context) (*db.User, bool) {
	u, ok := ctx.Value(userContextKey).(*db.User)
	return u, ok
}

// ClaimsFrom returns the claims of the admitting token.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return c, ok
}

// WithIdentity attaches an admitted user and claims; used by Access and tests.
func WithIdentity(ctx context.Context, user *db.User, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, claimsContextKey, claims)
}
