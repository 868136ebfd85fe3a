package middleware

import (
	"log"
	"net/http"

	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/response"
)

// Access runs the access state machine against the route's requirement.
// Admitted callers continue with their user and claims in the context.
func Access(verifier auth.TokenVerifier, findUser auth.UserFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := fallbackPolicy.Rules.Requirement()
			if p := GetPolicy(r.Context()); p != nil {
				req = p.Rules.Requirement()
			}

			d := auth.Authorize(r.Context(), req, r.Header.Get("Authorization"), verifier, findUser)
			if !d.Admitted() {
				scope := ScopeFrom(r.Context())
				log.Printf("access: request %s rejected after %s: %v", scope.RequestID, d.Reached, d.Err)
				response.Error(w, d.Err)
				return
			}
			if d.User == nil {
				next.ServeHTTP(w, r)
				return
			}

			ScopeFrom(r.Context()).UserID = d.User.ID
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), d.User, d.Claims)))
		})
	}
}
