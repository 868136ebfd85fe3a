package middleware

import (
	"context"
	"net/http"

	"github.com/raakeshmj/postplane/internal/policy"
)

const policyContextKey contextKey = "policy"

// fallbackPolicy applies to requests no policy matches. Unknown routes still
// require a token so the mux answers 404 only to authenticated callers.
var fallbackPolicy = policy.Policy{
	ID: "default",
	Rules: policy.Rules{
		AuthRequired: true,
	},
}

// PolicyEnforcer evaluates the request and attaches the policy to context
func PolicyEnforcer(engine *policy.Engine) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := engine.Evaluate(r)
			if p == nil {
				fb := fallbackPolicy
				p = &fb
			}
			ScopeFrom(r.Context()).PolicyID = p.ID

			ctx := context.WithValue(r.Context(), policyContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPolicy returns the policy attached by PolicyEnforcer.
func GetPolicy(ctx context.Context) *policy.Policy {
	if p, ok := ctx.Value(policyContextKey).(*policy.Policy); ok {
		return p
	}
	return nil
}
