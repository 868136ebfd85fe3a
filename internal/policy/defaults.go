package policy

import (
	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/db"
)

var (
	readers = []string{db.RoleViewer, db.RoleEditor, db.RoleAdmin}
	writers = []string{db.RoleEditor, db.RoleAdmin}
	admins  = []string{db.RoleAdmin}
)

// DefaultPolicies is the built-in route table. Requests that match nothing
// fall back to an authenticated default in the policy middleware.
func DefaultPolicies() []Policy {
	public := Rules{}
	bearer := Rules{AuthRequired: true}
	// Credential endpoints get a tight fixed limit against password guessing.
	login := Rules{RateLimit: 0.2, Burst: 10}

	return []Policy{
		{ID: "health", Matcher: Matcher{Method: "GET", Path: "/health"}, Rules: public},
		{ID: "ready", Matcher: Matcher{Method: "GET", Path: "/ready"}, Rules: public},
		{ID: "auth.login", Matcher: Matcher{Method: "POST", Path: "/auth/login"}, Rules: login},
		{ID: "auth.signup", Matcher: Matcher{Method: "POST", Path: "/auth/signup"}, Rules: login},
		{ID: "auth.oauth", Matcher: Matcher{Method: "POST", Path: "/auth/oauth"}, Rules: login},
		{ID: "auth.refresh", Matcher: Matcher{Method: "POST", Path: "/auth/refresh"}, Rules: public},
		{ID: "auth.me", Matcher: Matcher{Method: "GET", Path: "/auth/me"}, Rules: bearer},
		{ID: "auth.logout", Matcher: Matcher{Method: "POST", Path: "/auth/logout"}, Rules: bearer},
		{ID: "auth.tokens", Matcher: Matcher{Method: "POST", Path: "/auth/tokens"}, Rules: bearer},

		{ID: "posts.restore", Matcher: Matcher{Method: "POST", Path: "/posts/{id}/restore"},
			Rules: Rules{AuthRequired: true, Roles: writers, Scope: auth.ScopePostsWrite}},
		{ID: "posts.list", Matcher: Matcher{Method: "GET", Path: "/posts"},
			Rules: Rules{AuthRequired: true, Roles: readers, Scope: auth.ScopePostsRead}},
		{ID: "posts.show", Matcher: Matcher{Method: "GET", Path: "/posts/{id}"},
			Rules: Rules{AuthRequired: true, Roles: readers, Scope: auth.ScopePostsRead}},
		{ID: "posts.create", Matcher: Matcher{Method: "POST", Path: "/posts"},
			Rules: Rules{AuthRequired: true, Roles: writers, Scope: auth.ScopePostsWrite}},
		{ID: "posts.update", Matcher: Matcher{Method: "PUT", Path: "/posts/{id}"},
			Rules: Rules{AuthRequired: true, Roles: writers, Scope: auth.ScopePostsWrite}},
		{ID: "posts.delete", Matcher: Matcher{Method: "DELETE", Path: "/posts/{id}"},
			Rules: Rules{AuthRequired: true, Roles: writers, Scope: auth.ScopePostsDelete}},

		{ID: "categories.list", Matcher: Matcher{Method: "GET", Path: "/categories"},
			Rules: Rules{AuthRequired: true, Roles: readers, Scope: auth.ScopePostsRead}},
		{ID: "categories.create", Matcher: Matcher{Method: "POST", Path: "/categories"},
			Rules: Rules{AuthRequired: true, Roles: writers, Scope: auth.ScopePostsWrite}},

		{ID: "storage", Matcher: Matcher{Method: "GET", Path: "/storage/{path...}"}, Rules: public},

		{ID: "admin", Matcher: Matcher{Method: "*", Path: "/admin/{path...}"},
			Rules: Rules{AuthRequired: true, Roles: admins, Scope: auth.ScopePostsAdmin}},
	}
}
