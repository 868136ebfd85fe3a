package auth

import (
	"slices"

	"github.com/raakeshmj/postplane/internal/db"
)

const (
	ScopePostsRead   = "posts.read"
	ScopePostsWrite  = "posts.write"
	ScopePostsDelete = "posts.delete"
	ScopePostsAdmin  = "posts.admin"
)

// AllScopes is every scope a token can carry, in canonical order.
var AllScopes = []string{ScopePostsRead, ScopePostsWrite, ScopePostsDelete, ScopePostsAdmin}

// DefaultScopes is granted when a request names nothing the caller may hold.
var DefaultScopes = []string{ScopePostsRead}

// roleScopes is the role/scope table. Privileged roles are absent here and
// receive AllScopes.
var roleScopes = map[string][]string{
	db.RoleViewer: {ScopePostsRead},
	db.RoleEditor: {ScopePostsRead, ScopePostsWrite, ScopePostsDelete},
}

var privilegedRoles = []string{db.RoleAdmin}

// IsPrivileged reports whether any of roles bypasses the scope table.
func IsPrivileged(roles []string) bool {
	for _, r := range roles {
		if slices.Contains(privilegedRoles, r) {
			return true
		}
	}
	return false
}

// KnownScope reports whether s is a scope this service issues.
func KnownScope(s string) bool {
	return slices.Contains(AllScopes, s)
}

// Ceiling returns the most a user with roles may be granted, in canonical order.
func Ceiling(roles []string) []string {
	if IsPrivileged(roles) {
		return slices.Clone(AllScopes)
	}
	allowed := make(map[string]bool)
	for _, r := range roles {
		for _, s := range roleScopes[r] {
			allowed[s] = true
		}
	}
	if len(allowed) == 0 {
		return slices.Clone(DefaultScopes)
	}
	return canonical(allowed)
}

// GrantScopes intersects requested with the ceiling for roles. An empty
// request receives the whole ceiling; a request that shares nothing with the
// ceiling falls back to DefaultScopes.
func GrantScopes(roles, requested []string) []string {
	ceiling := Ceiling(roles)
	if len(requested) == 0 {
		return ceiling
	}

	granted := make(map[string]bool)
	for _, s := range requested {
		if slices.Contains(ceiling, s) {
			granted[s] = true
		}
	}
	if len(granted) == 0 {
		for _, s := range DefaultScopes {
			if slices.Contains(ceiling, s) {
				granted[s] = true
			}
		}
	}
	return canonical(granted)
}

func canonical(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, s := range AllScopes {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
