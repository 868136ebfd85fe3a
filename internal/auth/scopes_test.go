package auth

import (
	"slices"
	"testing"

	"github.com/raakeshmj/postplane/internal/db"
)

func TestGrantScopes(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		requested []string
		want      []string
	}{
		{"viewer asking for write gets read only", []string{db.RoleViewer}, []string{ScopePostsRead, ScopePostsWrite}, []string{ScopePostsRead}},
		{"viewer empty request gets ceiling", []string{db.RoleViewer}, nil, []string{ScopePostsRead}},
		{"editor narrowed to request", []string{db.RoleEditor}, []string{ScopePostsWrite}, []string{ScopePostsWrite}},
		{"editor cannot reach admin", []string{db.RoleEditor}, []string{ScopePostsAdmin}, []string{ScopePostsRead}},
		{"admin is privileged", []string{db.RoleAdmin}, []string{ScopePostsAdmin, ScopePostsWrite}, []string{ScopePostsWrite, ScopePostsAdmin}},
		{"admin empty request gets everything", []string{db.RoleAdmin}, nil, AllScopes},
		{"no roles falls back to default", nil, []string{ScopePostsWrite}, []string{ScopePostsRead}},
		{"unknown scopes are dropped", []string{db.RoleEditor}, []string{"posts.nuke", ScopePostsDelete}, []string{ScopePostsDelete}},
		{"mixed roles union", []string{db.RoleViewer, db.RoleEditor}, nil, []string{ScopePostsRead, ScopePostsWrite, ScopePostsDelete}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GrantScopes(tt.roles, tt.requested)
			if !slices.Equal(got, tt.want) {
				t.Errorf("GrantScopes(%v, %v) = %v, want %v", tt.roles, tt.requested, got, tt.want)
			}
		})
	}
}

func TestCeiling_DoesNotAliasTables(t *testing.T) {
	c := Ceiling([]string{db.RoleAdmin})
	c[0] = "tampered"
	if AllScopes[0] != ScopePostsRead {
		t.Fatal("Ceiling must return a copy of AllScopes")
	}
}
