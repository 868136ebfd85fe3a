package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/repository"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
	}
	for _, tt := range tests {
		got, err := ExtractBearer(tt.header)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ExtractBearer(%q) = %q, %v", tt.header, got, err)
		}
		if !tt.ok && !errors.Is(err, apperrors.ErrMissingToken) {
			t.Errorf("ExtractBearer(%q) expected ErrMissingToken, got %v", tt.header, err)
		}
	}
}

func TestCheckRolesAndScope(t *testing.T) {
	if err := CheckRoles([]string{db.RoleViewer}, nil); err != nil {
		t.Errorf("empty allowed list should pass: %v", err)
	}
	if err := CheckRoles([]string{db.RoleViewer}, []string{db.RoleEditor, db.RoleAdmin}); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("Expected Forbidden, got %v", err)
	}
	if err := CheckRoles([]string{db.RoleViewer, db.RoleEditor}, []string{db.RoleEditor}); err != nil {
		t.Errorf("intersecting roles should pass: %v", err)
	}
	if err := CheckScope([]string{ScopePostsRead}, ScopePostsWrite); !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("Expected Forbidden, got %v", err)
	}
	if err := CheckScope(nil, ""); err != nil {
		t.Errorf("empty required scope should pass: %v", err)
	}
}

func TestAuthorize_States(t *testing.T) {
	issuer := NewIssuer("secret", "postplane", DefaultPolicy(), nil)
	users := map[int64]*db.User{
		1: {ID: 1, Roles: []string{db.RoleViewer}},
		2: {ID: 2, Roles: []string{db.RoleEditor}},
	}
	find := func(ctx context.Context, id int64) (*db.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		return nil, repository.ErrNotFound
	}
	bearer := func(u *db.User, kind TokenKind, scopes ...string) string {
		tok, err := issuer.Issue(u, kind, scopes)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		return "Bearer " + tok.Value
	}
	write := Requirement{Authenticated: true, Roles: []string{db.RoleEditor, db.RoleAdmin}, Scope: ScopePostsWrite}
	read := Requirement{Authenticated: true, Roles: []string{db.RoleViewer, db.RoleEditor, db.RoleAdmin}, Scope: ScopePostsRead}

	tests := []struct {
		name    string
		req     Requirement
		header  string
		reached State
		code    apperrors.Code
	}{
		{"public route", Requirement{}, "", Admitted, ""},
		{"missing header", read, "", Unauthenticated, apperrors.CodeMissingToken},
		{"garbage token", read, "Bearer nope", TokenPresent, apperrors.CodeInvalidToken},
		{"refresh token on api", read, bearer(users[1], KindRefresh), TokenPresent, apperrors.CodeInvalidToken},
		{"unknown owner", read, bearer(&db.User{ID: 99}, KindAccess), TokenPresent, apperrors.CodeInvalidToken},
		{"viewer on write route", write, bearer(users[1], KindAccess, ScopePostsRead, ScopePostsWrite), TokenValid, apperrors.CodeForbidden},
		{"editor without write scope", write, bearer(users[2], KindAccess, ScopePostsRead), RoleChecked, apperrors.CodeForbidden},
		{"editor with write scope", write, bearer(users[2], KindAccess, ScopePostsWrite), Admitted, ""},
		{"viewer reads", read, bearer(users[1], KindAccess), Admitted, ""},
		{"personal token reads", read, bearer(users[1], KindPersonal), Admitted, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Authorize(context.Background(), tt.req, tt.header, issuer, find)
			if d.Reached != tt.reached {
				t.Errorf("Expected to reach %s, got %s", tt.reached, d.Reached)
			}
			if tt.code == "" {
				if !d.Admitted() {
					t.Fatalf("Expected admission, got %v", d.Err)
				}
				return
			}
			if d.State != Rejected || apperrors.CodeOf(d.Err) != tt.code {
				t.Errorf("Expected rejection with %s, got %s / %v", tt.code, d.State, d.Err)
			}
		})
	}
}
