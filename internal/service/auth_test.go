package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/cache"
	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/identity"
	"github.com/raakeshmj/postplane/internal/notify"
	"github.com/raakeshmj/postplane/internal/repository"
	"github.com/raakeshmj/postplane/internal/repository/memory"
	"github.com/raakeshmj/postplane/internal/revocation"
)

// MockVerifier returns a fixed assertion or error.
type MockVerifier struct {
	assertion *identity.Assertion
	err       error
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (*identity.Assertion, error) {
	if m.err != nil {
		return nil, m.err
	}
	a := *m.assertion
	return &a, nil
}

// CountingUserRepo counts GetUser calls.
type CountingUserRepo struct {
	*memory.MemoryRepository
	getCalls int
}

func (r *CountingUserRepo) GetUser(ctx context.Context, id int64) (*db.User, error) {
	r.getCalls++
	return r.MemoryRepository.GetUser(ctx, id)
}

// RacingUserRepo hides the first email lookup so the caller tries to create
// a user that already exists.
type RacingUserRepo struct {
	*memory.MemoryRepository
	missedOnce bool
}

func (r *RacingUserRepo) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	if !r.missedOnce {
		r.missedOnce = true
		return nil, repository.ErrNotFound
	}
	return r.MemoryRepository.GetUserByEmail(ctx, email)
}

func newAuthService(users repository.UserRepository, verifier identity.Verifier) (*AuthService, *notify.Recorder) {
	events := &notify.Recorder{}
	issuer := auth.NewIssuer("service-test-secret", "postplane", auth.DefaultPolicy(), revocation.NewMemoryStore())
	return NewAuthService(users, issuer, verifier, events, cache.NewMemoryCache[*db.User]()), events
}

func signup(t *testing.T, svc *AuthService, email string) *Session {
	t.Helper()
	s, err := svc.Signup(context.Background(), SignupInput{
		Name: "Vera", Email: email, Password: "correct-horse", PasswordConfirmation: "correct-horse",
	})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	return s
}

func TestAuthService_SignupOnce(t *testing.T) {
	repo := memory.New()
	svc, events := newAuthService(repo, nil)
	ctx := context.Background()

	s := signup(t, svc, "Vera@Example.com")
	if s.User.Email != "vera@example.com" || !slices.Equal(s.User.Roles, []string{db.RoleViewer}) {
		t.Errorf("Unexpected user %+v", s.User)
	}

	_, err := svc.Signup(ctx, SignupInput{
		Name: "Other", Email: "vera@example.com", Password: "another-pass", PasswordConfirmation: "another-pass",
	})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Expected Conflict on duplicate signup, got %v", err)
	}
	if e, _ := apperrors.As(err); len(e.Fields["email"]) != 1 {
		t.Errorf("Expected email field on conflict, got %v", e.Fields)
	}

	got := events.Events()
	if len(got) != 1 || got[0].Kind != notify.UserRegistered {
		t.Errorf("Expected exactly one registered event, got %+v", got)
	}
}

func TestAuthService_SignupValidation(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	_, err := svc.Signup(context.Background(), SignupInput{
		Name: "", Email: "not-an-email", Password: "short", PasswordConfirmation: "different",
	})
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodeValidation {
		t.Fatalf("Expected validation error, got %v", err)
	}
	for _, field := range []string{"name", "email", "password"} {
		if len(e.Fields[field]) == 0 {
			t.Errorf("Expected messages for %s, got %v", field, e.Fields)
		}
	}
}

func TestAuthService_LoginViewerScopes(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	signup(t, svc, "vera@example.com")
	ctx := context.Background()

	s, err := svc.Login(ctx, LoginInput{Email: "vera@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !slices.Contains(s.AccessToken.Scopes, auth.ScopePostsRead) || slices.Contains(s.AccessToken.Scopes, auth.ScopePostsWrite) {
		t.Errorf("Viewer token should carry posts.read only, got %v", s.AccessToken.Scopes)
	}

	// Asking for more than the role allows falls back to the default set.
	s, err = svc.Login(ctx, LoginInput{Email: "vera@example.com", Password: "correct-horse", Scopes: []string{auth.ScopePostsWrite}})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !slices.Equal(s.AccessToken.Scopes, []string{auth.ScopePostsRead}) {
		t.Errorf("Expected default scopes, got %v", s.AccessToken.Scopes)
	}

	if _, err := svc.Login(ctx, LoginInput{Email: "vera@example.com", Password: "wrong-horse"}); !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Errorf("Expected InvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "correct-horse"}); !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Errorf("Expected InvalidCredentials for unknown email, got %v", err)
	}
}

func TestAuthService_OAuthCreatesViewer(t *testing.T) {
	verifier := &MockVerifier{assertion: &identity.Assertion{
		Email: "octo@example.com", Name: "Octo", Provider: "github", Subject: "gh-42",
	}}
	svc, events := newAuthService(memory.New(), verifier)
	ctx := context.Background()

	s, created, err := svc.LoginWithProvider(ctx, "provider-token", nil)
	if err != nil {
		t.Fatalf("LoginWithProvider failed: %v", err)
	}
	if !created {
		t.Error("Expected a new account")
	}
	if s.User.Provider != "github" || s.User.HasUsablePassword() || !s.User.HasRole(db.RoleViewer) {
		t.Errorf("Unexpected OAuth user %+v", s.User)
	}
	if len(events.Events()) != 1 {
		t.Errorf("Expected one registered event, got %d", len(events.Events()))
	}

	// The account has no password, so the password path is closed.
	if _, err := svc.Login(ctx, LoginInput{Email: "octo@example.com", Password: "anything-at-all"}); !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Errorf("Expected InvalidCredentials for OAuth-only account, got %v", err)
	}

	// A second exchange logs into the same account.
	s2, created, err := svc.LoginWithProvider(ctx, "provider-token", nil)
	if err != nil || created || s2.User.ID != s.User.ID {
		t.Errorf("Expected existing account, got created=%v err=%v", created, err)
	}
}

func TestAuthService_OAuthBackfillsProvider(t *testing.T) {
	repo := memory.New()
	verifier := &MockVerifier{assertion: &identity.Assertion{Email: "vera@example.com", Provider: "google", Subject: "g-1"}}
	svc, _ := newAuthService(repo, verifier)
	existing := signup(t, svc, "vera@example.com").User

	s, created, err := svc.LoginWithProvider(context.Background(), "provider-token", nil)
	if err != nil || created {
		t.Fatalf("Expected silent login, got created=%v err=%v", created, err)
	}
	if s.User.ID != existing.ID {
		t.Errorf("Expected user %d, got %d", existing.ID, s.User.ID)
	}
	stored, _ := repo.GetUser(context.Background(), existing.ID)
	if stored.Provider != "google" || stored.ProviderSubject != "g-1" || !stored.HasUsablePassword() {
		t.Errorf("Expected provider backfilled and password kept, got %+v", stored)
	}
}

func TestAuthService_OAuthFailures(t *testing.T) {
	ctx := context.Background()

	svc, _ := newAuthService(memory.New(), &MockVerifier{assertion: &identity.Assertion{Provider: "github"}})
	if _, _, err := svc.LoginWithProvider(ctx, "t", nil); !errors.Is(err, apperrors.ErrMissingEmail) {
		t.Errorf("Expected MissingEmail, got %v", err)
	}

	svc, _ = newAuthService(memory.New(), &MockVerifier{err: apperrors.ErrUpstreamUnavailable})
	if _, _, err := svc.LoginWithProvider(ctx, "t", nil); !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("Expected UpstreamUnavailable, got %v", err)
	}

	svc, _ = newAuthService(memory.New(), nil)
	if _, _, err := svc.LoginWithProvider(ctx, "t", nil); apperrors.CodeOf(err) != apperrors.CodeUpstreamUnavailable {
		t.Errorf("Expected unconfigured provider to be unavailable, got %v", err)
	}
	if _, _, err := svc.LoginWithProvider(ctx, "", nil); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("Expected validation error for empty token, got %v", err)
	}
}

func TestAuthService_OAuthConcurrentCreate(t *testing.T) {
	repo := &RacingUserRepo{MemoryRepository: memory.New()}
	verifier := &MockVerifier{assertion: &identity.Assertion{Email: "race@example.com", Provider: "github", Subject: "1"}}
	svc, events := newAuthService(repo, verifier)

	// The other request already created the account.
	first := &db.User{Name: "Race", Email: "race@example.com", Provider: "github", ProviderSubject: "1"}
	if err := repo.CreateUser(context.Background(), first, []string{db.RoleViewer}); err != nil {
		t.Fatal(err)
	}

	s, created, err := svc.LoginWithProvider(context.Background(), "t", nil)
	if err != nil {
		t.Fatalf("Expected conflict to resolve to a login, got %v", err)
	}
	if created || s.User.ID != first.ID {
		t.Errorf("Expected existing user %d, got %d (created=%v)", first.ID, s.User.ID, created)
	}
	if len(events.Events()) != 0 {
		t.Error("No registered event expected for an existing account")
	}
}

func TestAuthService_RefreshRotates(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	s := signup(t, svc, "vera@example.com")
	ctx := context.Background()

	next, err := svc.Refresh(ctx, s.RefreshToken.Value)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.RefreshToken.Value == s.RefreshToken.Value {
		t.Error("Expected a new refresh token")
	}
	if _, err := svc.Refresh(ctx, s.RefreshToken.Value); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Errorf("Expected reused refresh token to be rejected, got %v", err)
	}
	if _, err := svc.Refresh(ctx, next.AccessToken.Value); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Errorf("Expected access token to be refused for refresh, got %v", err)
	}
}

func TestAuthService_RefreshConcurrentSingleUse(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	s := signup(t, svc, "vera@example.com")
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, s.RefreshToken.Value)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, apperrors.ErrInvalidToken) {
				t.Errorf("Expected invalid token for a losing refresh, got %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Errorf("Expected exactly one refresh to succeed, got %d", succeeded)
	}
}

func TestAuthService_LogoutRevokes(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	s := signup(t, svc, "vera@example.com")
	ctx := context.Background()

	claims, err := svc.Issuer().Verify(ctx, s.AccessToken.Value)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(ctx, claims, s.RefreshToken.Value); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.Issuer().Verify(ctx, s.AccessToken.Value); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Errorf("Expected access token revoked, got %v", err)
	}
	if _, err := svc.Refresh(ctx, s.RefreshToken.Value); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Errorf("Expected refresh token revoked, got %v", err)
	}
}

func TestAuthService_PersonalToken(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	user := signup(t, svc, "vera@example.com").User

	presenter := &auth.Claims{UserID: user.ID, Scopes: []string{auth.ScopePostsRead}}

	tok, err := svc.IssuePersonalToken(context.Background(), user, presenter, nil)
	if err != nil {
		t.Fatalf("IssuePersonalToken failed: %v", err)
	}
	if tok.Kind != auth.KindPersonal || tok.ExpiresAt.Sub(tok.IssuedAt) != auth.DefaultPolicy().PersonalTTL {
		t.Errorf("Unexpected personal token %+v", tok)
	}
	if _, err := svc.IssuePersonalToken(context.Background(), user, presenter, []string{"posts.everything"}); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("Expected validation error for unknown scope, got %v", err)
	}
}

func TestAuthService_PersonalTokenNeverWidens(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	ctx := context.Background()
	editor, err := svc.CreateUser(ctx, AdminUserInput{Name: "Ed", Email: "ed@example.com", Password: "password123", Roles: []string{db.RoleEditor}})
	if err != nil {
		t.Fatal(err)
	}
	presenter := &auth.Claims{UserID: editor.ID, Scopes: []string{auth.ScopePostsRead}}

	tests := []struct {
		name      string
		requested []string
		want      []string
		code      apperrors.Code
	}{
		{"empty copies presenter", nil, []string{auth.ScopePostsRead}, ""},
		{"subset kept", []string{auth.ScopePostsRead, auth.ScopePostsWrite}, []string{auth.ScopePostsRead}, ""},
		{"nothing shared", []string{auth.ScopePostsWrite}, nil, apperrors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := svc.IssuePersonalToken(ctx, editor, presenter, tt.requested)
			if tt.code != "" {
				if apperrors.CodeOf(err) != tt.code {
					t.Fatalf("Expected %s, got %v", tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("IssuePersonalToken failed: %v", err)
			}
			if !slices.Equal(tok.Scopes, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, tok.Scopes)
			}
		})
	}
}

func TestAuthService_FindUserCache(t *testing.T) {
	repo := &CountingUserRepo{MemoryRepository: memory.New()}
	svc, _ := newAuthService(repo, nil)
	user := signup(t, svc, "vera@example.com").User
	ctx := context.Background()

	// 1. First Call - Should hit Repo
	u, err := svc.FindUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindUser failed: %v", err)
	}
	u.Roles[0] = "mutated"

	// 2. Second Call - Should hit Cache (Repo calls stay 1)
	u2, err := svc.FindUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindUser 2 failed: %v", err)
	}
	if repo.getCalls != 1 {
		t.Errorf("Expected 1 repo call (cached), got %d", repo.getCalls)
	}
	if u2.Roles[0] != db.RoleViewer {
		t.Error("Cached user was mutated through a returned copy")
	}
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	repo := memory.New()
	svc, _ := newAuthService(repo, nil)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "Root", "root@example.com", "root-password")
	if err != nil || !created {
		t.Fatalf("Expected admin created, got %v %v", created, err)
	}
	created, err = svc.EnsureAdmin(ctx, "Root", "root@example.com", "root-password")
	if err != nil || created {
		t.Fatalf("Expected second call to be a no-op, got %v %v", created, err)
	}
	u, _ := repo.GetUserByEmail(ctx, "root@example.com")
	if !u.HasRole(db.RoleAdmin) {
		t.Errorf("Expected admin role, got %v", u.Roles)
	}
}

func TestAuthService_CreateUserRoles(t *testing.T) {
	svc, _ := newAuthService(memory.New(), nil)
	_, err := svc.CreateUser(context.Background(), AdminUserInput{
		Name: "X", Email: "x@example.com", Password: "long-enough", Roles: []string{"superuser"},
	})
	if apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("Expected validation error for unknown role, got %v", err)
	}
}
