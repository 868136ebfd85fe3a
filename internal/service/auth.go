// Package service holds the use cases behind the HTTP handlers: the auth
// gateway, post management and categories.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/cache"
	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/identity"
	"github.com/raakeshmj/postplane/internal/notify"
	"github.com/raakeshmj/postplane/internal/repository"
)

// userCacheTTL bounds how stale a cached token owner may be.
const userCacheTTL = 30 * time.Second

type AuthService struct {
	users    repository.UserRepository
	issuer   *auth.Issuer
	identity identity.Verifier
	events   notify.Publisher
	cache    *cache.MemoryCache[*db.User]
}

// NewAuthService wires the gateway. verifier may be nil, in which case OAuth
// token exchange reports the provider as unavailable.
func NewAuthService(users repository.UserRepository, issuer *auth.Issuer, verifier identity.Verifier, events notify.Publisher, c *cache.MemoryCache[*db.User]) *AuthService {
	if events == nil {
		events = notify.Discard{}
	}
	if c == nil {
		c = cache.NewMemoryCache[*db.User]()
	}
	return &AuthService{
		users:    users,
		issuer:   issuer,
		identity: verifier,
		events:   events,
		cache:    c,
	}
}

func (s *AuthService) Issuer() *auth.Issuer {
	return s.issuer
}

// Session is what a successful login hands back.
type Session struct {
	User         *db.User    `json:"user"`
	AccessToken  *auth.Token `json:"access_token"`
	RefreshToken *auth.Token `json:"refresh_token"`
}

type SignupInput struct {
	Name                 string   `json:"name"`
	Email                string   `json:"email"`
	Password             string   `json:"password"`
	PasswordConfirmation string   `json:"password_confirmation"`
	Scopes               []string `json:"scopes"`
}

type LoginInput struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes"`
}

// Signup creates a viewer account. A taken email is always a conflict, even
// when the existing account came from an OAuth provider.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	var v apperrors.Validation
	requireString(&v, "name", in.Name, maxStringLength)
	checkEmail(&v, in.Email)
	checkPassword(&v, in.Password, in.PasswordConfirmation)
	checkScopes(&v, in.Scopes)
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &db.User{Name: strings.TrimSpace(in.Name), Email: in.Email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user, []string{db.RoleViewer}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fieldConflict("email", "has already been taken", err)
		}
		return nil, storeError(err, "user")
	}

	s.events.Publish(notify.Event{Kind: notify.UserRegistered, User: user})
	return s.session(user, in.Scopes)
}

// Login is the password path. Unknown emails, OAuth-only accounts and wrong
// passwords all fail the same way.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	var v apperrors.Validation
	requireString(&v, "email", in.Email, maxStringLength)
	if in.Password == "" {
		v.Add("password", "is required")
	}
	checkScopes(&v, in.Scopes)
	if err := v.Err(); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(in.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, storeError(err, "user")
	}
	if !user.HasUsablePassword() || !auth.CheckPasswordHash(in.Password, user.PasswordHash) {
		return nil, apperrors.ErrInvalidCredentials
	}
	return s.session(user, in.Scopes)
}

// LoginWithProvider exchanges a third-party token for a session. Unknown
// emails get a new viewer account with no password; known accounts without
// provider linkage have it backfilled. created reports a new account.
func (s *AuthService) LoginWithProvider(ctx context.Context, token string, scopes []string) (session *Session, created bool, err error) {
	var v apperrors.Validation
	if strings.TrimSpace(token) == "" {
		v.Add("access_token", "is required")
	}
	checkScopes(&v, scopes)
	if err := v.Err(); err != nil {
		return nil, false, err
	}
	if s.identity == nil {
		return nil, false, apperrors.New(apperrors.CodeUpstreamUnavailable, "oauth login is not configured")
	}

	assertion, err := s.identity.Verify(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if assertion.Email == "" {
		return nil, false, apperrors.ErrMissingEmail
	}

	user, err := s.users.GetUserByEmail(ctx, assertion.Email)
	switch {
	case err == nil:
		if user.Provider == "" {
			if err := s.users.LinkProvider(ctx, user.ID, assertion.Provider, assertion.Subject); err != nil {
				return nil, false, storeError(err, "user")
			}
			user.Provider, user.ProviderSubject = assertion.Provider, assertion.Subject
			s.cache.Delete(userKey(user.ID))
		}
	case errors.Is(err, repository.ErrNotFound):
		user, created, err = s.createProviderUser(ctx, assertion)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, storeError(err, "user")
	}

	if created {
		s.events.Publish(notify.Event{Kind: notify.UserRegistered, User: user})
	}
	session, err = s.session(user, scopes)
	return session, created, err
}

func (s *AuthService) createProviderUser(ctx context.Context, a *identity.Assertion) (*db.User, bool, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name, _, _ = strings.Cut(a.Email, "@")
	}
	user := &db.User{
		Name:            name,
		Email:           a.Email,
		Provider:        a.Provider,
		ProviderSubject: a.Subject,
	}
	err := s.users.CreateUser(ctx, user, []string{db.RoleViewer})
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, false, storeError(err, "user")
	}
	// A concurrent exchange created the account first; log in as that one.
	existing, err := s.users.GetUserByEmail(ctx, a.Email)
	if err != nil {
		return nil, false, storeError(err, "user")
	}
	return existing, false, nil
}

// Refresh rotates a refresh token: the presented one is consumed and a new
// pair is issued with the same scopes, narrowed to the user's current roles.
// Only one of several concurrent refreshes with the same token succeeds.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*Session, error) {
	if strings.TrimSpace(raw) == "" {
		var v apperrors.Validation
		v.Add("refresh_token", "is required")
		return nil, v.Err()
	}
	claims, err := s.issuer.Verify(ctx, raw, auth.KindRefresh)
	if err != nil {
		return nil, err
	}
	user, err := s.FindUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrInvalidToken
		}
		return nil, err
	}
	consumed, err := s.issuer.Consume(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !consumed {
		return nil, apperrors.New(apperrors.CodeInvalidToken, "token has been revoked")
	}
	return s.session(user, claims.Scopes)
}

// Logout revokes the presenting token and, when given, the caller's refresh
// token. A refresh token that does not verify or belongs to someone else is
// ignored.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims, refreshToken string) error {
	if err := s.issuer.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if refreshToken == "" {
		return nil
	}
	rc, err := s.issuer.Verify(ctx, refreshToken, auth.KindRefresh)
	if err != nil || rc.UserID != claims.UserID {
		return nil
	}
	if err := s.issuer.Revoke(ctx, rc); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// IssuePersonalToken mints a long-lived token for scripts and integrations.
// The new token never carries more than the presenting one: scopes are
// narrowed to presenter.Scopes, and an empty request copies them.
func (s *AuthService) IssuePersonalToken(ctx context.Context, user *db.User, presenter *auth.Claims, scopes []string) (*auth.Token, error) {
	var v apperrors.Validation
	checkScopes(&v, scopes)
	if err := v.Err(); err != nil {
		return nil, err
	}
	granted := narrowScopes(presenter.Scopes, scopes)
	if len(granted) == 0 {
		return nil, apperrors.New(apperrors.CodeForbidden, "presenting token holds none of the requested scopes")
	}
	return s.issuer.Issue(user, auth.KindPersonal, granted)
}

// narrowScopes keeps the requested scopes that held contains. An empty
// request keeps all of held.
func narrowScopes(held, requested []string) []string {
	if len(requested) == 0 {
		return slices.Clone(held)
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if slices.Contains(held, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func userKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

// FindUser resolves token owners for the access middleware, caching briefly.
func (s *AuthService) FindUser(ctx context.Context, id int64) (*db.User, error) {
	if u, ok := s.cache.Get(userKey(id)); ok {
		return cloneUser(u), nil
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(userKey(id), u, userCacheTTL)
	return cloneUser(u), nil
}

func cloneUser(u *db.User) *db.User {
	copied := *u
	copied.Roles = slices.Clone(u.Roles)
	return &copied
}

type AdminUserInput struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// CreateUser is the admin path for provisioning accounts with any role.
func (s *AuthService) CreateUser(ctx context.Context, in AdminUserInput) (*db.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	var v apperrors.Validation
	requireString(&v, "name", in.Name, maxStringLength)
	checkEmail(&v, in.Email)
	checkPassword(&v, in.Password, in.Password)
	if len(in.Roles) == 0 {
		in.Roles = []string{db.RoleViewer}
	}
	for _, r := range in.Roles {
		switch r {
		case db.RoleViewer, db.RoleEditor, db.RoleAdmin:
		default:
			v.Add("roles", fmt.Sprintf("unknown role %q", r))
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &db.User{Name: strings.TrimSpace(in.Name), Email: in.Email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user, in.Roles); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fieldConflict("email", "has already been taken", err)
		}
		return nil, storeError(err, "user")
	}
	s.events.Publish(notify.Event{Kind: notify.UserRegistered, User: user})
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator unless the email exists.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) (created bool, err error) {
	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.HasRole(db.RoleAdmin) {
			log.Printf("bootstrap admin %s exists without the admin role", email)
		}
		return false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return false, storeError(err, "user")
	}

	_, err = s.CreateUser(ctx, AdminUserInput{Name: name, Email: email, Password: password, Roles: []string{db.RoleAdmin}})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *AuthService) session(user *db.User, scopes []string) (*Session, error) {
	access, err := s.issuer.Issue(user, auth.KindAccess, scopes)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.Issue(user, auth.KindRefresh, scopes)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}
