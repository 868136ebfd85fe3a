package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
)

// TokenKind separates the three expiry windows. Each kind is only accepted
// where the verifier asks for it.
type TokenKind string

const (
	KindAccess   TokenKind = "access"
	KindRefresh  TokenKind = "refresh"
	KindPersonal TokenKind = "personal"
)

// Policy holds the lifetime of each token kind.
type Policy struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	PersonalTTL time.Duration
}

// DefaultPolicy is two hours for access, thirty days for refresh and six
// months for personal tokens.
func DefaultPolicy() Policy {
	return Policy{
		AccessTTL:   2 * time.Hour,
		RefreshTTL:  30 * 24 * time.Hour,
		PersonalTTL: 180 * 24 * time.Hour,
	}
}

func (p Policy) TTL(kind TokenKind) (time.Duration, bool) {
	switch kind {
	case KindAccess:
		return p.AccessTTL, true
	case KindRefresh:
		return p.RefreshTTL, true
	case KindPersonal:
		return p.PersonalTTL, true
	}
	return 0, false
}

type Claims struct {
	UserID int64     `json:"user_id"`
	Scopes []string  `json:"scopes"`
	Kind   TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Token is a signed credential as handed to the client.
type Token struct {
	ID        string    `json:"-"`
	Kind      TokenKind `json:"kind"`
	Value     string    `json:"token"`
	Type      string    `json:"token_type"`
	UserID    int64     `json:"-"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RevocationStore remembers revoked token ids until they would expire anyway.
// Consume revokes atomically and reports false when jti was already revoked.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Consume(ctx context.Context, jti string, until time.Time) (bool, error)
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secretKey   []byte
	name        string
	policy      Policy
	revocations RevocationStore
	now         func() time.Time
}

func NewIssuer(secretKey, name string, policy Policy, revocations RevocationStore) *Issuer {
	return &Issuer{
		secretKey:   []byte(secretKey),
		name:        name,
		policy:      policy,
		revocations: revocations,
		now:         time.Now,
	}
}

func (i *Issuer) Policy() Policy { return i.policy }

// Issue mints a token of kind for user. The scopes are requested narrowed to
// what the user's roles allow.
func (i *Issuer) Issue(user *db.User, kind TokenKind, requested []string) (*Token, error) {
	ttl, ok := i.policy.TTL(kind)
	if !ok {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}
	now := i.now().UTC().Truncate(time.Second)
	token := &Token{
		ID:        uuid.NewString(),
		Kind:      kind,
		Type:      "Bearer",
		UserID:    user.ID,
		Scopes:    GrantScopes(user.Roles, requested),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	claims := Claims{
		UserID: user.ID,
		Scopes: token.Scopes,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.ID,
			Subject:   fmt.Sprint(user.ID),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.name,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secretKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	token.Value = signed
	return token, nil
}

// Verify checks signature, expiry, issuer, kind and revocation. Any failure
// other than a revocation lookup error is reported as an invalid token; a
// failed lookup is reported as upstream unavailable.
func (i *Issuer) Verify(ctx context.Context, raw string, kinds ...TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Wrap(apperrors.CodeInvalidToken, "token has expired", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeInvalidToken, "invalid token", err)
	}
	if !token.Valid || claims.ID == "" || claims.UserID == 0 {
		return nil, apperrors.ErrInvalidToken
	}
	if len(kinds) > 0 && !slices.Contains(kinds, claims.Kind) {
		return nil, apperrors.New(apperrors.CodeInvalidToken, fmt.Sprintf("%s token not accepted here", claims.Kind))
	}

	if i.revocations != nil {
		revoked, err := i.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			if _, ok := apperrors.As(err); ok {
				return nil, err
			}
			return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "check revocation", err)
		}
		if revoked {
			return nil, apperrors.New(apperrors.CodeInvalidToken, "token has been revoked")
		}
	}
	return claims, nil
}

// Revoke denylists the token until its natural expiry.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if i.revocations == nil {
		return nil
	}
	until := i.now()
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return i.revocations.Revoke(ctx, claims.ID, until)
}

// Consume revokes claims and reports whether this caller was first to do so.
// Single-use tokens are redeemed through it so concurrent presentations of
// the same token cannot both succeed.
func (i *Issuer) Consume(ctx context.Context, claims *Claims) (bool, error) {
	if i.revocations == nil {
		return true, nil
	}
	until := i.now()
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return i.revocations.Consume(ctx, claims.ID, until)
}
