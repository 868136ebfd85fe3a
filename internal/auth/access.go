package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/repository"
)

// State is a step of the per-request access decision.
type State int

const (
	Unauthenticated State = iota
	TokenPresent
	TokenValid
	RoleChecked
	ScopeChecked
	Admitted
	Rejected
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case TokenPresent:
		return "token_present"
	case TokenValid:
		return "token_valid"
	case RoleChecked:
		return "role_checked"
	case ScopeChecked:
		return "scope_checked"
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Requirement is what a route declares about its callers. Empty Roles admits
// any authenticated user and an empty Scope skips the scope check.
type Requirement struct {
	Authenticated bool
	Roles         []string
	Scope         string
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", apperrors.ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.ErrMissingToken
	}
	return token, nil
}

// CheckRoles passes when allowed is empty or shares a role with have.
func CheckRoles(have, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, r := range have {
		for _, a := range allowed {
			if r == a {
				return nil
			}
		}
	}
	return apperrors.New(apperrors.CodeForbidden, "your role does not allow this action")
}

// CheckScope passes when required is empty or present in have.
func CheckScope(have []string, required string) error {
	if required == "" {
		return nil
	}
	for _, s := range have {
		if s == required {
			return nil
		}
	}
	return apperrors.New(apperrors.CodeForbidden, "token is missing scope "+required)
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, kinds ...TokenKind) (*Claims, error)
}

// UserFinder resolves the token owner.
type UserFinder func(ctx context.Context, id int64) (*db.User, error)

// Decision is where a request ended up. Reached is the last state passed
// before a rejection; Err is set only when State is Rejected.
type Decision struct {
	State   State
	Reached State
	Claims  *Claims
	User    *db.User
	Err     error
}

func (d Decision) Admitted() bool { return d.State == Admitted }

// Authorize walks a request through the access states for req. Access and
// personal tokens are accepted; refresh tokens are not.
func Authorize(ctx context.Context, req Requirement, header string, verifier TokenVerifier, findUser UserFinder) Decision {
	if !req.Authenticated {
		return Decision{State: Admitted, Reached: Admitted}
	}
	reached := Unauthenticated
	reject := func(err error) Decision {
		return Decision{State: Rejected, Reached: reached, Err: err}
	}

	raw, err := ExtractBearer(header)
	if err != nil {
		return reject(err)
	}
	reached = TokenPresent

	claims, err := verifier.Verify(ctx, raw, KindAccess, KindPersonal)
	if err != nil {
		return reject(err)
	}
	user, err := findUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reject(apperrors.New(apperrors.CodeInvalidToken, "token owner no longer exists"))
		}
		return reject(err)
	}
	reached = TokenValid

	if err := CheckRoles(user.Roles, req.Roles); err != nil {
		return reject(err)
	}
	reached = RoleChecked

	if err := CheckScope(claims.Scopes, req.Scope); err != nil {
		return reject(err)
	}
	return Decision{State: Admitted, Reached: Admitted, Claims: claims, User: user}
}
