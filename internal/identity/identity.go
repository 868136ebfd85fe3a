// Package identity verifies third-party (Supabase-style) access tokens and
// turns them into an Assertion the auth service can log in with.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/raakeshmj/postplane/internal/cache"
	"github.com/raakeshmj/postplane/internal/circuitbreaker"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
)

// Assertion is what the provider vouches for. Email may be empty; the
// caller decides what that means.
type Assertion struct {
	Email    string
	Name     string
	Provider string
	Subject  string
}

// Verifier checks a provider token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Assertion, error)
}

// supabaseClaims covers both the JWT payload and the /auth/v1/user body.
type supabaseClaims struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"user_metadata"`
	AppMetadata struct {
		Provider string `json:"provider"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

func (c *supabaseClaims) assertion() *Assertion {
	name := c.UserMetadata.FullName
	if name == "" {
		name = c.UserMetadata.Name
	}
	subject := c.Subject
	if subject == "" {
		subject = c.ID
	}
	provider := c.AppMetadata.Provider
	if provider == "" {
		provider = "supabase"
	}
	return &Assertion{
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Name:     strings.TrimSpace(name),
		Provider: provider,
		Subject:  subject,
	}
}

// LocalVerifier validates HS256 tokens signed with the project's shared secret.
type LocalVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secret: []byte(secret), now: time.Now}
}

func (v *LocalVerifier) Verify(ctx context.Context, token string) (*Assertion, error) {
	claims := &supabaseClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidToken, "provider token rejected", err)
	}
	return claims.assertion(), nil
}

// Breaker is the subset of the circuit breaker the remote verifier needs.
type Breaker interface {
	Execute(ctx context.Context, service string, action func(ctx context.Context) error) error
}

// BreakerService is the circuit name the remote verifier reports under.
const BreakerService = "identity"

// RemoteVerifier asks the provider's user endpoint about the token. Results
// are cached briefly by token hash so a burst of logins costs one round trip.
type RemoteVerifier struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	breaker  Breaker
	cache    *cache.MemoryCache[*Assertion]
	cacheTTL time.Duration
}

func NewRemoteVerifier(baseURL, apiKey string, client *http.Client, breaker Breaker, cacheTTL time.Duration) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteVerifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   client,
		breaker:  breaker,
		cache:    cache.NewMemoryCache[*Assertion](),
		cacheTTL: cacheTTL,
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Assertion, error) {
	key := tokenKey(token)
	if a, ok := v.cache.Get(key); ok {
		copied := *a
		return &copied, nil
	}

	var (
		claims   supabaseClaims
		rejected bool
	)
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if v.apiKey != "" {
			req.Header.Set("apikey", v.apiKey)
		}
		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// The provider answered; the token is bad, not the provider.
			rejected = true
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("identity provider returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			rejected = true
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(&claims)
	}

	var err error
	if v.breaker != nil {
		err = v.breaker.Execute(ctx, BreakerService, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "identity provider temporarily disabled", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "identity provider unreachable", err)
	}
	if rejected {
		return nil, apperrors.New(apperrors.CodeInvalidToken, "provider token rejected")
	}

	a := claims.assertion()
	v.cache.Set(key, a, v.cacheTTL)
	copied := *a
	return &copied, nil
}

var (
	_ Verifier = (*LocalVerifier)(nil)
	_ Verifier = (*RemoteVerifier)(nil)
	_ Breaker  = (*circuitbreaker.CircuitBreaker)(nil)
)
