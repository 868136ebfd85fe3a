// Package revocation keeps the denylist of logged-out token ids.
package revocation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/cache"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/reliability"
)

const keyPrefix = "revoked:"

// RedisStore shares the denylist across instances. Entries expire with the
// token they revoke. When Redis fails a lookup, strategy decides: fail-open
// treats the token as live, fail-closed rejects it as upstream unavailable.
type RedisStore struct {
	client   *redis.Client
	strategy reliability.FailureStrategy
	now      func() time.Time
}

func NewRedisStore(client *redis.Client, strategy reliability.FailureStrategy) *RedisStore {
	return &RedisStore{client: client, strategy: strategy, now: time.Now}
}

// Revoke always reports a Redis failure; a logout that cannot be recorded
// must not look successful.
func (s *RedisStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, keyPrefix+jti, "1", ttl).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "revocation store unavailable", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, keyPrefix+jti).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	case reliability.ShouldAllow(s.strategy, err):
		log.Printf("revocation: redis lookup failed, failing open: %v", err)
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "revocation store unavailable", err)
}

// Consume marks jti revoked and reports whether this call was the one that
// did it. SETNX makes the check and the write a single step across instances.
func (s *RedisStore) Consume(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeUpstreamUnavailable, "revocation store unavailable", err)
	}
	return ok, nil
}

// MemoryStore is the single-instance fallback used when Redis is not configured.
type MemoryStore struct {
	entries *cache.MemoryCache[struct{}]
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: cache.NewMemoryCache[struct{}](), now: time.Now}
}

func (s *MemoryStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	s.entries.Set(jti, struct{}{}, ttl)
	return nil
}

func (s *MemoryStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok := s.entries.Get(jti)
	return ok, nil
}

func (s *MemoryStore) Consume(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return false, nil
	}
	return s.entries.SetIfAbsent(jti, struct{}{}, ttl), nil
}

// Purge drops expired entries; call it periodically on long-lived processes.
func (s *MemoryStore) Purge() int {
	return s.entries.Purge()
}

var (
	_ auth.RevocationStore = (*RedisStore)(nil)
	_ auth.RevocationStore = (*MemoryStore)(nil)
)
