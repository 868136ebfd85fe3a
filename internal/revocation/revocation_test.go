package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/postplane/internal/auth"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/reliability"
)

func storesUnderTest(t *testing.T) (map[string]auth.RevocationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]auth.RevocationStore{
		"redis":  NewRedisStore(client, reliability.FailClosed),
		"memory": NewMemoryStore(),
	}, mr
}

func TestStores_RevokeAndCheck(t *testing.T) {
	stores, _ := storesUnderTest(t)
	ctx := context.Background()

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			if revoked, err := store.IsRevoked(ctx, "jti-1"); err != nil || revoked {
				t.Fatalf("Expected fresh jti to be allowed, got %v %v", revoked, err)
			}
			if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
				t.Fatalf("Revoke failed: %v", err)
			}
			if revoked, err := store.IsRevoked(ctx, "jti-1"); err != nil || !revoked {
				t.Fatalf("Expected jti to be revoked, got %v %v", revoked, err)
			}
			if err := store.Revoke(ctx, "jti-old", time.Now().Add(-time.Minute)); err != nil {
				t.Fatalf("Revoke of expired token failed: %v", err)
			}
			if revoked, _ := store.IsRevoked(ctx, "jti-old"); revoked {
				t.Error("Expected already-expired token to be skipped")
			}
		})
	}
}

func TestStores_ConsumeOnce(t *testing.T) {
	stores, _ := storesUnderTest(t)
	ctx := context.Background()
	until := time.Now().Add(time.Hour)

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			if ok, err := store.Consume(ctx, "jti-c", until); err != nil || !ok {
				t.Fatalf("Expected first consume to win, got %v %v", ok, err)
			}
			if ok, err := store.Consume(ctx, "jti-c", until); err != nil || ok {
				t.Errorf("Expected second consume to lose, got %v %v", ok, err)
			}
			if revoked, _ := store.IsRevoked(ctx, "jti-c"); !revoked {
				t.Error("Expected consumed jti to be revoked")
			}
		})
	}
}

func TestRedisStore_EntryExpiresWithToken(t *testing.T) {
	stores, mr := storesUnderTest(t)
	store := stores["redis"]
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-2", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	mr.FastForward(11 * time.Minute)
	if revoked, _ := store.IsRevoked(ctx, "jti-2"); revoked {
		t.Error("Expected denylist entry to expire")
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()
	ctx := context.Background()

	closed := NewRedisStore(client, reliability.FailClosed)
	_, err := closed.IsRevoked(ctx, "jti")
	if apperrors.CodeOf(err) != apperrors.CodeUpstreamUnavailable {
		t.Errorf("Expected upstream_unavailable when failing closed, got %v", err)
	}
	if err := closed.Revoke(ctx, "jti", time.Now().Add(time.Hour)); apperrors.CodeOf(err) != apperrors.CodeUpstreamUnavailable {
		t.Errorf("Expected revoke to report upstream_unavailable, got %v", err)
	}

	open := NewRedisStore(client, reliability.FailOpen)
	if revoked, err := open.IsRevoked(ctx, "jti"); err != nil || revoked {
		t.Errorf("Expected fail-open lookup to allow, got %v %v", revoked, err)
	}
}
