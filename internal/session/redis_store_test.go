package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestRevokeAndCheckSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	revoked, err := store.IsSessionRevoked(ctx, "sid:abc")
	if err != nil {
		t.Fatalf("IsSessionRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected fresh session to be active")
	}

	if err := store.RevokeSession(ctx, "sid:abc", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	revoked, err = store.IsSessionRevoked(ctx, "sid:abc")
	if err != nil {
		t.Fatalf("IsSessionRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected session to be revoked")
	}

	record, err := store.Lookup(ctx, "sid:abc")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if record.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", record.UserID)
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RevokeSession(ctx, "sid:short", "user-2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	revoked, err := store.IsSessionRevoked(ctx, "sid:short")
	if err != nil {
		t.Fatalf("IsSessionRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected revocation to lapse once the token expired")
	}
}

func TestRevokeExpiredSessionIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RevokeSession(ctx, "sid:old", "user-3", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if s.Exists("revoked:sid:old") {
		t.Error("expected no key for an already expired session")
	}
}

func TestSessionIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RevokeSession(ctx, "sid:one", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	revoked, err := store.IsSessionRevoked(ctx, "sid:two")
	if err != nil {
		t.Fatalf("IsSessionRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected unrelated session to stay active")
	}
}
