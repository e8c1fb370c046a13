package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store, err := NewRedisStore(client, ttl)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, mr
}

func TestSessionRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session id must be generated")
	}
	if !sess.ExpiresAt.Equal(sess.CreatedAt.Add(time.Hour)) {
		t.Fatalf("expiry %v, want created+1h", sess.ExpiresAt)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PrincipalID != "u1" || got.Role != "admin" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := store.Get(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "tenant")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after expiry", err)
	}
	if err := store.Touch(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("touch expired: got %v, want ErrNotFound", err)
	}
}

func TestTouchExtendsExpiry(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "tenant")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Just short of expiry, a touch buys a full new window.
	mr.FastForward(50 * time.Second)
	if err := store.Touch(ctx, sess.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	mr.FastForward(50 * time.Second)

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get after touch: %v", err)
	}
	if !got.ExpiresAt.After(sess.ExpiresAt) {
		t.Fatalf("touch must push out ExpiresAt: %v -> %v", sess.ExpiresAt, got.ExpiresAt)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, "u1", "tenant")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after delete", err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
}
