package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Identities(ctx).Create(ctx, &Identity{ID: "id-1", Email: "a@x.io", PasswordHash: "h"}); err != nil {
			return err
		}
		if err := tx.RefreshSessions(ctx).Rotate(ctx, "id-1", "hash-1", clock.Now().Add(time.Hour)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx: got %v", err)
	}
	if _, err := store.Identities(ctx).FindByID(ctx, "id-1"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("identity survived rollback: %v", err)
	}
	if ok, _ := store.RefreshSessions(ctx).IsActive(ctx, "hash-1"); ok {
		t.Fatalf("session survived rollback")
	}
}

func TestMemoryStoreRotateKeepsOneActive(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()
	if err := store.Identities(ctx).Create(ctx, &Identity{ID: "id-1", Email: "a@x.io", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sessions := store.RefreshSessions(ctx)
	exp := clock.Now().Add(time.Hour)
	for _, hash := range []string{"h1", "h2", "h3"} {
		if err := sessions.Rotate(ctx, "id-1", hash, exp); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}
	for hash, want := range map[string]bool{"h1": false, "h2": false, "h3": true, "unknown": false} {
		got, err := sessions.IsActive(ctx, hash)
		if err != nil {
			t.Fatalf("IsActive: %v", err)
		}
		if got != want {
			t.Fatalf("IsActive(%s) = %v, want %v", hash, got, want)
		}
	}
	clock.Advance(time.Hour)
	if ok, _ := sessions.IsActive(ctx, "h3"); ok {
		t.Fatalf("expired session reported active")
	}
	if err := sessions.Rotate(ctx, "missing", "h4", exp); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("rotate for unknown identity: got %v", err)
	}
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	if err := store.Identities(ctx).Create(ctx, &Identity{Email: "a@x.io"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Identities(ctx).Create(ctx, &Identity{Email: "a@x.io"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("got %v, want ErrDuplicateEmail", err)
	}
}
