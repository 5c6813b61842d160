package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb), mr
}

func TestBlacklistAndLookup(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.Blacklist(ctx, "tok-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be written")
	}

	revoked, err := l.IsBlacklisted(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be blacklisted")
	}

	revoked, err = l.IsBlacklisted(ctx, "tok-other")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if revoked {
		t.Fatal("unexpected blacklist hit")
	}

	// Entry self-deletes once the token's own lifetime has passed.
	mr.FastForward(2 * time.Hour)
	revoked, err = l.IsBlacklisted(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if revoked {
		t.Fatal("expected entry to expire with the token")
	}
}

func TestBlacklistSkipsExpiredToken(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.Blacklist(ctx, "stale", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	if ok {
		t.Fatal("already-expired token must not be written")
	}
	if got := len(mr.Keys()); got != 0 {
		t.Fatalf("expected no keys, got %d", got)
	}
}

func TestRefreshSlots(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	exp := time.Now().Add(7 * 24 * time.Hour)

	if err := l.RecordRefreshSlot(ctx, "alice", "jti-1", exp); err != nil {
		t.Fatalf("RecordRefreshSlot: %v", err)
	}
	if err := l.RecordRefreshSlot(ctx, "alice", "jti-2", exp); err != nil {
		t.Fatalf("RecordRefreshSlot: %v", err)
	}
	if err := l.RecordRefreshSlot(ctx, "bob", "jti-3", exp); err != nil {
		t.Fatalf("RecordRefreshSlot: %v", err)
	}

	has, err := l.HasRefreshSlot(ctx, "alice", "jti-1")
	if err != nil {
		t.Fatalf("HasRefreshSlot: %v", err)
	}
	if !has {
		t.Fatal("expected slot for alice/jti-1")
	}

	n, err := l.RevokeAllRefreshSlots(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeAllRefreshSlots: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}

	has, err = l.HasRefreshSlot(ctx, "alice", "jti-1")
	if err != nil {
		t.Fatalf("HasRefreshSlot: %v", err)
	}
	if has {
		t.Fatal("slot should be gone after revoke-all")
	}

	// Bob's slots are untouched.
	has, err = l.HasRefreshSlot(ctx, "bob", "jti-3")
	if err != nil {
		t.Fatalf("HasRefreshSlot: %v", err)
	}
	if !has {
		t.Fatal("bob's slot must survive alice's revocation")
	}

	// Idempotence: second call deletes nothing and does not error.
	n, err = l.RevokeAllRefreshSlots(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeAllRefreshSlots (second): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deletions on repeat, got %d", n)
	}
}

func TestRevokeSingleRefreshSlot(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	if err := l.RecordRefreshSlot(ctx, "alice", "jti-1", exp); err != nil {
		t.Fatalf("RecordRefreshSlot: %v", err)
	}
	if err := l.RevokeRefreshSlot(ctx, "alice", "jti-1"); err != nil {
		t.Fatalf("RevokeRefreshSlot: %v", err)
	}
	has, err := l.HasRefreshSlot(ctx, "alice", "jti-1")
	if err != nil {
		t.Fatalf("HasRefreshSlot: %v", err)
	}
	if has {
		t.Fatal("slot should be gone")
	}
	// Removing an absent slot is a no-op.
	if err := l.RevokeRefreshSlot(ctx, "alice", "jti-1"); err != nil {
		t.Fatalf("RevokeRefreshSlot (repeat): %v", err)
	}
}
