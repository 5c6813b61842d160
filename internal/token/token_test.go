package token

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, clock *time.Time, opts ...Option) *Issuer {
	t.Helper()
	base := []Option{WithClock(func() time.Time { return *clock })}
	iss, err := NewIssuer("test-secret", append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestAccessRoundTrip(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueAccess("user-1", "admin")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if tok.Value == "" || tok.ID == "" {
		t.Fatal("expected non-empty token and id")
	}

	claims, err := iss.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Kind != KindAccess {
		t.Fatalf("expected access kind, got %v", claims.Kind)
	}
	if claims.TokenID != tok.ID {
		t.Fatalf("jti mismatch: %s vs %s", claims.TokenID, tok.ID)
	}
}

func TestVerifyClassifiesExpired(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueAccess("user-1", "user")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := iss.Verify(tok.Value); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyClassifiesNotYetValid(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueAccess("user-1", "user")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	now = now.Add(-time.Minute)
	if _, err := iss.Verify(tok.Value); !errors.Is(err, ErrNotYetValid) {
		t.Fatalf("expected ErrNotYetValid, got %v", err)
	}
}

func TestVerifyClassifiesBadSignature(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)
	other, err := NewIssuer("another-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	tok, err := other.IssueAccess("user-1", "user")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := iss.Verify(tok.Value); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyClassifiesMalformed(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)

	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := iss.Verify(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Verify(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestRefreshCarriesKindAndLongTTL(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueRefresh("user-9", "readonly")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if got := tok.ExpiresAt.Sub(now.UTC()); got != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", got)
	}
	claims, err := iss.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Kind != KindRefresh {
		t.Fatalf("expected refresh kind, got %v", claims.Kind)
	}
}

func TestVerifyResetRejectsOtherKinds(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, &now)

	// Well-signed, unexpired, but not a reset token.
	access, err := iss.IssueAccess("user-1", "user")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := iss.VerifyReset(access.Value); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for access token, got %v", err)
	}

	refresh, err := iss.IssueRefresh("user-1", "user")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := iss.VerifyReset(refresh.Value); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for refresh token, got %v", err)
	}

	reset, err := iss.IssueReset("user-1")
	if err != nil {
		t.Fatalf("IssueReset: %v", err)
	}
	claims, err := iss.VerifyReset(reset.Value)
	if err != nil {
		t.Fatalf("VerifyReset: %v", err)
	}
	if claims.UserID != "user-1" || claims.Kind != KindReset {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := reset.ExpiresAt.Sub(now.UTC()); got != 15*time.Minute {
		t.Fatalf("unexpected reset ttl: %v", got)
	}
}

func TestIssuerRequiresSecretAndSubject(t *testing.T) {
	if _, err := NewIssuer("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
	now := time.Now()
	iss := newTestIssuer(t, &now)
	if _, err := iss.IssueAccess("", "user"); err == nil {
		t.Fatal("expected error for empty userID")
	}
}
