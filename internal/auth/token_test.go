package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testIssuer(t *testing.T, ttl time.Duration) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer("test-secret", "metasaas-test", ttl)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := testIssuer(t, time.Hour)

	for _, role := range []Role{RoleTenant, RoleAdmin, RoleSuperadmin} {
		token, expiresAt, err := issuer.Issue(Principal{ID: "user-1", Role: role})
		if err != nil {
			t.Fatalf("Issue(%s): %v", role, err)
		}
		if time.Until(expiresAt) <= 0 {
			t.Fatalf("expected future expiry, got %v", expiresAt)
		}
		identity, err := issuer.Verify(token)
		if err != nil {
			t.Fatalf("Verify(%s): %v", role, err)
		}
		if identity.ID != "user-1" || identity.Role != role {
			t.Fatalf("identity %+v does not match issued principal", identity)
		}
	}
}

func TestVerifyExpired(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.WithClock(func() time.Time { return issued })

	token, _, err := issuer.Issue(Principal{ID: "user-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.WithClock(func() time.Time { return issued.Add(2 * time.Hour) })
	if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	token, _, err := issuer.Issue(Principal{ID: "user-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Flip one byte of the signature segment.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := issuer.Verify(tampered); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("got %v, want ErrTokenSignature", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	a := testIssuer(t, time.Hour)
	b, err := NewTokenIssuer("another-secret", "metasaas-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, _, err := a.Issue(Principal{ID: "user-1", Role: RoleTenant})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("got %v, want ErrTokenSignature", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := issuer.Verify(raw); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("Verify(%q): got %v, want ErrTokenMalformed", raw, err)
		}
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	other, err := NewTokenIssuer("test-secret", "someone-else", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, _, err := other.Issue(Principal{ID: "user-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer := testIssuer(t, time.Hour)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("got %v, want ErrTokenMalformed", err)
	}
}
