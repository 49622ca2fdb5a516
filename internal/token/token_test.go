package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueVerify_Roundtrip(t *testing.T) {
	a, err := New("test-secret", 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tok, err := a.Issue("collect:omegalock")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	scope, err := a.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if scope != "collect:omegalock" {
		t.Errorf("expected scope collect:omegalock, got %q", scope)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	a, _ := New("test-secret", 5*time.Minute)
	a.WithClock(func() time.Time { return now })

	tok, err := a.Issue("collect:test")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Still valid just before the window closes.
	now = base.Add(4*time.Minute + 59*time.Second)
	if _, err := a.Verify(tok); err != nil {
		t.Errorf("expected token valid at T+4:59, got %v", err)
	}

	// Rejected just after.
	now = base.Add(5*time.Minute + 1*time.Second)
	_, err = a.Verify(tok)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired at T+5:01, got %v", err)
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	a, _ := New("test-secret", 5*time.Minute)
	tok, _ := a.Issue("collect:test")

	// Flip one character of the signature. Every single-character change
	// must fail verification.
	dot := strings.IndexByte(tok, '.')
	for i := dot + 1; i < len(tok); i++ {
		b := []byte(tok)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		if _, err := a.Verify(string(b)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("tampered signature at offset %d verified", i)
		}
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	a, _ := New("test-secret", 5*time.Minute)
	b, _ := New("other-secret", 5*time.Minute)

	tok, _ := b.Issue("collect:test")
	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with a different secret verified: %v", err)
	}

	for _, bad := range []string{"", "nodot", ".", "x.", ".y", "!!!.abc"} {
		if _, err := a.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("malformed token %q: expected ErrInvalidToken, got %v", bad, err)
		}
	}
}

func TestVerify_FutureIssuedAt(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	a, _ := New("test-secret", 5*time.Minute)
	a.WithClock(func() time.Time { return now })

	tok, _ := a.Issue("collect:test")

	// A verifier whose clock is far behind the issuer must reject.
	now = base.Add(-2 * time.Minute)
	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected rejection of future-issued token, got %v", err)
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := New("", time.Minute); err == nil {
		t.Error("expected error for empty secret")
	}
}
