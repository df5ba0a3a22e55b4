package gateward

import (
	"errors"
	"testing"
	"time"
)

func testReceiptConfig() ReceiptConfig {
	return ReceiptConfig{
		Enabled:    true,
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		TTL:        time.Hour,
		Issuer:     "gateward",
	}
}

func TestReceiptIssueAndVerify(t *testing.T) {
	issuer := newReceiptIssuer(testReceiptConfig())

	verifiedAt := time.Now()
	token, err := issuer.Issue("session-1", "member-1", "tenant-1", verifiedAt)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "member-1" {
		t.Fatalf("expected subject member-1, got %s", claims.Subject)
	}
	if claims.SessionID != "session-1" {
		t.Fatalf("expected session-1, got %s", claims.SessionID)
	}
	if claims.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %s", claims.TenantID)
	}
	if claims.ID == "" {
		t.Fatal("expected non-empty receipt id")
	}
}

func TestReceiptRejectsWrongKey(t *testing.T) {
	issuer := newReceiptIssuer(testReceiptConfig())

	token, err := issuer.Issue("session-1", "member-1", "tenant-1", time.Now())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other := testReceiptConfig()
	other.SigningKey = []byte("ffffffffffffffffffffffffffffffff")
	verifier := newReceiptIssuer(other)

	if _, err := verifier.Verify(token); !errors.Is(err, ErrReceiptInvalid) {
		t.Fatalf("expected ErrReceiptInvalid, got %v", err)
	}
}

func TestReceiptRejectsExpired(t *testing.T) {
	cfg := testReceiptConfig()
	cfg.TTL = time.Minute
	issuer := newReceiptIssuer(cfg)

	token, err := issuer.Issue("session-1", "member-1", "tenant-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := issuer.Verify(token); !errors.Is(err, ErrReceiptInvalid) {
		t.Fatalf("expected ErrReceiptInvalid for expired receipt, got %v", err)
	}
}

func TestReceiptsDisabled(t *testing.T) {
	issuer := newReceiptIssuer(ReceiptConfig{Enabled: false})
	if issuer != nil {
		t.Fatal("expected nil issuer when disabled")
	}
	if _, err := issuer.Issue("s", "p", "t", time.Now()); !errors.Is(err, ErrReceiptsDisabled) {
		t.Fatalf("expected ErrReceiptsDisabled, got %v", err)
	}
	if _, err := issuer.Verify("token"); !errors.Is(err, ErrReceiptsDisabled) {
		t.Fatalf("expected ErrReceiptsDisabled, got %v", err)
	}
}
