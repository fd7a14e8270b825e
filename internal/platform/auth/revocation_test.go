package auth

import (
	"testing"
	"time"
)

func TestDenylist_RevokeAndExpire(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := NewDenylist()
	d.now = func() time.Time { return now }

	d.Revoke("a", now.Add(time.Hour))
	d.Revoke("b", now.Add(-time.Second))
	d.Revoke("", now.Add(time.Hour))

	if !d.IsRevoked("a") {
		t.Error("expected a to be revoked")
	}
	if d.IsRevoked("b") {
		t.Error("an already expired token needs no entry")
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", d.Len())
	}

	now = now.Add(2 * time.Hour)
	if d.IsRevoked("a") {
		t.Error("entry should lapse with the token")
	}
	if d.Len() != 0 {
		t.Errorf("expected expired entries to be pruned, got %d", d.Len())
	}
}

func TestTokenIssuer_RevokedTokenFailsVerify(t *testing.T) {
	iss := testIssuer()
	tok, _ := issue(t, iss, RolePatient)

	_, claims, err := iss.verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	iss.Revoke(claims)

	if _, err := iss.Verify(tok); err != ErrTokenRevoked {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	other, _ := issue(t, iss, RolePatient)
	if _, err := iss.Verify(other); err != nil {
		t.Errorf("other tokens stay valid: %v", err)
	}
}
