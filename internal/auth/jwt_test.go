package auth

import (
	"testing"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/config"
)

func TestIssueAndVerifyCallToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:    "secret",
		JWTIssuer:    "callastar",
		JWTAudience:  "call-session",
		CallTokenTTL: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueCallToken(now, "user-1", "bk_1", "bk-1-room", "fan")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected token string")
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.BookingID != "bk_1" || claims.Room != "bk-1-room" || claims.Role != "fan" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", CallTokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueCallToken(now, "u", "bk_1", "r", "fan")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(2*time.Minute)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyForBookingRejectsForeignBooking(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", CallTokenTTL: time.Minute})
	now := time.Now()
	tok, err := m.IssueCallToken(now, "u", "bk_1", "r", "fan")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.VerifyForBooking(tok, "bk_2", now); err == nil {
		t.Fatalf("expected booking scope mismatch")
	}
	if _, err := m.VerifyForBooking(tok, "bk_1", now); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
}
