package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	token, err := m.GenerateAccessToken(7, "kim@example.com", "kim")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != 7 || claims.Email != "kim@example.com" || claims.Nickname != "kim" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "whiteboard-api" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestAccessTokenExpired(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute, 24*time.Hour)

	token, err := m.GenerateAccessToken(1, "a@b.c", "a")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.ValidateAccessToken(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestAccessTokenWrongSecret(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	other := NewJWTManager("other-secret", time.Hour, 24*time.Hour)

	token, err := m.GenerateAccessToken(1, "a@b.c", "a")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := other.ValidateAccessToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAccessTokenGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	if _, err := m.ValidateAccessToken("not.a.token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	token, err := m.GenerateRefreshToken(42)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	userID, err := m.ValidateRefreshToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if userID != 42 {
		t.Fatalf("userID = %d, want 42", userID)
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	refresh, err := m.GenerateRefreshToken(7)
	if err != nil {
		t.Fatalf("generate refresh failed: %v", err)
	}
	if _, err := m.ValidateAccessToken(refresh); err != ErrInvalidToken {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}

	access, err := m.GenerateAccessToken(7, "kim@example.com", "kim")
	if err != nil {
		t.Fatalf("generate access failed: %v", err)
	}
	if _, err := m.ValidateRefreshToken(access); err != ErrInvalidToken {
		t.Fatalf("access token must not pass as refresh token, got %v", err)
	}
}

func TestRefreshTokenExpired(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, -time.Minute)

	token, err := m.GenerateRefreshToken(42)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.ValidateRefreshToken(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
