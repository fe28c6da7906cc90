package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	tokens, err := NewTokens("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	raw, exp, err := tokens.Issue("user-1", "alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v is not in the future", exp)
	}

	userID, err := tokens.Verify(raw)
	if err != nil || userID != "user-1" {
		t.Errorf("Verify = %q, %v", userID, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	tokens, _ := NewTokens("s3cret", time.Hour)
	other, _ := NewTokens("different", time.Hour)
	foreign, _, _ := other.Issue("user-1", "alice")

	good, _, _ := tokens.Issue("user-1", "alice")
	tampered := good[:len(good)-2] + "xx"

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))

	for name, raw := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"other secret": foreign,
		"tampered":     tampered,
		"alg none":     noneAlg,
		"wrong issuer": wrongIssuer,
	} {
		if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyExpired(t *testing.T) {
	tokens, _ := NewTokens("s3cret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, _, _ := tokens.Issue("user-1", "alice")

	tokens.now = time.Now
	if _, err := tokens.Verify(raw); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
	tokens, _ := NewTokens("x", 0)
	if tokens.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", tokens.ttl, DefaultTTL)
	}
	if strings.TrimSpace(string(tokens.secret)) != "x" {
		t.Error("secret not kept")
	}
}
