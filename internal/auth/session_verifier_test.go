package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testUpstreamSecret = "upstream-secret"
	testUpstreamIssuer = "identity-provider"
	testUpstreamUserID = "user-123"
)

func mintUpstreamToken(t *testing.T, secret string, claims upstreamJWTClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestUpstreamVerifierAcceptsValidToken(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewUpstreamVerifier(UpstreamVerifierConfig{
		SigningSecret: []byte(testUpstreamSecret),
		Issuer:        testUpstreamIssuer,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}

	signed := mintUpstreamToken(t, testUpstreamSecret, upstreamJWTClaims{
		Username:    "alice",
		DisplayName: "Alice Example",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testUpstreamIssuer,
			Subject:   testUpstreamUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	claims, err := verifier.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("unexpected verification failure: %v", err)
	}
	if claims.Subject != testUpstreamUserID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Username != "alice" {
		t.Fatalf("unexpected username: %s", claims.Username)
	}
}

func TestUpstreamVerifierRejectsExpiredToken(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewUpstreamVerifier(UpstreamVerifierConfig{
		SigningSecret: []byte(testUpstreamSecret),
		Issuer:        testUpstreamIssuer,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}

	signed := mintUpstreamToken(t, testUpstreamSecret, upstreamJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testUpstreamIssuer,
			Subject:   testUpstreamUserID,
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})

	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestUpstreamVerifierRejectsWrongIssuer(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewUpstreamVerifier(UpstreamVerifierConfig{
		SigningSecret: []byte(testUpstreamSecret),
		Issuer:        testUpstreamIssuer,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}

	signed := mintUpstreamToken(t, testUpstreamSecret, upstreamJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   testUpstreamUserID,
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestUpstreamVerifierRejectsMissingToken(t *testing.T) {
	verifier, err := NewUpstreamVerifier(UpstreamVerifierConfig{
		SigningSecret: []byte(testUpstreamSecret),
		Issuer:        testUpstreamIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), "  "); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestUpstreamVerifierRejectsMissingSubject(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewUpstreamVerifier(UpstreamVerifierConfig{
		SigningSecret: []byte(testUpstreamSecret),
		Issuer:        testUpstreamIssuer,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}

	signed := mintUpstreamToken(t, testUpstreamSecret, upstreamJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testUpstreamIssuer,
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
