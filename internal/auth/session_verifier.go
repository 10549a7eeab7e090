package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSessionToken indicates no credential was supplied.
	ErrMissingSessionToken = errors.New("session verifier: token required")
	// ErrInvalidSessionToken indicates the credential failed verification.
	ErrInvalidSessionToken = errors.New("session verifier: invalid token")
	// ErrExpiredSessionToken indicates the credential is past its expiry.
	ErrExpiredSessionToken = errors.New("session verifier: token expired")
	// ErrMissingSessionSubject indicates the credential carried no subject.
	ErrMissingSessionSubject = errors.New("session verifier: subject required")

	errMissingUpstreamSecret = errors.New("session verifier: signing secret required")
	errMissingUpstreamIssuer = errors.New("session verifier: issuer required")
)

// SessionClaims exposes the verified identity and display fields required by
// downstream services. Validity of the upstream session is established by an
// external collaborator; this package only defines the seam.
type SessionClaims struct {
	Subject     string
	Username    string
	DisplayName string
	AvatarURL   string
}

// SessionVerifier verifies an upstream session credential and returns the
// authenticated identity.
type SessionVerifier interface {
	Verify(ctx context.Context, credential string) (SessionClaims, error)
}

type upstreamJWTClaims struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	jwt.RegisteredClaims
}

// UpstreamVerifierConfig describes how to validate identity-provider JWTs.
type UpstreamVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// UpstreamVerifier validates HS256 JWTs minted by the identity provider.
type UpstreamVerifier struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewUpstreamVerifier constructs a verifier with validated configuration.
func NewUpstreamVerifier(cfg UpstreamVerifierConfig) (*UpstreamVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingUpstreamSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingUpstreamIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &UpstreamVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// Verify validates the supplied credential and returns the session claims.
func (v *UpstreamVerifier) Verify(_ context.Context, credential string) (SessionClaims, error) {
	token := strings.TrimSpace(credential)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &upstreamJWTClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if claims.Issuer != v.issuer {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return SessionClaims{
		Subject:     strings.TrimSpace(claims.Subject),
		Username:    strings.TrimSpace(claims.Username),
		DisplayName: strings.TrimSpace(claims.DisplayName),
		AvatarURL:   strings.TrimSpace(claims.AvatarURL),
	}, nil
}
