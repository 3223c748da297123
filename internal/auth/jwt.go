// Package auth handles sessions for creatorhub: bcrypt passwords, Google
// sign-in, and the signed session cookie that ties a browser to a user.
//
// SESSION FLOW:
//  1. The user signs up / logs in with email+password, or comes back from
//     Google via /auth/google/callback.
//  2. The server issues a JWT whose "sub" is the internal user ID and stores
//     it in the HttpOnly "token" cookie.
//  3. Every /api request goes through RequireAuth, which validates the JWT
//     and puts the user ID in the request context.
//
// The JWT is verified with the HMAC secret alone, so no session table is
// needed. Logging out clears the cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "creatorhub"

	// SessionTTL is how long a login lasts. The dashboard is used across a
	// working week, so a short-lived token would log people out mid-campaign.
	SessionTTL = 7 * 24 * time.Hour
)

// TokenService issues and verifies session tokens (HS256).
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), ttl: SessionTTL}, nil
}

// TTL reports the lifetime of tokens from Generate. The cookie uses the
// same value for Max-Age.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Generate signs a session token for userID valid for TTL().
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to get an already expired token.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenStr and returns the user ID in its "sub" claim.
//
// Besides the signature, the parser checks expiry, the issuer and that
// the algorithm is HS256. Pinning the algorithm matters: a token that
// declares "alg":"none" must never be accepted.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
