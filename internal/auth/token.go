// ABOUTME: JWT token verification for authenticating API callers
// ABOUTME: HS256 tokens whose "sub" claim is the user ID sessions are scoped to

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// Issuer is written to and required in every token.
const Issuer = "coven-concierge"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
// Returns ErrWeakSecret if the secret is shorter than MinSecretLength.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify validates the token and extracts the user ID from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := v.parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate creates a new JWT token for the given user ID with expiration
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
