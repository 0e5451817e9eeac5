// Package auth provides login, session and token handling for the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/firealarmweb/firealarm/internal/models"
)

const tokenIssuer = "firealarm"

// Claims represents the JWT claims for access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"usr"`
	Role     models.Role `json:"role"`
}

// Identity returns the caller the claims describe.
func (c *Claims) Identity() models.Identity {
	return models.Identity{UserID: c.Subject, Username: c.Username, Role: c.Role}
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret []byte, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// GenerateToken creates a signed access token for id.
func (s *JWTService) GenerateToken(id models.Identity) (string, error) {
	if !id.Authenticated() {
		return "", errors.New("cannot issue token for anonymous identity")
	}
	now := s.now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username: id.Username,
		Role:     id.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateIdentity validates a token and returns its identity.
func (s *JWTService) ValidateIdentity(tokenString string) (models.Identity, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return models.Identity{}, err
	}
	return claims.Identity(), nil
}

// TTLSeconds returns the token TTL in seconds.
func (s *JWTService) TTLSeconds() int {
	return int(s.ttl.Seconds())
}
