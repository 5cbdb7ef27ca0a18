package auth

import (
	"context"
	"time"
)

// JWTService issues and checks the service tokens API clients present.
// A token names the client it was issued to; there are no users.
type JWTService interface {
	// GenerateToken creates a signed token for the named client.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken checks signature and lifetime and returns the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of a service token.
type Claims struct {
	// Subject names the client the token was issued to.
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
