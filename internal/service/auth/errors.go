package auth

import "errors"

// Token errors. The auth middleware maps all of them to 401.
var (
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")
	ErrMissingToken     = errors.New("authentication token is missing")
	// ErrEmptySubject is returned when a token is requested without a client name.
	ErrEmptySubject = errors.New("token subject cannot be empty")
)
