package session

import "errors"

var (
	// ErrAuthentication is the single undifferentiated failure for wrong
	// passwords, invalid/expired tokens, and superseded refresh tokens.
	// Callers and clients never learn which one it was.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidToken is returned by the token layer when a token fails
	// signature or claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned by the token layer for structurally valid
	// tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
