package auth

import "errors"

// Sentinel errors returned by the JWT manager.
// Callers should use errors.Is for comparison.
var (
	// ErrTokenExpired is returned when a JWT has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified,
	// or its subject is not a user id.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrSigningDisabled is returned when minting a token with a manager
	// that only holds the public key.
	ErrSigningDisabled = errors.New("auth: no private key configured")
)
