package crypto

import "errors"

// Sentinel errors for key handling.
var (
	// ErrInvalidPublicKey indicates the provided public key is malformed.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSecretKey indicates the provided secret key material is malformed.
	ErrInvalidSecretKey = errors.New("invalid secret key")
)
