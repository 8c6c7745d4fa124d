package token

import "errors"

// Public, stable errors for callers.
var (
	ErrConfig       = errors.New("token: invalid config")
	ErrKeyMissing   = errors.New("token: signing key missing")
	ErrInvalidToken = errors.New("token: invalid token")
)
