package identity

import "browserjam/cmd/security/password"

// PasswordHasher hashes and verifies account passwords using the
// security/password configuration.
type PasswordHasher struct {
	cfg password.Config
}

// NewPasswordHasher constructs a hasher for cfg.
func NewPasswordHasher(cfg password.Config) *PasswordHasher {
	return &PasswordHasher{cfg: cfg}
}

// PasswordHasherFromEnv builds a hasher from JAM_PASSWORD_* / JAM_ARGON2_*.
func PasswordHasherFromEnv() (*PasswordHasher, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	return NewPasswordHasher(cfg), nil
}

// Hash validates plain against the policy and returns a PHC argon2id string.
// Policy failures are reported as ErrInvalidInput.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	const op = "identity.HashPassword"

	enc, err := h.cfg.Hash(plain)
	if password.IsPolicyViolation(err) {
		return "", invalid(op, err.Error())
	}
	return enc, err
}

// Verify reports whether plain matches encoded.
func (h *PasswordHasher) Verify(plain, encoded string) (bool, error) {
	return h.cfg.Verify(encoded, plain)
}

// NeedsRehash reports whether encoded was made with weaker parameters.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	return h.cfg.NeedsRehash(encoded)
}
