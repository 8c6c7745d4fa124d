package app

import (
	"errors"
	"fmt"

	"browserjam/cmd/identity"
	"browserjam/cmd/security/token"
)

// newTokenManager enforces the signing key policy at startup. Without
// JAM_TOKEN_SECRET_KEY_HEX tokens are signed with a per-process key and do
// not survive a restart; JAM_REQUIRE_SIGNING_KEY=true makes that fatal.
func newTokenManager(log Logger) (*token.Manager, error) {
	cfg, err := token.LoadConfigFromEnv()
	if err != nil {
		if errors.Is(err, token.ErrKeyMissing) {
			return nil, fmt.Errorf("security policy: %s=true but %s is missing", token.RequireKeyEnv, token.SecretKeyEnv)
		}
		return nil, fmt.Errorf("security policy: %w", err)
	}

	m, err := token.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	if m.Ephemeral() {
		log.Warn("token.key.ephemeral", "hint", "set "+token.SecretKeyEnv+" to keep sessions across restarts", "public_key", m.PublicKeyHex())
	}
	return m, nil
}

func newPasswordHasher() (*identity.PasswordHasher, error) {
	h, err := identity.PasswordHasherFromEnv()
	if err != nil {
		return nil, fmt.Errorf("security policy: %w", err)
	}
	return h, nil
}
