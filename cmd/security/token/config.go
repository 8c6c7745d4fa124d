package token

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// SecretKeyEnv is the env var holding the hex-encoded signing key.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretKeyEnv = "JAM_TOKEN_SECRET_KEY_HEX"

	// RequireKeyEnv forbids the ephemeral key fallback when true.
	RequireKeyEnv = "JAM_REQUIRE_SIGNING_KEY"
)

// Config controls token issuance and verification.
type Config struct {
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration

	// SecretKeyHex is the Ed25519 secret key. Empty means ephemeral.
	SecretKeyHex string

	// RequireKey rejects an empty SecretKeyHex.
	RequireKey bool
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:    "browserjam",
		TTL:       7 * 24 * time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv overlays JAM_TOKEN_* variables onto DefaultConfig.
// It returns ErrConfig on malformed values and ErrKeyMissing when a key is
// required but absent.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("JAM_TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("JAM_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}
	if v := os.Getenv("JAM_TOKEN_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	if v := os.Getenv(RequireKeyEnv); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RequireKey = b
	}

	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv(SecretKeyEnv))
	if cfg.SecretKeyHex == "" && cfg.RequireKey {
		return Config{}, ErrKeyMissing
	}
	return cfg, nil
}
