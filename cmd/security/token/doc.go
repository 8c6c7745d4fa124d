// Package token issues and verifies bearer tokens for browserjam.
//
// Tokens are PASETO v4.public (Ed25519) and carry the user id ("uid") and
// email ("email") claims plus issuer, issued-at, not-before and expiry.
//
// Environment:
//   - JAM_TOKEN_SECRET_KEY_HEX: hex Ed25519 secret key. When blank an
//     ephemeral key is generated, which invalidates tokens on restart.
//   - JAM_REQUIRE_SIGNING_KEY: when true, a missing key is a config error.
//   - JAM_TOKEN_ISSUER, JAM_TOKEN_TTL, JAM_TOKEN_CLOCK_SKEW.
package token
