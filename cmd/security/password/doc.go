// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use the PHC string format
// ($argon2id$v=19$m=..,t=..,p=..$salt$key). Cost parameters and the
// password policy come from JAM_* environment variables on top of
// DefaultConfig. Encoded hashes are untrusted input during Verify: hashes
// whose cost exceeds twice the configured cost are refused.
package password
