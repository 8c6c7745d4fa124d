package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// phcVersion is the argon2 version written into and accepted from PHC strings.
const phcVersion = argon2.Version

var phcB64 = base64.RawStdEncoding

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" credential.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcVersion,
		p.params.MemoryKiB, p.params.Iterations, p.params.Parallelism,
		phcB64.EncodeToString(p.salt), phcB64.EncodeToString(p.key),
	)
}

func parsePHC(s string) (phc, error) {
	f := strings.Split(s, "$")
	if len(f) != 6 || f[0] != "" || f[1] != "argon2id" || f[2] != "v="+strconv.Itoa(phcVersion) {
		return phc{}, ErrInvalidHash
	}

	var p phc
	var par uint32
	if _, err := fmt.Sscanf(f[3], "m=%d,t=%d,p=%d", &p.params.MemoryKiB, &p.params.Iterations, &par); err != nil {
		return phc{}, ErrInvalidHash
	}
	if p.params.MemoryKiB == 0 || p.params.Iterations == 0 || par == 0 || par > 255 {
		return phc{}, ErrInvalidHash
	}
	p.params.Parallelism = uint8(par) // #nosec G115 -- bounded above.

	var err error
	if p.salt, err = phcB64.DecodeString(f[4]); err != nil {
		return phc{}, ErrInvalidHash
	}
	if p.key, err = phcB64.DecodeString(f[5]); err != nil {
		return phc{}, ErrInvalidHash
	}
	p.params.SaltLength = uint32(len(p.salt)) // #nosec G115 -- a PHC field, far below 2^32.
	p.params.KeyLength = uint32(len(p.key))   // #nosec G115 -- a PHC field, far below 2^32.
	return p, nil
}

// derive runs argon2id with p's cost over plain.
func (p Argon2idParams) derive(plain string, salt []byte) []byte {
	return argon2.IDKey([]byte(plain), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

// admits reports whether a stored credential's cost is one this server is
// willing to recompute: at most twice its own cost, with sane lengths.
func (p Argon2idParams) admits(stored Argon2idParams) bool {
	return stored.MemoryKiB <= 2*p.MemoryKiB &&
		stored.Iterations <= 2*p.Iterations &&
		uint32(stored.Parallelism) <= 2*uint32(p.Parallelism) &&
		stored.SaltLength >= 8 && stored.SaltLength <= 64 &&
		stored.KeyLength >= 16 && stored.KeyLength <= 128
}

// weakerThan reports whether p costs less than target.
func (p Argon2idParams) weakerThan(target Argon2idParams) bool {
	return p.MemoryKiB < target.MemoryKiB ||
		p.Iterations < target.Iterations ||
		p.KeyLength < target.KeyLength
}

// Hash applies the policy and returns a PHC-encoded argon2id credential.
func (c Config) Hash(plain string) (string, error) {
	if err := c.Validate(plain); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	return phc{params: c.Params, salt: salt, key: c.Params.derive(plain, salt)}.String(), nil
}

// Verify reports whether plain matches encoded. A malformed credential, or
// one whose cost exceeds what this config admits, yields ErrInvalidHash.
func (c Config) Verify(encoded, plain string) (bool, error) {
	stored, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.Params.admits(stored.params) {
		return false, ErrInvalidHash
	}
	return subtle.ConstantTimeCompare(stored.params.derive(plain, stored.salt), stored.key) == 1, nil
}

// NeedsRehash reports whether encoded was made with a lower cost than the
// configured one. Malformed credentials report false.
func (c Config) NeedsRehash(encoded string) bool {
	stored, err := parsePHC(encoded)
	return err == nil && stored.params.weakerThan(c.Params)
}
