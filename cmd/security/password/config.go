package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// AllowBlank accepts passwords made only of whitespace.
	AllowBlank bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns interactive-login Argon2id costs and the account
// policy: any password with a non-whitespace character, up to 256 runes.
// Deployments tighten it with JAM_PASSWORD_MIN_LEN.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 256,
		},
	}
}

// envField applies one environment variable to cfg.
type envField struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var envFields = []envField{
	{"JAM_PASSWORD_MIN_LEN", func(c *Config, v string) (err error) {
		c.Policy.MinLength, err = atoiRange(v, 1, 1024)
		return err
	}},
	{"JAM_PASSWORD_MAX_LEN", func(c *Config, v string) (err error) {
		c.Policy.MaxLength, err = atoiRange(v, 1, 4096)
		return err
	}},
	{"JAM_PASSWORD_ALLOW_BLANK", func(c *Config, v string) (err error) {
		c.Policy.AllowBlank, err = strconv.ParseBool(strings.TrimSpace(v))
		return err
	}},
	{"JAM_ARGON2_MEMORY_KIB", func(c *Config, v string) (err error) {
		c.Params.MemoryKiB, err = atou32(v, 8*1024, 1024*1024)
		return err
	}},
	{"JAM_ARGON2_ITERATIONS", func(c *Config, v string) (err error) {
		c.Params.Iterations, err = atou32(v, 1, 20)
		return err
	}},
	{"JAM_ARGON2_PARALLELISM", func(c *Config, v string) error {
		u, err := atou32(v, 1, math.MaxUint8)
		if err != nil {
			return err
		}
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"JAM_ARGON2_SALT_LEN", func(c *Config, v string) (err error) {
		c.Params.SaltLength, err = atou32(v, 8, 64)
		return err
	}},
	{"JAM_ARGON2_KEY_LEN", func(c *Config, v string) (err error) {
		c.Params.KeyLength, err = atou32(v, 16, 64)
		return err
	}},
}

// FromEnv loads DefaultConfig and applies every JAM_PASSWORD_* and
// JAM_ARGON2_* variable that is set.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, f := range envFields {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		if err := f.apply(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
