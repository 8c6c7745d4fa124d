package password

import (
	"strings"
	"unicode/utf8"
)

// Validate applies the account password policy: a password must contain
// something other than whitespace (unless AllowBlank) and its length in
// runes must lie within [MinLength, MaxLength]. Length is checked first so
// oversized input is rejected before it is scanned.
func (c Config) Validate(plain string) error {
	n := utf8.RuneCountInString(plain)
	switch {
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case n < max(c.Policy.MinLength, 1):
		return ErrPasswordTooShort
	case !c.Policy.AllowBlank && strings.TrimSpace(plain) == "":
		return ErrBlankPassword
	}
	return nil
}
