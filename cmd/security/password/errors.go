package password

import "errors"

// Policy violations surface to clients as invalid input; ErrInvalidHash
// means a stored credential could not be decoded.
var (
	ErrPasswordTooShort = errors.New("password: too short")
	ErrPasswordTooLong  = errors.New("password: too long")
	ErrBlankPassword    = errors.New("password: only whitespace")
	ErrInvalidHash      = errors.New("password: invalid argon2id hash")
)

// IsPolicyViolation reports whether err came from Validate.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrBlankPassword)
}
