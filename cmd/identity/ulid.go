package identity

import (
	"time"

	"browserjam/cmd/identity/ids"
)

// NewULID returns a new ULID (26-char string) used as user id.
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
