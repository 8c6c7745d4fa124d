package realtime

import (
	"time"

	"browserjam/cmd/identity/ids"
)

// NewConnectionID returns a ULID naming one websocket connection.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewCommentID returns a ULID used as comment id.
func NewCommentID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
