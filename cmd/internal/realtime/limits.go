package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 256 << 10

	// Max comment length (runes).
	maxCommentChars = 4000

	// Max parts per highlight.
	maxHighlightParts = 512
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit. Pointer traffic is throttled client-side,
	// so this only trips on misbehaving peers; excess events are dropped.
	rateLimitEvents = 1200
	rateLimitWindow = 10 * time.Second
)
