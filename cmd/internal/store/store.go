// Package store is the persistence gateway for co-browsing sessions,
// participants, highlights and comments.
//
// Every operation is one parameterized statement; nothing runs inside an
// explicit transaction. Idempotency comes from primary keys: participants
// are unique per (user, session) and highlights per id. Comments carry no
// idempotency key, so a retried insert stores a second comment.
package store

import (
	"context"
	"errors"
	"time"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// DefaultRecentSessionsLimit bounds ListRecentSessions when limit <= 0.
const DefaultRecentSessionsLimit = 10

var (
	// ErrNotFound is returned for missing rows and for references to missing
	// rows (an unknown session, highlight or user).
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a created session id already exists.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalidInput is returned before touching storage.
	ErrInvalidInput = errors.New("store: invalid input")
)

// Session is a co-browsing room. URL is nil until the first authenticated join.
type Session struct {
	ID        string
	URL       *string
	CreatedAt time.Time
}

// SessionSummary is one row of a user's recent sessions.
type SessionSummary struct {
	SessionID string
	URL       string
	JoinedAt  time.Time
}

// Highlight is a persisted highlight and its parts in document order.
// PageURL is the page the author was on.
type Highlight struct {
	ID        string
	SessionID string
	UserID    string
	PageURL   string
	Parts     []v1.HighlightPart
	CreatedAt time.Time
}

// Comment is an entry of a highlight's thread. AuthorEmail is filled by
// ListComments only.
type Comment struct {
	ID          string
	HighlightID string
	UserID      string
	Text        string
	CreatedAt   time.Time
	AuthorEmail string
}

// Store is the persistence gateway.
type Store interface {
	CreateSession(ctx context.Context, id string, now time.Time) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	// BindSessionURL sets the URL only if it is still NULL and reports
	// whether this call set it.
	BindSessionURL(ctx context.Context, sessionID, url string) (bool, error)
	// SetSessionURL overwrites the URL unconditionally.
	SetSessionURL(ctx context.Context, sessionID, url string) error
	// AddParticipant records (user, session) once; repeats are no-ops.
	AddParticipant(ctx context.Context, sessionID, userID string, now time.Time) error
	// ListRecentSessions returns the user's sessions that have a URL,
	// most recently joined first.
	ListRecentSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error)

	// InsertHighlight stores h once and reports false for a known id.
	InsertHighlight(ctx context.Context, h Highlight) (bool, error)
	ListHighlights(ctx context.Context, sessionID, pageURL string) ([]Highlight, error)
	// DeleteHighlight removes a highlight of sessionID with its comments and
	// reports whether it existed. Highlights of other sessions are untouched.
	DeleteHighlight(ctx context.Context, sessionID, highlightID string) (bool, error)

	InsertComment(ctx context.Context, c Comment) (Comment, error)
	// ListComments returns a thread oldest first, joined with author emails.
	ListComments(ctx context.Context, highlightID string) ([]Comment, error)

	Close() error
}

func validHighlight(h Highlight) bool {
	if h.ID == "" || h.SessionID == "" || h.UserID == "" || len(h.Parts) == 0 {
		return false
	}
	for _, p := range h.Parts {
		if p.HighlightID != h.ID {
			return false
		}
	}
	return true
}

func recentLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentSessionsLimit
	}
	return limit
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
