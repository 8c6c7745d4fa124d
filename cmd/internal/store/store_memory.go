package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// EmailLookup resolves a user id to an email for comment listings.
type EmailLookup func(ctx context.Context, userID string) (string, error)

type participantKey struct{ userID, sessionID string }

// InMemoryStore is a dev/test Store. It mirrors the SQL backends' reference
// checks so callers see the same ErrNotFound behavior.
type InMemoryStore struct {
	emails EmailLookup

	mu           sync.RWMutex
	sessions     map[string]Session
	participants map[participantKey]time.Time
	highlights   map[string]Highlight
	comments     map[string][]Comment
}

// NewInMemoryStore constructs an empty store. emails may be nil, in which
// case listed comments carry no author email.
func NewInMemoryStore(emails EmailLookup) *InMemoryStore {
	return &InMemoryStore{
		emails:       emails,
		sessions:     make(map[string]Session),
		participants: make(map[participantKey]time.Time),
		highlights:   make(map[string]Highlight),
		comments:     make(map[string][]Comment),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateSession(ctx context.Context, id string, now time.Time) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("%w: empty session id", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return Session{}, fmt.Errorf("%w: session %s", ErrConflict, id)
	}
	sess := Session{ID: id, CreatedAt: nowOr(now)}
	s.sessions[id] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) BindSessionURL(ctx context.Context, sessionID, url string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.URL != nil {
		return false, nil
	}
	sess.URL = &url
	s.sessions[sessionID] = sess
	return true, nil
}

func (s *InMemoryStore) SetSessionURL(ctx context.Context, sessionID, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.URL = &url
	s.sessions[sessionID] = sess
	return nil
}

func (s *InMemoryStore) AddParticipant(ctx context.Context, sessionID, userID string, now time.Time) error {
	if sessionID == "" || userID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	k := participantKey{userID: userID, sessionID: sessionID}
	if _, ok := s.participants[k]; !ok {
		s.participants[k] = nowOr(now)
	}
	return nil
}

func (s *InMemoryStore) ListRecentSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]SessionSummary, 0)
	for k, joined := range s.participants {
		if k.userID != userID {
			continue
		}
		sess := s.sessions[k.sessionID]
		if sess.URL == nil {
			continue
		}
		out = append(out, SessionSummary{SessionID: sess.ID, URL: *sess.URL, JoinedAt: joined})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	if n := recentLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *InMemoryStore) InsertHighlight(ctx context.Context, h Highlight) (bool, error) {
	if !validHighlight(h) {
		return false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[h.SessionID]; !ok {
		return false, fmt.Errorf("%w: session %s", ErrNotFound, h.SessionID)
	}
	if _, dup := s.highlights[h.ID]; dup {
		return false, nil
	}
	h.CreatedAt = nowOr(h.CreatedAt)
	h.Parts = append([]v1.HighlightPart(nil), h.Parts...)
	s.highlights[h.ID] = h
	return true, nil
}

func (s *InMemoryStore) ListHighlights(ctx context.Context, sessionID, pageURL string) ([]Highlight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Highlight, 0)
	for _, h := range s.highlights {
		if h.SessionID == sessionID && h.PageURL == pageURL {
			h.Parts = append([]v1.HighlightPart(nil), h.Parts...)
			out = append(out, h)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) DeleteHighlight(ctx context.Context, sessionID, highlightID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.highlights[highlightID]; !ok || h.SessionID != sessionID {
		return false, nil
	}
	delete(s.highlights, highlightID)
	delete(s.comments, highlightID)
	return true, nil
}

func (s *InMemoryStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	if c.ID == "" || c.HighlightID == "" || c.UserID == "" || c.Text == "" {
		return Comment{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.highlights[c.HighlightID]; !ok {
		return Comment{}, fmt.Errorf("%w: highlight %s", ErrNotFound, c.HighlightID)
	}
	c.CreatedAt = nowOr(c.CreatedAt)
	c.AuthorEmail = ""
	s.comments[c.HighlightID] = append(s.comments[c.HighlightID], c)
	return c, nil
}

func (s *InMemoryStore) ListComments(ctx context.Context, highlightID string) ([]Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := append([]Comment(nil), s.comments[highlightID]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if s.emails != nil {
		for i := range out {
			if email, err := s.emails(ctx, out[i].UserID); err == nil {
				out[i].AuthorEmail = email
			}
		}
	}
	if out == nil {
		out = make([]Comment, 0)
	}
	return out, nil
}
