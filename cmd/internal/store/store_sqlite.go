package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"browserjam/cmd/internal/sqlitedb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  url TEXT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_participants (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  joined_at TEXT NOT NULL,
  PRIMARY KEY (user_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_participants_user_joined
  ON session_participants (user_id, joined_at);

CREATE TABLE IF NOT EXISTS highlights (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  page_url TEXT NOT NULL DEFAULT '',
  parts TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_highlights_session_page
  ON highlights (session_id, page_url, created_at);

CREATE TABLE IF NOT EXISTS comments (
  id TEXT PRIMARY KEY,
  highlight_id TEXT NOT NULL REFERENCES highlights(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  body TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_highlight_created
  ON comments (highlight_id, created_at);
`

// SQLiteStore is a Store over an embedded SQLite database shared with the
// identity users table. The *sql.DB is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the gateway tables if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("store: nil db")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close is a no-op because the database is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }

func (s *SQLiteStore) CreateSession(ctx context.Context, id string, now time.Time) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("%w: empty session id", ErrInvalidInput)
	}
	now = nowOr(now)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?)`,
		id, sqlitedb.FormatTime(now),
	)
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return Session{}, fmt.Errorf("%w: session %s", ErrConflict, id)
		}
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return Session{ID: id, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess    Session
		url     sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &url, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	if url.Valid {
		sess.URL = &url.String
	}
	if sess.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) BindSessionURL(ctx context.Context, sessionID, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET url = ? WHERE id = ? AND url IS NULL`, url, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("store: bind session url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: bind session url: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetSessionURL(ctx context.Context, sessionID, url string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET url = ? WHERE id = ?`, url, sessionID); err != nil {
		return fmt.Errorf("store: set session url: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddParticipant(ctx context.Context, sessionID, userID string, now time.Time) error {
	if sessionID == "" || userID == "" {
		return ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_participants (user_id, session_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, session_id) DO NOTHING`,
		userID, sessionID, sqlitedb.FormatTime(nowOr(now)),
	)
	if err != nil {
		if sqlitedb.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: session %s or user %s", ErrNotFound, sessionID, userID)
		}
		return fmt.Errorf("store: add participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.url, p.joined_at
		   FROM session_participants p
		   JOIN sessions s ON s.id = p.session_id
		  WHERE p.user_id = ? AND s.url IS NOT NULL
		  ORDER BY p.joined_at DESC
		  LIMIT ?`,
		userID, recentLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var (
			ss     SessionSummary
			joined string
		)
		if err := rows.Scan(&ss.SessionID, &ss.URL, &joined); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		if ss.JoinedAt, err = sqlitedb.ParseTime(joined); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertHighlight(ctx context.Context, h Highlight) (bool, error) {
	if !validHighlight(h) {
		return false, ErrInvalidInput
	}
	parts, err := json.Marshal(h.Parts)
	if err != nil {
		return false, fmt.Errorf("store: encode parts: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO highlights (id, session_id, user_id, page_url, parts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		h.ID, h.SessionID, h.UserID, h.PageURL, string(parts), sqlitedb.FormatTime(nowOr(h.CreatedAt)),
	)
	if err != nil {
		if sqlitedb.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: session %s or user %s", ErrNotFound, h.SessionID, h.UserID)
		}
		return false, fmt.Errorf("store: insert highlight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert highlight: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListHighlights(ctx context.Context, sessionID, pageURL string) ([]Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, page_url, parts, created_at
		   FROM highlights
		  WHERE session_id = ? AND page_url = ?
		  ORDER BY created_at ASC, id ASC`,
		sessionID, pageURL,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list highlights: %w", err)
	}
	defer rows.Close()

	out := make([]Highlight, 0)
	for rows.Next() {
		var (
			h              Highlight
			parts, created string
		)
		if err := rows.Scan(&h.ID, &h.SessionID, &h.UserID, &h.PageURL, &parts, &created); err != nil {
			return nil, fmt.Errorf("store: scan highlight: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &h.Parts); err != nil {
			return nil, fmt.Errorf("store: decode parts of %s: %w", h.ID, err)
		}
		if h.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteHighlight(ctx context.Context, sessionID, highlightID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM highlights WHERE id = ? AND session_id = ?`, highlightID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("store: delete highlight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete highlight: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	if c.ID == "" || c.HighlightID == "" || c.UserID == "" || c.Text == "" {
		return Comment{}, ErrInvalidInput
	}
	c.CreatedAt = nowOr(c.CreatedAt)
	c.AuthorEmail = ""

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, highlight_id, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.HighlightID, c.UserID, c.Text, sqlitedb.FormatTime(c.CreatedAt),
	)
	if err != nil {
		if sqlitedb.IsForeignKeyViolation(err) {
			return Comment{}, fmt.Errorf("%w: highlight %s or user %s", ErrNotFound, c.HighlightID, c.UserID)
		}
		return Comment{}, fmt.Errorf("store: insert comment: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListComments(ctx context.Context, highlightID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.highlight_id, c.user_id, c.body, c.created_at, COALESCE(u.email, '')
		   FROM comments c
		   LEFT JOIN users u ON u.id = c.user_id
		  WHERE c.highlight_id = ?
		  ORDER BY c.created_at ASC, c.id ASC`,
		highlightID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list comments: %w", err)
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		var (
			c       Comment
			created string
		)
		if err := rows.Scan(&c.ID, &c.HighlightID, &c.UserID, &c.Text, &created, &c.AuthorEmail); err != nil {
			return nil, fmt.Errorf("store: scan comment: %w", err)
		}
		if c.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
