package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It does not own the pgx pool; Close is a no-op. Highlight parts are kept
// in a JSONB column so a highlight and its parts are written by one INSERT
// and removed by one DELETE.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by this store (default: "jam").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "jam"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	return st, nil
}

// PostgresSchemaSQL returns idempotent DDL for the gateway tables. The
// users table (identity.PostgresSchemaSQL) must be created first.
func PostgresSchemaSQL(schema string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  url TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[2]s (
  user_id TEXT NOT NULL REFERENCES %[5]s(id) ON DELETE CASCADE,
  session_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_participants_user_joined
  ON %[2]s (user_id, joined_at DESC);

CREATE TABLE IF NOT EXISTS %[3]s (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES %[5]s(id) ON DELETE CASCADE,
  page_url TEXT NOT NULL DEFAULT '',
  parts JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_highlights_session_page
  ON %[3]s (session_id, page_url, created_at);

CREATE TABLE IF NOT EXISTS %[4]s (
  id TEXT PRIMARY KEY,
  highlight_id TEXT NOT NULL REFERENCES %[3]s(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES %[5]s(id) ON DELETE CASCADE,
  body TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_comments_highlight_created
  ON %[4]s (highlight_id, created_at);
`,
		pgIdent(schema, "sessions"),
		pgIdent(schema, "session_participants"),
		pgIdent(schema, "highlights"),
		pgIdent(schema, "comments"),
		pgIdent(schema, "users"),
	)
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) CreateSession(ctx context.Context, id string, now time.Time) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("%w: empty session id", ErrInvalidInput)
	}
	now = nowOr(now)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("sessions")+` (id, created_at) VALUES ($1, $2)`,
		id, now,
	)
	if err != nil {
		if pgHasCode(err, pgUniqueViolation) {
			return Session{}, fmt.Errorf("%w: session %s", ErrConflict, id)
		}
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return Session{ID: id, CreatedAt: now}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, created_at FROM `+s.t("sessions")+` WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.URL, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) BindSessionURL(ctx context.Context, sessionID, url string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("sessions")+` SET url = $2 WHERE id = $1 AND url IS NULL`,
		sessionID, url,
	)
	if err != nil {
		return false, fmt.Errorf("store: bind session url: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetSessionURL(ctx context.Context, sessionID, url string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("sessions")+` SET url = $2 WHERE id = $1`,
		sessionID, url,
	)
	if err != nil {
		return fmt.Errorf("store: set session url: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddParticipant(ctx context.Context, sessionID, userID string, now time.Time) error {
	if sessionID == "" || userID == "" {
		return ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("session_participants")+` (user_id, session_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, session_id) DO NOTHING`,
		userID, sessionID, nowOr(now),
	)
	if err != nil {
		if pgHasCode(err, pgForeignKeyViolation) {
			return fmt.Errorf("%w: session %s or user %s", ErrNotFound, sessionID, userID)
		}
		return fmt.Errorf("store: add participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecentSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.url, p.joined_at
		   FROM `+s.t("session_participants")+` p
		   JOIN `+s.t("sessions")+` s ON s.id = p.session_id
		  WHERE p.user_id = $1 AND s.url IS NOT NULL
		  ORDER BY p.joined_at DESC
		  LIMIT $2`,
		userID, recentLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var ss SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.URL, &ss.JoinedAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertHighlight(ctx context.Context, h Highlight) (bool, error) {
	if !validHighlight(h) {
		return false, ErrInvalidInput
	}

	parts, err := json.Marshal(h.Parts)
	if err != nil {
		return false, fmt.Errorf("store: encode parts: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("highlights")+` (id, session_id, user_id, page_url, parts, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 ON CONFLICT (id) DO NOTHING`,
		h.ID, h.SessionID, h.UserID, h.PageURL, string(parts), nowOr(h.CreatedAt),
	)
	if err != nil {
		if pgHasCode(err, pgForeignKeyViolation) {
			return false, fmt.Errorf("%w: session %s or user %s", ErrNotFound, h.SessionID, h.UserID)
		}
		return false, fmt.Errorf("store: insert highlight: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListHighlights(ctx context.Context, sessionID, pageURL string) ([]Highlight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, page_url, parts, created_at
		   FROM `+s.t("highlights")+`
		  WHERE session_id = $1 AND page_url = $2
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
			h   Highlight
			raw []byte
		)
		if err := rows.Scan(&h.ID, &h.SessionID, &h.UserID, &h.PageURL, &raw, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan highlight: %w", err)
		}
		if err := json.Unmarshal(raw, &h.Parts); err != nil {
			return nil, fmt.Errorf("store: decode parts of %s: %w", h.ID, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list highlights: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteHighlight(ctx context.Context, sessionID, highlightID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.t("highlights")+` WHERE id = $1 AND session_id = $2`,
		highlightID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("store: delete highlight: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	if c.ID == "" || c.HighlightID == "" || c.UserID == "" || c.Text == "" {
		return Comment{}, ErrInvalidInput
	}
	c.CreatedAt = nowOr(c.CreatedAt)
	c.AuthorEmail = ""

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("comments")+` (id, highlight_id, user_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.HighlightID, c.UserID, c.Text, c.CreatedAt,
	)
	if err != nil {
		if pgHasCode(err, pgForeignKeyViolation) {
			return Comment{}, fmt.Errorf("%w: highlight %s or user %s", ErrNotFound, c.HighlightID, c.UserID)
		}
		return Comment{}, fmt.Errorf("store: insert comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, highlightID string) ([]Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.highlight_id, c.user_id, c.body, c.created_at, COALESCE(u.email, '')
		   FROM `+s.t("comments")+` c
		   LEFT JOIN `+s.t("users")+` u ON u.id = c.user_id
		  WHERE c.highlight_id = $1
		  ORDER BY c.created_at ASC, c.id ASC`,
		highlightID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list comments: %w", err)
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.HighlightID, &c.UserID, &c.Text, &c.CreatedAt, &c.AuthorEmail); err != nil {
			return nil, fmt.Errorf("store: scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list comments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) t(name string) string { return pgIdent(s.schema, name) }

func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgHasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
