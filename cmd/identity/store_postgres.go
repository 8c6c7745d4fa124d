package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the users table (default "jam").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// PostgresSchemaSQL returns idempotent DDL for the users table in schema.
func PostgresSchemaSQL(schema string) string {
	users := pgIdent(schema, "users")
	return `
CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize() + `;

CREATE TABLE IF NOT EXISTS ` + users + ` (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);`
}

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := strings.TrimSpace(in.Email)
	if email == "" || in.PasswordHash == "" {
		return User{}, invalid(op, "email and password hash are required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "users")+` (id, email, email_norm, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, email, NormalizeEmail(email), in.PasswordHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return User{ID: id, Email: email, CreatedAt: now}, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserByEmail"

	var ua UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at
		   FROM `+pgIdent(s.schema, "users")+`
		  WHERE email_norm = $1`,
		NormalizeEmail(email),
	).Scan(&ua.ID, &ua.Email, &ua.PasswordHash, &ua.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	return ua, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM `+pgIdent(s.schema, "users")+` WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const op = "identity.UpdatePasswordHash"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+` SET password_hash = $2 WHERE id = $1`,
		userID, hash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
