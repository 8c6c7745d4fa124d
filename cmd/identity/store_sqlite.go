package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"browserjam/cmd/internal/sqlitedb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TEXT NOT NULL
);`

// SQLiteStore implements Store over an embedded SQLite database.
// The *sql.DB is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the users table if needed and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("identity: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, email_norm, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, email, NormalizeEmail(email), in.PasswordHash, sqlitedb.FormatTime(now),
	)
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return User{ID: id, Email: email, CreatedAt: now.UTC()}, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserByEmail"

	var (
		ua      UserAuth
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email_norm = ?`,
		NormalizeEmail(email),
	).Scan(&ua.ID, &ua.Email, &ua.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	if ua.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	return ua, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if u.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const op = "identity.UpdatePasswordHash"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}
