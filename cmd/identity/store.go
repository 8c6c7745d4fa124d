package identity

import (
	"context"
	"time"
)

// User is an account as seen by the rest of the system.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// UserAuth is a User together with its stored credential.
// PasswordHash is a PHC argon2id string and must never be logged.
type UserAuth struct {
	User
	PasswordHash string
}

// CreateUserInput describes a new account. Email is stored as given and
// compared case-insensitively.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the users persistence boundary.
// Every method is a single statement.
type Store interface {
	// CreateUser returns ConflictError{Field: "email"} when the normalized
	// email is taken.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	// GetUserByEmail looks up by normalized email.
	GetUserByEmail(ctx context.Context, email string) (UserAuth, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}
