package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]UserAuth
	byEmail map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]UserAuth),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
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
	norm := NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[norm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{ID: id, Email: email, CreatedAt: now}
	s.byID[id] = UserAuth{User: u, PasswordHash: in.PasswordHash}
	s.byEmail[norm] = id
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ua, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return ua.User, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: "identity.UpdatePasswordHash", Resource: "user"}
	}
	ua.PasswordHash = hash
	s.byID[userID] = ua
	return nil
}
