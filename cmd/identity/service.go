package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Service implements registration and login on top of a Store.
type Service struct {
	log    *slog.Logger
	store  Store
	hasher *PasswordHasher
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs a Service.
func NewService(log *slog.Logger, store Store, hasher *PasswordHasher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:    log,
		store:  store,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account. Duplicate emails yield ConflictError.
func (s *Service) Register(ctx context.Context, email, plain string) (User, error) {
	const op = "identity.Register"

	email = strings.TrimSpace(email)
	if email == "" || plain == "" {
		return User{}, invalid(op, "email and password are required")
	}
	if !ValidEmail(email) {
		return User{}, invalid(op, "invalid email")
	}

	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, CreateUserInput{Email: email, PasswordHash: hash, Now: s.now()})
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, plain string) (User, error) {
	const op = "identity.Authenticate"

	if strings.TrimSpace(email) == "" || plain == "" {
		return User{}, invalid(op, "email and password are required")
	}

	ua, err := s.store.GetUserByEmail(ctx, email)
	if IsNotFound(err) {
		// Spend a verification anyway so unknown emails take as long as known ones.
		_, _ = s.hasher.Verify(plain, s.dummy())
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err != nil {
		return User{}, err
	}

	ok, err := s.hasher.Verify(plain, ua.PasswordHash)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if s.hasher.NeedsRehash(ua.PasswordHash) {
		if h, err := s.hasher.Hash(plain); err == nil {
			if err := s.store.UpdatePasswordHash(ctx, ua.ID, h); err != nil {
				s.log.Warn("identity.rehash.fail", "user_id", ua.ID, "err", err)
			}
		}
	}
	return ua.User, nil
}

// UserByID resolves a user's public identity.
func (s *Service) UserByID(ctx context.Context, id string) (User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.cfg.Hash(strings.Repeat("x", max(s.hasher.cfg.Policy.MinLength, 1)))
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
