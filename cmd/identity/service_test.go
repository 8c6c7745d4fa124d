package identity

import (
	"context"
	"errors"
	"testing"

	"browserjam/cmd/security/password"
)

// fastHasher keeps tests quick while exercising the real argon2id path.
func fastHasher() *PasswordHasher {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return NewPasswordHasher(cfg)
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	return NewService(nil, st, fastHasher()), st
}

func TestRegisterThenAuthenticate(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "a@x.io", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(u.ID) != 26 || u.Email != "a@x.io" {
		t.Fatalf("unexpected user: %+v", u)
	}

	got, err := svc.Authenticate(ctx, "A@X.io", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("id=%s want %s", got.ID, u.ID)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dup@x.io", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "DUP@x.io", "other")
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, tc := range []struct{ email, pw string }{
		{"", "pw"},
		{"a@x.io", ""},
		{"not-an-email", "pw"},
		{"Bob <bob@x.io>", "pw"},
	} {
		if _, err := svc.Register(ctx, tc.email, tc.pw); !IsInvalidInput(err) {
			t.Fatalf("Register(%q,%q) expected invalid input, got %v", tc.email, tc.pw, err)
		}
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@x.io", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "a@x.io", "wrong"); !IsInvalidCredentials(err) {
		t.Fatalf("wrong password: expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@x.io", "pw"); !IsInvalidCredentials(err) {
		t.Fatalf("unknown email: expected invalid credentials, got %v", err)
	}
}

func TestAuthenticateUpgradesWeakHash(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	weak := fastHasher()
	ctx := context.Background()

	u, err := NewService(nil, st, weak).Register(ctx, "a@x.io", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	strongCfg := weak.cfg
	strongCfg.Params.Iterations = 2
	strong := NewPasswordHasher(strongCfg)

	if _, err := NewService(nil, st, strong).Authenticate(ctx, "a@x.io", "pw"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	ua, err := st.GetUserByEmail(ctx, "a@x.io")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if ua.ID != u.ID || strong.NeedsRehash(ua.PasswordHash) {
		t.Fatalf("expected upgraded hash, got %q", ua.PasswordHash)
	}
}
