package token

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the identity asserted by a verified token.
type Claims struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Manager issues and verifies PASETO v4.public tokens.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	ephemeral bool

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewManager builds a Manager from cfg. An empty key yields an ephemeral
// keypair unless cfg.RequireKey is set.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}

	m := &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
	}

	if cfg.SecretKeyHex == "" {
		if cfg.RequireKey {
			return nil, ErrKeyMissing
		}
		m.secret = paseto.NewV4AsymmetricSecretKey()
		m.ephemeral = true
	} else {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = secret
	}
	m.public = m.secret.Public()
	return m, nil
}

// Ephemeral reports whether the signing key was generated at startup.
func (m *Manager) Ephemeral() bool { return m.ephemeral }

// PublicKeyHex exports the verification key.
func (m *Manager) PublicKeyHex() string { return m.public.ExportHex() }

// TTL is the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a token for the given user.
func (m *Manager) Issue(userID, email string, now time.Time) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrConfig
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("uid", userID)
	tok.SetString("email", email)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks signature, issuer, not-before (with clock skew) and expiry at now.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	// Skew tolerates issuers slightly ahead of us; expiry is exact.
	nbf, err := parsed.GetNotBefore()
	if err != nil || nbf.After(now.Add(m.clockSkew)) {
		return Claims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil || !now.Before(exp) {
		return Claims{}, ErrInvalidToken
	}
	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	email, _ := parsed.GetString("email")
	iat, _ := parsed.GetIssuedAt()
	iss, _ := parsed.GetIssuer()

	return Claims{
		UserID:    uid,
		Email:     email,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
