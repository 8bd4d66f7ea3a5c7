// Package session mints the short-lived portal sessions handed to a viewer
// after a share token validates.
package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authority.dev/internal/access"
)

const (
	// DefaultTTL is the session lifetime before token and grant expiry caps.
	DefaultTTL = 15 * time.Minute

	issuer            = "authority-portal"
	secretEnvVariable = "AUTHORITY_SESSION_SECRET"
	minSecretLen      = 32
)

var (
	ErrMissingSecret = errors.New("session: secret is not configured")
	ErrWeakSecret    = fmt.Errorf("session: secret must be at least %d bytes", minSecretLen)
	ErrNotValidated  = errors.New("session: validation result carries a denial")
	ErrExpired       = errors.New("session: grant or token already expired")
)

// Claims are the portal session JWT claims.
type Claims struct {
	Tenant    string `json:"tenant"`
	Grant     string `json:"grant"`
	Token     string `json:"tok"`
	GrantType string `json:"grant_type,omitempty"`
	jwt.RegisteredClaims
}

// Session is a verified portal session.
type Session struct {
	ID        string
	TenantID  string
	GrantID   string
	TokenID   string
	GrantType string
	ExpiresAt time.Time
}

// Issued is a freshly signed session.
type Issued struct {
	Token     string    `json:"session_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer signs and verifies sessions with an HS256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer builds an Issuer over secret.
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	i := &Issuer{secret: append([]byte(nil), secret...), ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// FromEnv builds an Issuer from AUTHORITY_SESSION_SECRET.
func FromEnv(opts ...Option) (*Issuer, error) {
	s, err := loadSecret()
	if err != nil {
		return nil, err
	}
	return NewIssuer(s, opts...)
}

// Create signs a session for a successful validation. The session never
// outlives the token or the grant it was derived from.
func (i *Issuer) Create(res access.ValidationResult) (Issued, error) {
	if !res.Valid() {
		return Issued{}, ErrNotValidated
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	if !res.TokenExpiresAt.IsZero() && res.TokenExpiresAt.Before(exp) {
		exp = res.TokenExpiresAt
	}
	if !res.GrantExpiresAt.IsZero() && res.GrantExpiresAt.Before(exp) {
		exp = res.GrantExpiresAt
	}
	exp = exp.UTC().Truncate(time.Second)
	if !exp.After(now) {
		return Issued{}, ErrExpired
	}

	claims := Claims{
		Tenant:    res.TenantID,
		Grant:     res.GrantID,
		Token:     res.TokenID,
		GrantType: string(res.GrantType),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   res.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("session: sign: %w", err)
	}
	return Issued{Token: signed, ExpiresAt: exp}, nil
}

// Verify returns the session for a valid, unexpired token. Any failure
// yields nil, false.
func (i *Issuer) Verify(token string) (*Session, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Tenant == "" || claims.Grant == "" || claims.Token == "" {
		return nil, false
	}
	return &Session{
		ID:        claims.ID,
		TenantID:  claims.Tenant,
		GrantID:   claims.Grant,
		TokenID:   claims.Token,
		GrantType: claims.GrantType,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, true
}

var (
	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	secret.ready = true
	if raw == "" {
		secret.err = ErrMissingSecret
		return nil, secret.err
	}
	secret.value = []byte(raw)
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
