// Package auth authenticates the operators who manage grants. Operators carry
// HS256 bearer tokens naming their tenant and roles; portal viewers never do.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "authority"
	secretEnvVariable = "AUTHORITY_OPERATOR_SECRET"
	// clockSkew tolerated on iat/exp between the minting host and this one.
	clockSkew = 5 * time.Second
)

var (
	secretMu sync.Mutex
	secret   *cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
}

// Claims represents operator JWT claims.
type Claims struct {
	Tenant string   `json:"tenant"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Operator is the authenticated caller of the management API.
type Operator struct {
	ID       string
	TenantID string
	Roles    []string
}

// Operator returns the identity carried by verified claims.
func (c *Claims) Operator() Operator {
	return Operator{ID: c.Subject, TenantID: c.Tenant, Roles: normalizeRoles(c.Roles)}
}

// GenerateToken signs an operator JWT using HS256.
func GenerateToken(userID, tenantID string, roles []string, ttl time.Duration) (string, error) {
	userID, tenantID = strings.TrimSpace(userID), strings.TrimSpace(tenantID)
	switch {
	case userID == "":
		return "", errors.New("auth: user id is required")
	case tenantID == "":
		return "", errors.New("auth: tenant id is required")
	case ttl <= 0:
		return "", errors.New("auth: ttl must be greater than zero")
	}
	key, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Tenant: tenantID,
		Roles:  normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies an operator token. Every verification failure is
// reported as ErrInvalidToken; a missing secret is returned as ErrNotConfigured.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return key, nil })
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.Tenant) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// normalizeRoles lower-cases, trims and de-duplicates roles, keeping order.
func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret == nil {
		secret = &cachedSecret{}
		if raw := strings.TrimSpace(os.Getenv(secretEnvVariable)); raw != "" {
			secret.value = []byte(raw)
		} else {
			secret.err = ErrNotConfigured
		}
	}
	return secret.value, secret.err
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = nil
}

// Configured reports whether operator tokens can be verified.
func Configured() bool {
	_, err := loadSecret()
	return err == nil
}
