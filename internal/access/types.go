// Package access manages scoped, expiring grants to a claim file and the
// share tokens that unlock them.
package access

import (
	"errors"
	"time"
)

// GrantType is the kind of third party a grant was issued to.
type GrantType string

const (
	GrantAdjuster  GrantType = "adjuster"
	GrantInsurer   GrantType = "insurer"
	GrantLegal     GrantType = "legal"
	GrantRegulator GrantType = "regulator"
	GrantGeneric   GrantType = "generic"
)

// Valid reports whether t is a known grant type.
func (t GrantType) Valid() bool {
	switch t {
	case GrantAdjuster, GrantInsurer, GrantLegal, GrantRegulator, GrantGeneric:
		return true
	}
	return false
}

// Status of a grant or token. Expired is never stored; it is derived on read.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Grant is a time-bounded permission for an external party to view a scoped
// subset of a tenant's records.
type Grant struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Type            GrantType  `json:"type"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          Status     `json:"status"`
	ExpiresAt       time.Time  `json:"expires_at"`
	MaxViews        *int       `json:"max_views"`
	Views           int        `json:"views"`
	RequirePasscode bool       `json:"require_passcode"`
	PasscodeHash    string     `json:"-"`
	CreatedBy       *string    `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedBy       *string    `json:"revoked_by,omitempty"`
	RevokeReason    string     `json:"revoke_reason,omitempty"`
}

// EffectiveStatus derives the status at now: revoked wins over expired.
func (g Grant) EffectiveStatus(now time.Time) Status {
	if g.Status == StatusRevoked {
		return StatusRevoked
	}
	if !now.Before(g.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// ViewsExhausted reports whether the view ceiling has been reached.
func (g Grant) ViewsExhausted() bool {
	return g.MaxViews != nil && g.Views >= *g.MaxViews
}

// Scope is one resource included in a grant. Scopes are append-only.
type Scope struct {
	ID        string    `json:"id"`
	GrantID   string    `json:"grant_id"`
	TenantID  string    `json:"tenant_id"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	Label     string    `json:"label"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Token is the stored form of a share token. The raw value is never kept.
type Token struct {
	ID        string     `json:"id"`
	GrantID   string     `json:"grant_id"`
	TenantID  string     `json:"tenant_id"`
	TokenHash string     `json:"-"`
	Status    Status     `json:"status"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedBy *string    `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// EffectiveStatus derives the token status at now.
func (t Token) EffectiveStatus(now time.Time) Status {
	if t.Status == StatusRevoked {
		return StatusRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// IssuedToken is returned exactly once, at creation. RawToken is not retrievable later.
type IssuedToken struct {
	Token    Token  `json:"token"`
	RawToken string `json:"raw_token"`
	ShareURL string `json:"share_url"`
}

// GrantView is a grant with its derived status and scopes.
type GrantView struct {
	Grant
	Scopes []Scope `json:"scopes"`
}

// DenialReason is the internal cause of a failed validation. It is recorded
// in the audit trail and never returned to the caller.
type DenialReason string

const (
	DenyRateLimited      DenialReason = "rate_limited"
	DenyNotFound         DenialReason = "not_found"
	DenyGrantRevoked     DenialReason = "grant_revoked"
	DenyGrantExpired     DenialReason = "grant_expired"
	DenyTokenRevoked     DenialReason = "token_revoked"
	DenyTokenExpired     DenialReason = "token_expired"
	DenyMaxViews         DenialReason = "max_views_exceeded"
	DenyPasscodeRequired DenialReason = "passcode_required"
	DenyPasscodeInvalid  DenialReason = "passcode_invalid"
)

// ValidationResult is the outcome of ValidateToken. Denial is empty on success.
type ValidationResult struct {
	Denial         DenialReason
	TenantID       string
	GrantID        string
	GrantType      GrantType
	TokenID        string
	Scopes         []Scope
	TokenExpiresAt time.Time
	GrantExpiresAt time.Time
	RetryAfter     time.Duration
}

// Valid reports whether access was granted.
func (r ValidationResult) Valid() bool { return r.Denial == "" && r.TokenID != "" }

var (
	ErrNotFound      = errors.New("access: not found")
	ErrInvalidInput  = errors.New("access: invalid input")
	ErrGrantInactive = errors.New("access: grant is revoked or expired")
	ErrConflict      = errors.New("access: conflict")
)
