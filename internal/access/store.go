package access

import (
	"context"
	"time"
)

// Store groups the persistence of grants, scopes and tokens.
type Store interface {
	Grants() GrantStore
	Scopes() ScopeStore
	Tokens() TokenStore
}

// GrantStore persists grants. Get is tenant-scoped; GetByID is used only by
// validation, where the tenant is learned from the token.
type GrantStore interface {
	Create(ctx context.Context, g *Grant) error
	Get(ctx context.Context, tenantID, id string) (*Grant, error)
	GetByID(ctx context.Context, id string) (*Grant, error)
	List(ctx context.Context, tenantID string) ([]Grant, error)
	// Revoke marks the grant and every one of its tokens revoked in one step
	// and returns the number of tokens it revoked.
	Revoke(ctx context.Context, tenantID, id string, actorID *string, reason string, at time.Time) (int, error)
	// IncrementViews adds one view unless the grant is revoked or the
	// ceiling is reached. It reports whether the view was counted.
	IncrementViews(ctx context.Context, id string) (bool, error)
}

// ScopeStore persists scopes. There is no update or delete.
type ScopeStore interface {
	Add(ctx context.Context, s *Scope) error
	List(ctx context.Context, tenantID, grantID string) ([]Scope, error)
}

// TokenStore persists hashed share tokens.
type TokenStore interface {
	Create(ctx context.Context, t *Token) error
	Get(ctx context.Context, tenantID, id string) (*Token, error)
	GetByHash(ctx context.Context, hash string) (*Token, error)
	List(ctx context.Context, tenantID, grantID string) ([]Token, error)
	Revoke(ctx context.Context, tenantID, id string, at time.Time) error
}
