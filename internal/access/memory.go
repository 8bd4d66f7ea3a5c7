package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store in-process. All three sub-stores share one lock,
// so grant revocation and its token cascade are a single step.
type InMemory struct {
	mu       sync.RWMutex
	grants   map[string]*Grant
	scopes   map[string][]Scope // grant id -> scopes in insertion order
	tokens   map[string]*Token
	byHash   map[string]string // token hash -> token id
	tokenSeq []string          // token ids in insertion order
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		grants: make(map[string]*Grant),
		scopes: make(map[string][]Scope),
		tokens: make(map[string]*Token),
		byHash: make(map[string]string),
	}
}

func (m *InMemory) Grants() GrantStore { return memGrants{m} }
func (m *InMemory) Scopes() ScopeStore { return memScopes{m} }
func (m *InMemory) Tokens() TokenStore { return memTokens{m} }

type memGrants struct{ m *InMemory }

func (s memGrants) Create(_ context.Context, g *Grant) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.grants[g.ID]; ok {
		return ErrConflict
	}
	s.m.grants[g.ID] = copyGrant(g)
	return nil
}

func (s memGrants) Get(_ context.Context, tenantID, id string) (*Grant, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	g, ok := s.m.grants[id]
	if !ok || g.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

func (s memGrants) GetByID(_ context.Context, id string) (*Grant, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	g, ok := s.m.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

func (s memGrants) List(_ context.Context, tenantID string) ([]Grant, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]Grant, 0)
	for _, g := range s.m.grants {
		if g.TenantID == tenantID {
			out = append(out, *copyGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s memGrants) Revoke(_ context.Context, tenantID, id string, actorID *string, reason string, at time.Time) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	g, ok := s.m.grants[id]
	if !ok || g.TenantID != tenantID {
		return 0, ErrNotFound
	}
	if g.Status != StatusRevoked {
		g.Status = StatusRevoked
		t := at
		g.RevokedAt = &t
		g.RevokedBy = copyStr(actorID)
		g.RevokeReason = reason
	}
	n := 0
	for _, tok := range s.m.tokens {
		if tok.GrantID == id && tok.Status != StatusRevoked {
			tok.Status = StatusRevoked
			t := at
			tok.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s memGrants) IncrementViews(_ context.Context, id string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	g, ok := s.m.grants[id]
	if !ok {
		return false, ErrNotFound
	}
	if g.Status == StatusRevoked || g.ViewsExhausted() {
		return false, nil
	}
	g.Views++
	return true, nil
}

type memScopes struct{ m *InMemory }

func (s memScopes) Add(_ context.Context, sc *Scope) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	g, ok := s.m.grants[sc.GrantID]
	if !ok || g.TenantID != sc.TenantID {
		return ErrNotFound
	}
	for _, existing := range s.m.scopes[sc.GrantID] {
		if existing.ID == sc.ID {
			return ErrConflict
		}
	}
	s.m.scopes[sc.GrantID] = append(s.m.scopes[sc.GrantID], *sc)
	return nil
}

func (s memScopes) List(_ context.Context, tenantID, grantID string) ([]Scope, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]Scope, 0, len(s.m.scopes[grantID]))
	for _, sc := range s.m.scopes[grantID] {
		if sc.TenantID == tenantID {
			out = append(out, sc)
		}
	}
	return out, nil
}

type memTokens struct{ m *InMemory }

func (s memTokens) Create(_ context.Context, t *Token) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.tokens[t.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.m.byHash[t.TokenHash]; ok {
		return ErrConflict
	}
	if _, ok := s.m.grants[t.GrantID]; !ok {
		return ErrNotFound
	}
	s.m.tokens[t.ID] = copyToken(t)
	s.m.byHash[t.TokenHash] = t.ID
	s.m.tokenSeq = append(s.m.tokenSeq, t.ID)
	return nil
}

func (s memTokens) Get(_ context.Context, tenantID, id string) (*Token, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.tokens[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyToken(t), nil
}

func (s memTokens) GetByHash(_ context.Context, hash string) (*Token, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return copyToken(s.m.tokens[id]), nil
}

func (s memTokens) List(_ context.Context, tenantID, grantID string) ([]Token, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]Token, 0)
	for _, id := range s.m.tokenSeq {
		t := s.m.tokens[id]
		if t.GrantID == grantID && t.TenantID == tenantID {
			out = append(out, *copyToken(t))
		}
	}
	return out, nil
}

func (s memTokens) Revoke(_ context.Context, tenantID, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tokens[id]
	if !ok || t.TenantID != tenantID {
		return ErrNotFound
	}
	if t.Status != StatusRevoked {
		t.Status = StatusRevoked
		ts := at
		t.RevokedAt = &ts
	}
	return nil
}

func copyGrant(g *Grant) *Grant {
	out := *g
	if g.MaxViews != nil {
		v := *g.MaxViews
		out.MaxViews = &v
	}
	out.CreatedBy = copyStr(g.CreatedBy)
	out.RevokedBy = copyStr(g.RevokedBy)
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

func copyToken(t *Token) *Token {
	out := *t
	out.CreatedBy = copyStr(t.CreatedBy)
	if t.RevokedAt != nil {
		ts := *t.RevokedAt
		out.RevokedAt = &ts
	}
	return &out
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
