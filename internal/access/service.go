package access

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"authority.dev/internal/audit"
	"authority.dev/internal/auth"
	"authority.dev/internal/ids"
	"authority.dev/internal/obs"
	"authority.dev/internal/ratelimit"
)

const (
	rawTokenBytes  = 32
	maxRawTokenLen = 128
	maxTitleLen    = 200
	maxPasscodeLen = 72 // bcrypt input limit
)

// PortalPath is where share links point.
const PortalPath = "/p/authority"

// GrantOptions are the optional attributes of a new grant.
type GrantOptions struct {
	Description     string
	MaxViews        *int
	RequirePasscode bool
	Passcode        string
	ActorID         string
}

// TokenOptions are the optional attributes of a new share token.
type TokenOptions struct {
	ExpiresAt time.Time
	ActorID   string
}

// ValidateRequest is one portal access attempt.
type ValidateRequest struct {
	RawToken string
	Passcode string
	ClientIP string
}

// Service issues, validates and revokes grants and share tokens. Every
// lifecycle change is recorded through the audit recorder.
type Service struct {
	store        Store
	audit        *audit.Recorder
	limiter      ratelimit.Limiter
	now          func() time.Time
	passcodeCost int
	shareBase    string
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLimiter replaces the default in-process rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithPasscodeCost sets the bcrypt cost for grant passcodes.
func WithPasscodeCost(cost int) Option {
	return func(s *Service) {
		if cost > 0 {
			s.passcodeCost = cost
		}
	}
}

// WithShareBaseURL sets the public origin used to build share links.
func WithShareBaseURL(base string) Option {
	return func(s *Service) {
		s.shareBase = strings.TrimRight(base, "/")
	}
}

// NewService wires a Service over store and recorder.
func NewService(store Store, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:        store,
		audit:        recorder,
		now:          time.Now,
		passcodeCost: auth.DefaultSecretCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemory(ratelimit.Policy{}, ratelimit.WithClock(s.now))
	}
	return s
}

// HashToken returns the lookup hash of a raw share token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateGrant creates an active grant for tenantID.
func (s *Service) CreateGrant(ctx context.Context, tenantID string, typ GrantType, title string, expiresAt time.Time, opts GrantOptions) (Grant, error) {
	now := s.now().UTC()
	title = strings.TrimSpace(title)
	switch {
	case tenantID == "":
		return Grant{}, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	case !typ.Valid():
		return Grant{}, fmt.Errorf("%w: unknown grant type %q", ErrInvalidInput, typ)
	case title == "":
		return Grant{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case len(title) > maxTitleLen:
		return Grant{}, fmt.Errorf("%w: title is longer than %d characters", ErrInvalidInput, maxTitleLen)
	case !expiresAt.After(now):
		return Grant{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	case opts.MaxViews != nil && *opts.MaxViews <= 0:
		return Grant{}, fmt.Errorf("%w: max_views must be positive", ErrInvalidInput)
	case opts.RequirePasscode && opts.Passcode == "":
		return Grant{}, fmt.Errorf("%w: passcode is required when require_passcode is set", ErrInvalidInput)
	case !opts.RequirePasscode && opts.Passcode != "":
		return Grant{}, fmt.Errorf("%w: passcode given without require_passcode", ErrInvalidInput)
	case len(opts.Passcode) > maxPasscodeLen:
		return Grant{}, fmt.Errorf("%w: passcode is longer than %d bytes", ErrInvalidInput, maxPasscodeLen)
	}

	g := &Grant{
		ID:              ids.New(),
		TenantID:        tenantID,
		Type:            typ,
		Title:           title,
		Description:     strings.TrimSpace(opts.Description),
		Status:          StatusActive,
		ExpiresAt:       expiresAt.UTC(),
		RequirePasscode: opts.RequirePasscode,
		CreatedBy:       audit.Actor(opts.ActorID),
		CreatedAt:       now,
	}
	if opts.MaxViews != nil {
		v := *opts.MaxViews
		g.MaxViews = &v
	}
	if opts.RequirePasscode {
		hash, err := auth.HashSecret(opts.Passcode, s.passcodeCost)
		if err != nil {
			return Grant{}, fmt.Errorf("access: hash passcode: %w", err)
		}
		g.PasscodeHash = hash
	}
	if err := s.store.Grants().Create(ctx, g); err != nil {
		return Grant{}, err
	}

	meta := map[string]string{
		"grant_type":       string(g.Type),
		"expires_at":       g.ExpiresAt.Format(time.RFC3339),
		"require_passcode": strconv.FormatBool(g.RequirePasscode),
	}
	if g.MaxViews != nil {
		meta["max_views"] = strconv.Itoa(*g.MaxViews)
	}
	if err := s.record(ctx, audit.Event{
		TenantID: tenantID,
		GrantID:  g.ID,
		Type:     audit.EventGrantCreated,
		ActorID:  g.CreatedBy,
		Metadata: meta,
	}); err != nil {
		return Grant{}, err
	}
	return *g, nil
}

// AddScope appends a resource to an active grant.
func (s *Service) AddScope(ctx context.Context, tenantID, grantID, scopeType, scopeID, label, notes, actorID string) (Scope, error) {
	scopeType = strings.TrimSpace(scopeType)
	scopeID = strings.TrimSpace(scopeID)
	label = strings.TrimSpace(label)
	switch {
	case tenantID == "" || grantID == "":
		return Scope{}, fmt.Errorf("%w: tenant and grant are required", ErrInvalidInput)
	case scopeType == "":
		return Scope{}, fmt.Errorf("%w: scope_type is required", ErrInvalidInput)
	case scopeID == "":
		return Scope{}, fmt.Errorf("%w: scope_id is required", ErrInvalidInput)
	}
	if label == "" {
		label = scopeType + ":" + scopeID
	}

	g, err := s.store.Grants().Get(ctx, tenantID, grantID)
	if err != nil {
		return Scope{}, err
	}
	now := s.now().UTC()
	if g.EffectiveStatus(now) != StatusActive {
		return Scope{}, ErrGrantInactive
	}

	sc := &Scope{
		ID:        ids.New(),
		GrantID:   g.ID,
		TenantID:  tenantID,
		ScopeType: scopeType,
		ScopeID:   scopeID,
		Label:     label,
		Notes:     strings.TrimSpace(notes),
		CreatedAt: now,
	}
	if err := s.store.Scopes().Add(ctx, sc); err != nil {
		return Scope{}, err
	}
	if err := s.record(ctx, audit.Event{
		TenantID: tenantID,
		GrantID:  g.ID,
		Type:     audit.EventScopeAdded,
		ActorID:  audit.Actor(actorID),
		Metadata: map[string]string{"scope_id": sc.ID, "scope_type": scopeType, "resource_id": scopeID},
	}); err != nil {
		return Scope{}, err
	}
	return *sc, nil
}

// ListScopes returns the scopes of a tenant's grant in insertion order.
func (s *Service) ListScopes(ctx context.Context, tenantID, grantID string) ([]Scope, error) {
	if _, err := s.store.Grants().Get(ctx, tenantID, grantID); err != nil {
		return nil, err
	}
	return s.store.Scopes().List(ctx, tenantID, grantID)
}

// GetGrant returns a grant with its derived status and scopes.
func (s *Service) GetGrant(ctx context.Context, tenantID, grantID string) (GrantView, error) {
	g, err := s.store.Grants().Get(ctx, tenantID, grantID)
	if err != nil {
		return GrantView{}, err
	}
	scopes, err := s.store.Scopes().List(ctx, tenantID, grantID)
	if err != nil {
		return GrantView{}, err
	}
	g.Status = g.EffectiveStatus(s.now())
	return GrantView{Grant: *g, Scopes: scopes}, nil
}

// ListGrants returns the tenant's grants, newest first, with derived status.
func (s *Service) ListGrants(ctx context.Context, tenantID string) ([]Grant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	grants, err := s.store.Grants().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range grants {
		grants[i].Status = grants[i].EffectiveStatus(now)
	}
	return grants, nil
}

// ListTokens returns the stored tokens of a grant with derived status.
func (s *Service) ListTokens(ctx context.Context, tenantID, grantID string) ([]Token, error) {
	if _, err := s.store.Grants().Get(ctx, tenantID, grantID); err != nil {
		return nil, err
	}
	tokens, err := s.store.Tokens().List(ctx, tenantID, grantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range tokens {
		tokens[i].Status = tokens[i].EffectiveStatus(now)
	}
	return tokens, nil
}

// Events returns the audit trail of a tenant's grant.
func (s *Service) Events(ctx context.Context, tenantID, grantID string, limit int) ([]audit.Event, error) {
	if _, err := s.store.Grants().Get(ctx, tenantID, grantID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []audit.Event{}, nil
	}
	return s.audit.List(ctx, tenantID, grantID, limit)
}

// CreateToken issues a share token for an active grant. The raw token is only
// present in the returned value.
func (s *Service) CreateToken(ctx context.Context, tenantID, grantID string, opts TokenOptions) (IssuedToken, error) {
	if tenantID == "" || grantID == "" {
		return IssuedToken{}, fmt.Errorf("%w: tenant and grant are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	if !opts.ExpiresAt.IsZero() && !opts.ExpiresAt.After(now) {
		return IssuedToken{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	g, err := s.store.Grants().Get(ctx, tenantID, grantID)
	if err != nil {
		return IssuedToken{}, err
	}
	if g.EffectiveStatus(now) != StatusActive {
		return IssuedToken{}, ErrGrantInactive
	}

	expiresAt := g.ExpiresAt
	if !opts.ExpiresAt.IsZero() && opts.ExpiresAt.Before(expiresAt) {
		expiresAt = opts.ExpiresAt.UTC()
	}

	raw, err := newRawToken()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("access: generate token: %w", err)
	}
	tok := &Token{
		ID:        ids.New(),
		GrantID:   g.ID,
		TenantID:  tenantID,
		TokenHash: HashToken(raw),
		Status:    StatusActive,
		ExpiresAt: expiresAt,
		CreatedBy: audit.Actor(opts.ActorID),
		CreatedAt: now,
	}
	if err := s.store.Tokens().Create(ctx, tok); err != nil {
		return IssuedToken{}, err
	}
	if err := s.record(ctx, audit.Event{
		TenantID: tenantID,
		GrantID:  g.ID,
		TokenID:  tok.ID,
		Type:     audit.EventTokenCreated,
		ActorID:  tok.CreatedBy,
		Metadata: map[string]string{"expires_at": expiresAt.Format(time.RFC3339)},
	}); err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: *tok, RawToken: raw, ShareURL: s.shareURL(raw)}, nil
}

// ValidateToken checks a portal access attempt. Checks run in a fixed order:
// rate limit, token lookup, grant state, token state, view ceiling, passcode.
// A denial is reported through the result, never as an error; the error is
// reserved for storage faults. Every attempt leaves an audit event.
func (s *Service) ValidateToken(ctx context.Context, req ValidateRequest) (ValidationResult, error) {
	raw := strings.TrimSpace(req.RawToken)
	if raw == "" || len(raw) > maxRawTokenLen {
		return ValidationResult{}, fmt.Errorf("%w: token is missing or malformed", ErrInvalidInput)
	}
	hash := HashToken(raw)
	now := s.now().UTC()

	decision, err := s.limiter.Check(ctx, req.ClientIP, hash)
	if err != nil {
		// A limiter outage must not lock every viewer out.
		obs.Warn("rate limiter unavailable", map[string]any{"error": err.Error()})
	} else if !decision.Allowed {
		res := ValidationResult{Denial: DenyRateLimited, RetryAfter: decision.RetryAfter}
		return res, s.deny(ctx, res, req.ClientIP, hash)
	}

	tok, err := s.store.Tokens().GetByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		res := ValidationResult{Denial: DenyNotFound}
		return res, s.deny(ctx, res, req.ClientIP, hash)
	}
	if err != nil {
		return ValidationResult{}, err
	}
	res := ValidationResult{
		TenantID:       tok.TenantID,
		GrantID:        tok.GrantID,
		TokenID:        tok.ID,
		TokenExpiresAt: tok.ExpiresAt,
	}

	g, err := s.store.Grants().GetByID(ctx, tok.GrantID)
	if errors.Is(err, ErrNotFound) {
		res.Denial = DenyNotFound
		return res, s.deny(ctx, res, req.ClientIP, hash)
	}
	if err != nil {
		return ValidationResult{}, err
	}
	res.GrantType = g.Type
	res.GrantExpiresAt = g.ExpiresAt

	switch {
	case g.EffectiveStatus(now) == StatusRevoked:
		res.Denial = DenyGrantRevoked
	case g.EffectiveStatus(now) == StatusExpired:
		res.Denial = DenyGrantExpired
	case tok.EffectiveStatus(now) == StatusRevoked:
		res.Denial = DenyTokenRevoked
	case tok.EffectiveStatus(now) == StatusExpired:
		res.Denial = DenyTokenExpired
	case g.ViewsExhausted():
		res.Denial = DenyMaxViews
	case g.RequirePasscode && req.Passcode == "":
		res.Denial = DenyPasscodeRequired
	case g.RequirePasscode && auth.VerifySecret(g.PasscodeHash, req.Passcode) != nil:
		res.Denial = DenyPasscodeInvalid
	}
	if res.Denial != "" {
		return res, s.deny(ctx, res, req.ClientIP, hash)
	}

	counted, err := s.store.Grants().IncrementViews(ctx, g.ID)
	if err != nil {
		return ValidationResult{}, err
	}
	if !counted {
		// lost a race with a revoke or with the last permitted view
		res.Denial = DenyMaxViews
		if cur, err := s.store.Grants().GetByID(ctx, g.ID); err == nil && cur.Status == StatusRevoked {
			res.Denial = DenyGrantRevoked
		}
		return res, s.deny(ctx, res, req.ClientIP, hash)
	}

	scopes, err := s.store.Scopes().List(ctx, g.TenantID, g.ID)
	if err != nil {
		return ValidationResult{}, err
	}
	res.Scopes = scopes

	obs.Validations.WithLabelValues("validated").Inc()
	if err := s.record(ctx, audit.Event{
		TenantID: res.TenantID,
		GrantID:  res.GrantID,
		TokenID:  res.TokenID,
		Type:     audit.EventTokenValidated,
		Metadata: map[string]string{"client_ip": req.ClientIP, "scopes": strconv.Itoa(len(scopes))},
	}); err != nil {
		return ValidationResult{}, err
	}
	return res, nil
}

// deny records a denied attempt. Only a hash prefix identifies unknown tokens.
func (s *Service) deny(ctx context.Context, res ValidationResult, clientIP, hash string) error {
	obs.Validations.WithLabelValues(string(res.Denial)).Inc()
	meta := map[string]string{
		"reason":    string(res.Denial),
		"client_ip": clientIP,
	}
	if res.TokenID == "" {
		meta["token_hash_prefix"] = hash[:12]
	}
	return s.record(ctx, audit.Event{
		TenantID: res.TenantID,
		GrantID:  res.GrantID,
		TokenID:  res.TokenID,
		Type:     audit.EventTokenDenied,
		Metadata: meta,
	})
}

// SessionScopes re-checks that the grant and token behind a portal session
// are still active and returns the grant's scopes. ErrGrantInactive covers
// revocation and expiry of either.
func (s *Service) SessionScopes(ctx context.Context, tenantID, grantID, tokenID string) (GrantView, error) {
	g, err := s.store.Grants().Get(ctx, tenantID, grantID)
	if err != nil {
		return GrantView{}, err
	}
	tok, err := s.store.Tokens().Get(ctx, tenantID, tokenID)
	if err != nil {
		return GrantView{}, err
	}
	now := s.now()
	if tok.GrantID != g.ID || g.EffectiveStatus(now) != StatusActive || tok.EffectiveStatus(now) != StatusActive {
		return GrantView{}, ErrGrantInactive
	}
	scopes, err := s.store.Scopes().List(ctx, tenantID, grantID)
	if err != nil {
		return GrantView{}, err
	}
	g.Status = StatusActive
	return GrantView{Grant: *g, Scopes: scopes}, nil
}

// RevokeToken revokes one share token. Revoking a revoked token is a no-op.
func (s *Service) RevokeToken(ctx context.Context, tenantID, tokenID, actorID, reason string) (Token, error) {
	tok, err := s.store.Tokens().Get(ctx, tenantID, tokenID)
	if err != nil {
		return Token{}, err
	}
	if tok.Status == StatusRevoked {
		return *tok, nil
	}
	now := s.now().UTC()
	if err := s.store.Tokens().Revoke(ctx, tenantID, tokenID, now); err != nil {
		return Token{}, err
	}
	tok.Status = StatusRevoked
	tok.RevokedAt = &now
	if err := s.record(ctx, audit.Event{
		TenantID: tenantID,
		GrantID:  tok.GrantID,
		TokenID:  tok.ID,
		Type:     audit.EventTokenRevoked,
		ActorID:  audit.Actor(actorID),
		Metadata: map[string]string{"reason": strings.TrimSpace(reason)},
	}); err != nil {
		return Token{}, err
	}
	return *tok, nil
}

// RevokeGrant revokes a grant and all of its tokens. Revoking a revoked grant
// is a no-op.
func (s *Service) RevokeGrant(ctx context.Context, tenantID, grantID, actorID, reason string) (Grant, error) {
	g, err := s.store.Grants().Get(ctx, tenantID, grantID)
	if err != nil {
		return Grant{}, err
	}
	if g.Status == StatusRevoked {
		return *g, nil
	}
	now := s.now().UTC()
	reason = strings.TrimSpace(reason)
	n, err := s.store.Grants().Revoke(ctx, tenantID, grantID, audit.Actor(actorID), reason, now)
	if err != nil {
		return Grant{}, err
	}
	g.Status = StatusRevoked
	g.RevokedAt = &now
	g.RevokedBy = audit.Actor(actorID)
	g.RevokeReason = reason
	if err := s.record(ctx, audit.Event{
		TenantID: tenantID,
		GrantID:  g.ID,
		Type:     audit.EventGrantRevoked,
		ActorID:  g.RevokedBy,
		Metadata: map[string]string{"reason": reason, "tokens_revoked": strconv.Itoa(n)},
	}); err != nil {
		return Grant{}, err
	}
	return *g, nil
}

func (s *Service) record(ctx context.Context, ev audit.Event) error {
	if s.audit == nil {
		return nil
	}
	if _, err := s.audit.Record(ctx, ev); err != nil {
		return fmt.Errorf("access: record %s: %w", ev.Type, err)
	}
	return nil
}

func (s *Service) shareURL(raw string) string {
	return s.shareBase + PortalPath + "?token=" + url.QueryEscape(raw)
}

func newRawToken() (string, error) {
	var b [rawTokenBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
