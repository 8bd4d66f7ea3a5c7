package access

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"authority.dev/internal/audit"
	"authority.dev/internal/ratelimit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	store  *InMemory
	events *audit.MemoryStore
	clock  *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := NewInMemory()
	events := audit.NewMemoryStore()
	rec := audit.NewRecorder(events, audit.WithRecorderClock(clock.Now))
	base := []Option{
		WithClock(clock.Now),
		WithPasscodeCost(4),
		WithShareBaseURL("https://claims.example.com/"),
	}
	svc := NewService(store, rec, append(base, opts...)...)
	return &fixture{svc: svc, store: store, events: events, clock: clock}
}

func (f *fixture) grant(t *testing.T, opts GrantOptions) Grant {
	t.Helper()
	g, err := f.svc.CreateGrant(context.Background(), "tenant-1", GrantAdjuster, "Water damage claim 4471",
		f.clock.Now().Add(7*24*time.Hour), opts)
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	return g
}

func (f *fixture) token(t *testing.T, grantID string) IssuedToken {
	t.Helper()
	it, err := f.svc.CreateToken(context.Background(), "tenant-1", grantID, TokenOptions{ActorID: "op-1"})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return it
}

func (f *fixture) validate(t *testing.T, raw, passcode string) ValidationResult {
	t.Helper()
	res, err := f.svc.ValidateToken(context.Background(), ValidateRequest{RawToken: raw, Passcode: passcode, ClientIP: "203.0.113.10"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return res
}

func (f *fixture) eventTypes(t *testing.T, grantID string) []audit.EventType {
	t.Helper()
	evs, err := f.events.ListByGrant(context.Background(), "tenant-1", grantID, 0)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]audit.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func intPtr(v int) *int { return &v }

func TestCreateGrantRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.Now().Add(time.Hour)

	cases := []struct {
		name    string
		tenant  string
		typ     GrantType
		title   string
		expires time.Time
		opts    GrantOptions
	}{
		{"missing tenant", "", GrantLegal, "t", future, GrantOptions{}},
		{"unknown type", "tenant-1", GrantType("auditor"), "t", future, GrantOptions{}},
		{"blank title", "tenant-1", GrantLegal, "   ", future, GrantOptions{}},
		{"long title", "tenant-1", GrantLegal, strings.Repeat("x", 201), future, GrantOptions{}},
		{"past expiry", "tenant-1", GrantLegal, "t", f.clock.Now().Add(-time.Second), GrantOptions{}},
		{"zero max views", "tenant-1", GrantLegal, "t", future, GrantOptions{MaxViews: intPtr(0)}},
		{"passcode missing", "tenant-1", GrantLegal, "t", future, GrantOptions{RequirePasscode: true}},
		{"passcode not required", "tenant-1", GrantLegal, "t", future, GrantOptions{Passcode: "1234"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateGrant(ctx, tc.tenant, tc.typ, tc.title, tc.expires, tc.opts)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateGrantStoresPasscodeHashOnly(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{RequirePasscode: true, Passcode: "4471-river", ActorID: "op-1"})

	stored, err := f.store.Grants().Get(context.Background(), "tenant-1", g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasscodeHash == "" || strings.Contains(stored.PasscodeHash, "4471-river") {
		t.Fatalf("unexpected passcode hash %q", stored.PasscodeHash)
	}
	if !strings.HasPrefix(stored.PasscodeHash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", stored.PasscodeHash)
	}
	if stored.CreatedBy == nil || *stored.CreatedBy != "op-1" {
		t.Fatalf("created_by not recorded: %+v", stored.CreatedBy)
	}
	evs, _ := f.events.ListByGrant(context.Background(), "tenant-1", g.ID, 0)
	if len(evs) != 1 || evs[0].Type != audit.EventGrantCreated {
		t.Fatalf("unexpected events %+v", evs)
	}
	for k, v := range evs[0].Metadata {
		if strings.Contains(v, "4471-river") {
			t.Fatalf("passcode leaked into event metadata %q", k)
		}
	}
}

func TestCreateTokenExpiryIsCappedByGrant(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	ctx := context.Background()

	late, err := f.svc.CreateToken(ctx, "tenant-1", g.ID, TokenOptions{ExpiresAt: g.ExpiresAt.Add(48 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if !late.Token.ExpiresAt.Equal(g.ExpiresAt) {
		t.Fatalf("token outlives grant: %s vs %s", late.Token.ExpiresAt, g.ExpiresAt)
	}

	soon := f.clock.Now().Add(time.Hour)
	early, err := f.svc.CreateToken(ctx, "tenant-1", g.ID, TokenOptions{ExpiresAt: soon})
	if err != nil {
		t.Fatal(err)
	}
	if !early.Token.ExpiresAt.Equal(soon) {
		t.Fatalf("expected requested expiry, got %s", early.Token.ExpiresAt)
	}

	if _, err := f.svc.CreateToken(ctx, "tenant-1", g.ID, TokenOptions{ExpiresAt: f.clock.Now().Add(-time.Minute)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for past expiry, got %v", err)
	}
}

func TestCreateTokenShareURLAndHash(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	it := f.token(t, g.ID)

	if len(it.RawToken) != 43 {
		t.Fatalf("expected 43 char base64url token, got %d", len(it.RawToken))
	}
	if it.Token.TokenHash != HashToken(it.RawToken) || len(it.Token.TokenHash) != 64 {
		t.Fatalf("unexpected token hash %q", it.Token.TokenHash)
	}
	u, err := url.Parse(it.ShareURL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "claims.example.com" || u.Path != PortalPath || u.Query().Get("token") != it.RawToken {
		t.Fatalf("unexpected share url %s", it.ShareURL)
	}

	other := f.token(t, g.ID)
	if other.RawToken == it.RawToken {
		t.Fatal("tokens must be unique")
	}
}

func TestCreateTokenRequiresActiveGrantOfTenant(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	ctx := context.Background()

	if _, err := f.svc.CreateToken(ctx, "tenant-2", g.ID, TokenOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant token: %v", err)
	}
	if _, err := f.svc.RevokeGrant(ctx, "tenant-1", g.ID, "op-1", "closed"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateToken(ctx, "tenant-1", g.ID, TokenOptions{}); !errors.Is(err, ErrGrantInactive) {
		t.Fatalf("token on revoked grant: %v", err)
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	ctx := context.Background()
	if _, err := f.svc.AddScope(ctx, "tenant-1", g.ID, "document", "doc-9", "Repair invoice", "", "op-1"); err != nil {
		t.Fatal(err)
	}
	it := f.token(t, g.ID)

	res := f.validate(t, it.RawToken, "")
	if !res.Valid() {
		t.Fatalf("expected valid, denial=%s", res.Denial)
	}
	if res.TenantID != "tenant-1" || res.GrantID != g.ID || res.TokenID != it.Token.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Scopes) != 1 || res.Scopes[0].ScopeID != "doc-9" {
		t.Fatalf("unexpected scopes %+v", res.Scopes)
	}

	view, err := f.svc.GetGrant(ctx, "tenant-1", g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Views != 1 {
		t.Fatalf("views = %d, want 1", view.Views)
	}
	types := f.eventTypes(t, g.ID)
	if types[len(types)-1] != audit.EventTokenValidated {
		t.Fatalf("last event %s", types[len(types)-1])
	}
}

func TestValidateTokenRejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"", "   ", strings.Repeat("a", 129)} {
		if _, err := f.svc.ValidateToken(context.Background(), ValidateRequest{RawToken: raw}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("raw %q: expected ErrInvalidInput, got %v", raw, err)
		}
	}
}

func TestValidateUnknownTokenIsDeniedAndRecorded(t *testing.T) {
	f := newFixture(t)
	res := f.validate(t, "not-a-real-token", "")
	if res.Valid() || res.Denial != DenyNotFound {
		t.Fatalf("expected not_found, got %+v", res)
	}
	evs, _ := f.events.ListByGrant(context.Background(), "", "", 0)
	if len(evs) != 1 || evs[0].Type != audit.EventTokenDenied {
		t.Fatalf("expected one denied event, got %+v", evs)
	}
	if evs[0].Metadata["reason"] != string(DenyNotFound) {
		t.Fatalf("reason %q", evs[0].Metadata["reason"])
	}
	for _, v := range evs[0].Metadata {
		if strings.Contains(v, "not-a-real-token") {
			t.Fatal("raw token leaked into audit metadata")
		}
	}
}

func TestRevokeTokenTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	it := f.token(t, g.ID)
	ctx := context.Background()

	if res := f.validate(t, it.RawToken, ""); !res.Valid() {
		t.Fatalf("pre-revoke denial %s", res.Denial)
	}
	revoked, err := f.svc.RevokeToken(ctx, "tenant-1", it.Token.ID, "op-1", "sent to wrong party")
	if err != nil {
		t.Fatal(err)
	}
	if revoked.Status != StatusRevoked || revoked.RevokedAt == nil {
		t.Fatalf("unexpected token %+v", revoked)
	}
	if res := f.validate(t, it.RawToken, ""); res.Denial != DenyTokenRevoked {
		t.Fatalf("expected token_revoked, got %q", res.Denial)
	}

	// Idempotent: no second revocation event.
	if _, err := f.svc.RevokeToken(ctx, "tenant-1", it.Token.ID, "op-1", "again"); err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, typ := range f.eventTypes(t, g.ID) {
		if typ == audit.EventTokenRevoked {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("token.revoked events = %d", n)
	}

	if _, err := f.svc.RevokeToken(ctx, "tenant-2", it.Token.ID, "op-1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant revoke: %v", err)
	}
}

func TestRevokeGrantCascadesToTokens(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	a := f.token(t, g.ID)
	b := f.token(t, g.ID)
	ctx := context.Background()

	revoked, err := f.svc.RevokeGrant(ctx, "tenant-1", g.ID, "op-2", "claim settled")
	if err != nil {
		t.Fatal(err)
	}
	if revoked.Status != StatusRevoked || revoked.RevokeReason != "claim settled" {
		t.Fatalf("unexpected grant %+v", revoked)
	}
	for _, it := range []IssuedToken{a, b} {
		if res := f.validate(t, it.RawToken, ""); res.Denial != DenyGrantRevoked {
			t.Fatalf("expected grant_revoked, got %q", res.Denial)
		}
	}
	tokens, err := f.svc.ListTokens(ctx, "tenant-1", g.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range tokens {
		if tok.Status != StatusRevoked {
			t.Fatalf("token %s still %s", tok.ID, tok.Status)
		}
	}
	evs, err := f.events.ListByGrant(ctx, "tenant-1", g.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	var revokes []audit.Event
	for _, ev := range evs {
		if ev.Type == audit.EventGrantRevoked {
			revokes = append(revokes, ev)
		}
	}
	if len(revokes) != 1 || revokes[0].Metadata["tokens_revoked"] != "2" || revokes[0].Metadata["reason"] != "claim settled" {
		t.Fatalf("unexpected revoke events %+v", revokes)
	}
	if _, err := f.svc.AddScope(ctx, "tenant-1", g.ID, "document", "d1", "", "", "op-2"); !errors.Is(err, ErrGrantInactive) {
		t.Fatalf("scope on revoked grant: %v", err)
	}
}

// revokingStore revokes a grant right after validation reads it, which is
// where a concurrent RevokeGrant can land.
type revokingStore struct {
	*InMemory
	once sync.Once
}

func (s *revokingStore) Grants() GrantStore {
	return revokingGrants{GrantStore: s.InMemory.Grants(), s: s}
}

type revokingGrants struct {
	GrantStore
	s *revokingStore
}

func (g revokingGrants) GetByID(ctx context.Context, id string) (*Grant, error) {
	gr, err := g.GrantStore.GetByID(ctx, id)
	if err == nil {
		g.s.once.Do(func() {
			_, _ = g.GrantStore.Revoke(ctx, gr.TenantID, id, nil, "concurrent", gr.CreatedAt)
		})
	}
	return gr, err
}

func TestValidateLosesRaceWithRevoke(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := &revokingStore{InMemory: NewInMemory()}
	events := audit.NewMemoryStore()
	svc := NewService(store, audit.NewRecorder(events, audit.WithRecorderClock(clock.Now)),
		WithClock(clock.Now), WithPasscodeCost(4))
	ctx := context.Background()

	g, err := svc.CreateGrant(ctx, "tenant-1", GrantGeneric, "Race", clock.Now().Add(time.Hour), GrantOptions{})
	if err != nil {
		t.Fatal(err)
	}
	it, err := svc.CreateToken(ctx, "tenant-1", g.ID, TokenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.ValidateToken(ctx, ValidateRequest{RawToken: it.RawToken, ClientIP: "203.0.113.10"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid() || res.Denial != DenyGrantRevoked {
		t.Fatalf("expected grant_revoked after concurrent revoke, got %+v", res)
	}
	cur, err := svc.GetGrant(ctx, "tenant-1", g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Grant.Views != 0 {
		t.Fatalf("view counted on a revoked grant: %d", cur.Grant.Views)
	}
}

func TestPasscodeGate(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{RequirePasscode: true, Passcode: "harbor-77"})
	it := f.token(t, g.ID)

	if res := f.validate(t, it.RawToken, ""); res.Denial != DenyPasscodeRequired {
		t.Fatalf("expected passcode_required, got %q", res.Denial)
	}
	if res := f.validate(t, it.RawToken, "harbor-78"); res.Denial != DenyPasscodeInvalid {
		t.Fatalf("expected passcode_invalid, got %q", res.Denial)
	}
	if res := f.validate(t, it.RawToken, "harbor-77"); !res.Valid() {
		t.Fatalf("expected success, got %q", res.Denial)
	}
	view, _ := f.svc.GetGrant(context.Background(), "tenant-1", g.ID)
	if view.Views != 1 {
		t.Fatalf("denied attempts must not count as views: %d", view.Views)
	}
}

func TestExpiryIsDerivedAtReadTime(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	short, err := f.svc.CreateToken(context.Background(), "tenant-1", g.ID, TokenOptions{ExpiresAt: f.clock.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	long := f.token(t, g.ID)

	f.clock.Advance(time.Hour)
	if res := f.validate(t, short.RawToken, ""); res.Denial != DenyTokenExpired {
		t.Fatalf("expected token_expired, got %q", res.Denial)
	}
	if res := f.validate(t, long.RawToken, ""); !res.Valid() {
		t.Fatalf("expected valid, got %q", res.Denial)
	}

	f.clock.Advance(7 * 24 * time.Hour)
	if res := f.validate(t, long.RawToken, ""); res.Denial != DenyGrantExpired {
		t.Fatalf("expected grant_expired, got %q", res.Denial)
	}
	view, _ := f.svc.GetGrant(context.Background(), "tenant-1", g.ID)
	if view.Status != StatusExpired {
		t.Fatalf("status %s, want expired", view.Status)
	}
}

func TestMaxViews(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{MaxViews: intPtr(2)})
	it := f.token(t, g.ID)

	for i := 0; i < 2; i++ {
		if res := f.validate(t, it.RawToken, ""); !res.Valid() {
			t.Fatalf("view %d denied: %q", i+1, res.Denial)
		}
	}
	if res := f.validate(t, it.RawToken, ""); res.Denial != DenyMaxViews {
		t.Fatalf("expected max_views_exceeded, got %q", res.Denial)
	}
}

func TestMaxViewsHoldsUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{MaxViews: intPtr(5)})
	it := f.token(t, g.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	valid := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ValidateToken(context.Background(), ValidateRequest{RawToken: it.RawToken, ClientIP: "198.51.100.4"})
			if err == nil && res.Valid() {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if valid != 5 {
		t.Fatalf("valid views = %d, want 5", valid)
	}
}

func TestDenialOrderPrefersGrantState(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{RequirePasscode: true, Passcode: "pin-0001", MaxViews: intPtr(1)})
	it := f.token(t, g.ID)
	ctx := context.Background()

	if _, err := f.svc.RevokeToken(ctx, "tenant-1", it.Token.ID, "op-1", ""); err != nil {
		t.Fatal(err)
	}
	if res := f.validate(t, it.RawToken, "wrong"); res.Denial != DenyTokenRevoked {
		t.Fatalf("expected token_revoked before passcode check, got %q", res.Denial)
	}
	if _, err := f.svc.RevokeGrant(ctx, "tenant-1", g.ID, "op-1", ""); err != nil {
		t.Fatal(err)
	}
	if res := f.validate(t, it.RawToken, "wrong"); res.Denial != DenyGrantRevoked {
		t.Fatalf("expected grant_revoked first, got %q", res.Denial)
	}
}

func TestValidateIsRateLimitedPerClientAndToken(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{RequirePasscode: true, Passcode: "correct-horse"})
	it := f.token(t, g.ID)

	for i := 1; i <= ratelimit.DefaultLimit; i++ {
		res := f.validate(t, it.RawToken, "guess")
		if res.Denial != DenyPasscodeInvalid {
			t.Fatalf("attempt %d: %q", i, res.Denial)
		}
	}
	res := f.validate(t, it.RawToken, "correct-horse")
	if res.Denial != DenyRateLimited {
		t.Fatalf("attempt 31: expected rate_limited, got %q", res.Denial)
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("retry after %s", res.RetryAfter)
	}

	other, err := f.svc.ValidateToken(context.Background(), ValidateRequest{RawToken: it.RawToken, Passcode: "correct-horse", ClientIP: "192.0.2.55"})
	if err != nil {
		t.Fatal(err)
	}
	if !other.Valid() {
		t.Fatalf("other client should not be limited: %q", other.Denial)
	}

	f.clock.Advance(ratelimit.DefaultWindow)
	if res := f.validate(t, it.RawToken, "correct-horse"); !res.Valid() {
		t.Fatalf("window should have reset: %q", res.Denial)
	}
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestLimiterOutageDoesNotBlockViewers(t *testing.T) {
	f := newFixture(t, WithLimiter(failingLimiter{}))
	g := f.grant(t, GrantOptions{})
	it := f.token(t, g.ID)
	if res := f.validate(t, it.RawToken, ""); !res.Valid() {
		t.Fatalf("expected valid, got %q", res.Denial)
	}
}

func TestListGrantsIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, GrantOptions{})
	f.clock.Advance(time.Minute)
	second := f.grant(t, GrantOptions{})
	if _, err := f.svc.CreateGrant(ctx, "tenant-2", GrantRegulator, "Audit", f.clock.Now().Add(time.Hour), GrantOptions{}); err != nil {
		t.Fatal(err)
	}

	grants, err := f.svc.ListGrants(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 2 || grants[0].ID != second.ID {
		t.Fatalf("unexpected grants %+v", grants)
	}
	if _, err := f.svc.GetGrant(ctx, "tenant-2", second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read: %v", err)
	}
	if _, err := f.svc.Events(ctx, "tenant-2", second.ID, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant events: %v", err)
	}
}

func TestGrantLifecycleEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.grant(t, GrantOptions{Description: "Adjuster review", ActorID: "op-1"})
	if _, err := f.svc.AddScope(ctx, "tenant-1", g.ID, "claim", "clm-4471", "Claim 4471", "", "op-1"); err != nil {
		t.Fatal(err)
	}
	sc, err := f.svc.AddScope(ctx, "tenant-1", g.ID, "document", "doc-12", "", "photos", "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if sc.Label != "document:doc-12" {
		t.Fatalf("default label %q", sc.Label)
	}
	it := f.token(t, g.ID)

	res := f.validate(t, it.RawToken, "")
	if !res.Valid() || len(res.Scopes) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := f.svc.RevokeGrant(ctx, "tenant-1", g.ID, "op-1", "done"); err != nil {
		t.Fatal(err)
	}
	if res := f.validate(t, it.RawToken, ""); res.Valid() {
		t.Fatal("revoked grant still validates")
	}

	evs, err := f.svc.Events(ctx, "tenant-1", g.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []audit.EventType{
		audit.EventGrantCreated,
		audit.EventScopeAdded,
		audit.EventScopeAdded,
		audit.EventTokenCreated,
		audit.EventTokenValidated,
		audit.EventGrantRevoked,
		audit.EventTokenDenied,
	}
	if len(evs) != len(want) {
		t.Fatalf("events = %d, want %d", len(evs), len(want))
	}
	for i, ev := range evs {
		if ev.Type != want[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
	if evs[6].Metadata["reason"] != string(DenyGrantRevoked) {
		t.Fatalf("denied reason %q", evs[6].Metadata["reason"])
	}
}

func TestSessionScopesFollowRevocation(t *testing.T) {
	f := newFixture(t)
	g := f.grant(t, GrantOptions{})
	ctx := context.Background()
	if _, err := f.svc.AddScope(ctx, "tenant-1", g.ID, "claim", "clm-1", "Claim", "", "op-1"); err != nil {
		t.Fatal(err)
	}
	it := f.token(t, g.ID)

	view, err := f.svc.SessionScopes(ctx, "tenant-1", g.ID, it.Token.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Scopes) != 1 {
		t.Fatalf("scopes %+v", view.Scopes)
	}
	if _, err := f.svc.RevokeToken(ctx, "tenant-1", it.Token.ID, "op-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SessionScopes(ctx, "tenant-1", g.ID, it.Token.ID); !errors.Is(err, ErrGrantInactive) {
		t.Fatalf("expected ErrGrantInactive, got %v", err)
	}
}
