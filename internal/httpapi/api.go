package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"authority.dev/internal/access"
	"authority.dev/internal/attest"
	"authority.dev/internal/keys"
	"authority.dev/internal/obs"
	"authority.dev/internal/session"
	"authority.dev/internal/stream"
)

const serviceName = "authority-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by the Postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: проверка готовности (ping хранилища, если оно есть).
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Access   *access.Service
	Sessions *session.Issuer
	Keys     *keys.Registry
	Attester *attest.Engine
	Events   *stream.Hub
	Ready    readinessChecker
	Version  string
}

// API: HTTP слой.
type API struct {
	mux      *http.ServeMux
	access   *access.Service
	sessions *session.Issuer
	keys     *keys.Registry
	attester *attest.Engine
	events   *stream.Hub
	ready    readinessChecker
	version  string

	rateBurst   int
	ratePerSec  int
	maxBody     int64
	corsOrigins []string
	proxies     []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket in front of every route.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithCORSOrigins allows browser calls from the listed origins.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = append([]string(nil), origins...) }
}

// WithTrustedProxies lists the peers allowed to set X-Forwarded-For. Without
// it the TCP peer address is the client address.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.proxies = append([]netip.Prefix(nil), prefixes...) }
}

func New(deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		access:     deps.Access,
		sessions:   deps.Sessions,
		keys:       deps.Keys,
		attester:   deps.Attester,
		events:     deps.Events,
		ready:      deps.Ready,
		version:    deps.Version,
		rateBurst:  50,
		ratePerSec: 20,
		maxBody:    8 << 20,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// operator API
	a.mux.Handle("/v1/grants", a.withOperator(http.HandlerFunc(a.handleGrantsCollection)))
	a.mux.Handle("/v1/grants/", a.withOperator(http.HandlerFunc(a.handleGrantResource)))
	a.mux.Handle("/v1/tokens/", a.withOperator(http.HandlerFunc(a.handleTokenResource)))
	a.mux.Handle("/v1/exports/attest", a.withOperator(http.HandlerFunc(a.handleAttestExport)))
	a.mux.Handle("/v1/events/stream", a.withOperator(http.HandlerFunc(a.handleEventStream)))

	// public
	a.mux.HandleFunc(access.PortalPath, a.handlePortal)
	a.mux.HandleFunc("/v1/portal/session", a.handlePortalSession)
	a.mux.HandleFunc("/v1/exports/verify", a.handleVerifyExport)
	a.mux.HandleFunc("/v1/attestation/health", a.handleAttestationHealth)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler возвращает http.Handler со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"can_attest": a.attester.CanAttest(),
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
