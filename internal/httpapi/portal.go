package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"authority.dev/internal/access"
)

const (
	passcodeHeader = "X-Authority-Passcode"
	// deniedMessage is the only denial text a portal caller ever sees.
	deniedMessage = "invalid or expired"
)

type portalRequest struct {
	Token    string `json:"token"`
	Passcode string `json:"passcode"`
}

type portalGrant struct {
	ID        string           `json:"id"`
	Type      access.GrantType `json:"type"`
	Title     string           `json:"title,omitempty"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type portalResponse struct {
	SessionToken string         `json:"session_token"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Grant        portalGrant    `json:"grant"`
	Scopes       []access.Scope `json:"scopes"`
}

// handlePortal validates a share token (and passcode) and mints a session.
func (a *API) handlePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	w.Header().Set("Cache-Control", "no-store")

	var req portalRequest
	if r.Method == http.MethodPost {
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = req.Token
	}
	passcode := req.Passcode
	if passcode == "" {
		passcode = r.Header.Get(passcodeHeader)
	}

	res, err := a.access.ValidateToken(r.Context(), access.ValidateRequest{
		RawToken: raw,
		Passcode: passcode,
		ClientIP: clientIP(r),
	})
	if err != nil {
		if errors.Is(err, access.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		handleAccessError(w, r, err)
		return
	}
	if res.Denial == access.DenyRateLimited {
		w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
		writeError(w, r, http.StatusTooManyRequests, deniedMessage)
		return
	}
	if !res.Valid() {
		writeError(w, r, http.StatusUnauthorized, deniedMessage)
		return
	}

	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "portal sessions unavailable")
		return
	}
	issued, err := a.sessions.Create(res)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, deniedMessage)
		return
	}
	writeJSON(w, http.StatusOK, portalResponse{
		SessionToken: issued.Token,
		ExpiresAt:    issued.ExpiresAt,
		Grant: portalGrant{
			ID:        res.GrantID,
			Type:      res.GrantType,
			ExpiresAt: res.GrantExpiresAt,
		},
		Scopes: nonNilScopes(res.Scopes),
	})
}

// handlePortalSession re-checks a session and returns what it may view.
func (a *API) handlePortalSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "portal sessions unavailable")
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, deniedMessage)
		return
	}
	sess, ok := a.sessions.Verify(token)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, deniedMessage)
		return
	}
	view, err := a.access.SessionScopes(r.Context(), sess.TenantID, sess.GrantID, sess.TokenID)
	if err != nil {
		if errors.Is(err, access.ErrGrantInactive) || errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, deniedMessage)
			return
		}
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portalResponse{
		ExpiresAt: sess.ExpiresAt,
		Grant: portalGrant{
			ID:        view.ID,
			Type:      view.Type,
			Title:     strings.TrimSpace(view.Title),
			ExpiresAt: view.ExpiresAt,
		},
		Scopes: nonNilScopes(view.Scopes),
	})
}

func nonNilScopes(s []access.Scope) []access.Scope {
	if s == nil {
		return []access.Scope{}
	}
	return s
}
