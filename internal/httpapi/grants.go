package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authority.dev/internal/access"
)

type createGrantRequest struct {
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ExpiresAt       time.Time `json:"expires_at"`
	MaxViews        *int      `json:"max_views"`
	RequirePasscode bool      `json:"require_passcode"`
	Passcode        string    `json:"passcode"`
}

type addScopeRequest struct {
	ScopeType string `json:"scope_type"`
	ScopeID   string `json:"scope_id"`
	Label     string `json:"label"`
	Notes     string `json:"notes"`
}

type createTokenRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGrant(w, r)
	case http.MethodGet:
		a.listGrants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleGrantResource routes /v1/grants/{id}[/scopes|/tokens|/revoke|/events].
func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, action, _ := strings.Cut(path, "/")
	if strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getGrant(w, r, id)
	case "scopes":
		switch r.Method {
		case http.MethodPost:
			a.addScope(w, r, id)
		case http.MethodGet:
			a.listScopes(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "tokens":
		switch r.Method {
		case http.MethodPost:
			a.createToken(w, r, id)
		case http.MethodGet:
			a.listTokens(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeGrant(w, r, id)
	case "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listEvents(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleTokenResource routes /v1/tokens/{id}/revoke.
func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tokens/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" || action != "revoke" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req revokeRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, tenant := operator(r)
	tok, err := a.access.RevokeToken(r.Context(), tenant, id, actor, req.Reason)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExpiresAt.IsZero() {
		writeError(w, r, http.StatusBadRequest, "expires_at is required")
		return
	}

	actor, tenant := operator(r)
	g, err := a.access.CreateGrant(r.Context(), tenant,
		access.GrantType(strings.ToLower(strings.TrimSpace(req.Type))),
		req.Title, req.ExpiresAt,
		access.GrantOptions{
			Description:     req.Description,
			MaxViews:        req.MaxViews,
			RequirePasscode: req.RequirePasscode,
			Passcode:        req.Passcode,
			ActorID:         actor,
		})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/grants/"+g.ID)
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	_, tenant := operator(r)
	grants, err := a.access.ListGrants(r.Context(), tenant)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[access.Grant]{Items: grants})
}

func (a *API) getGrant(w http.ResponseWriter, r *http.Request, id string) {
	_, tenant := operator(r)
	view, err := a.access.GetGrant(r.Context(), tenant, id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) addScope(w http.ResponseWriter, r *http.Request, grantID string) {
	var req addScopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, tenant := operator(r)
	sc, err := a.access.AddScope(r.Context(), tenant, grantID, req.ScopeType, req.ScopeID, req.Label, req.Notes, actor)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (a *API) listScopes(w http.ResponseWriter, r *http.Request, grantID string) {
	_, tenant := operator(r)
	scopes, err := a.access.ListScopes(r.Context(), tenant, grantID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[access.Scope]{Items: scopes})
}

func (a *API) createToken(w http.ResponseWriter, r *http.Request, grantID string) {
	var req createTokenRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, tenant := operator(r)
	opts := access.TokenOptions{ActorID: actor}
	if req.ExpiresAt != nil {
		opts.ExpiresAt = *req.ExpiresAt
	}
	issued, err := a.access.CreateToken(r.Context(), tenant, grantID, opts)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, issued)
}

func (a *API) listTokens(w http.ResponseWriter, r *http.Request, grantID string) {
	_, tenant := operator(r)
	tokens, err := a.access.ListTokens(r.Context(), tenant, grantID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[access.Token]{Items: tokens})
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, grantID string) {
	var req revokeRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, tenant := operator(r)
	g, err := a.access.RevokeGrant(r.Context(), tenant, grantID, actor, req.Reason)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request, grantID string) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_, tenant := operator(r)
	events, err := a.access.Events(r.Context(), tenant, grantID, limit)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}
