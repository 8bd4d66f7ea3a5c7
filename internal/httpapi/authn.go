package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authority.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var operatorRoles = []string{"operator", "admin"}

// withOperator requires an operator bearer token with an operator or admin role.
func (a *API) withOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusServiceUnavailable, "operator authentication unavailable")
			}
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		if !auth.HasAnyRole(ctx, operatorRoles...) {
			writeError(w, r, http.StatusForbidden, auth.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operator returns the authenticated operator and tenant.
func operator(r *http.Request) (userID, tenantID string) {
	userID, _ = auth.UserIDFromContext(r.Context())
	tenantID, _ = auth.TenantFromContext(r.Context())
	return userID, tenantID
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
