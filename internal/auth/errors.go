package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrNotConfigured = errors.New("auth: operator secret is not configured")
	ErrForbidden     = errors.New("auth: forbidden")
)
