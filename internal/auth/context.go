package auth

import (
	"context"
	"strings"
)

type operatorKey struct{}

// ContextWithOperator stores op in ctx.
func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	op.ID = strings.TrimSpace(op.ID)
	op.TenantID = strings.TrimSpace(op.TenantID)
	op.Roles = normalizeRoles(op.Roles)
	return context.WithValue(ctx, operatorKey{}, op)
}

// ContextWithClaims stores the operator named by verified claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return ContextWithOperator(ctx, claims.Operator())
}

// OperatorFromContext returns the authenticated operator, if any.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	if !ok || op.ID == "" {
		return Operator{}, false
	}
	return op, true
}

// UserIDFromContext extracts the authenticated operator id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	op, ok := OperatorFromContext(ctx)
	return op.ID, ok
}

// TenantFromContext extracts the operator's tenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	op, ok := OperatorFromContext(ctx)
	if !ok || op.TenantID == "" {
		return "", false
	}
	return op.TenantID, true
}

// HasRole checks whether the operator in ctx holds role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	op, ok := OperatorFromContext(ctx)
	if !ok || role == "" {
		return false
	}
	for _, r := range op.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the operator in ctx holds at least one of roles.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	for _, role := range roles {
		if HasRole(ctx, role) {
			return true
		}
	}
	return false
}
